// Package folders maintains the processed-data tree that mirrors the
// raw layout, and the per-run completion markers discovery keys on.
package folders

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
)

// MarkerFile flags a run whose processing has been submitted to
// completion; its presence makes discovery skip the run.
const MarkerFile = "flag.txt"

// xdsResultFiles also count as completion: their presence means XDS
// already ran in this destination.
var xdsResultFiles = []string{"CORRECT.LP", "XYCORR.LP"}

// Paths names the per-run working directories the dispatchers use.
type Paths struct {
	Dest string
	// XDSDir holds XDS.INP and the XDS run for rotation data.
	XDSDir string
	// StreamsDir, ErrorDir and JoinedStreamDir serve serial runs.
	StreamsDir      string
	ErrorDir        string
	JoinedStreamDir string
}

// Ensure creates the destination tree for a descriptor. It is
// idempotent; only unrecoverable filesystem errors are returned, as
// FolderErrors that fail the one descriptor without stopping the
// batch.
func Ensure(d domain.RunDescriptor) (Paths, error) {
	p := Paths{
		Dest:            d.DestPath,
		XDSDir:          filepath.Join(d.DestPath, "xds"),
		StreamsDir:      filepath.Join(d.DestPath, "streams"),
		ErrorDir:        filepath.Join(d.DestPath, "error"),
		JoinedStreamDir: filepath.Join(d.DestPath, "j_stream"),
	}

	dirs := []string{p.Dest}
	switch d.Method {
	case domain.MethodRotational, domain.MethodWedges:
		dirs = append(dirs, p.XDSDir)
	case domain.MethodSerial:
		dirs = append(dirs, p.StreamsDir, p.ErrorDir, p.JoinedStreamDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return Paths{}, &domain.FolderError{Path: dir, Err: err}
		}
	}
	return p, nil
}

// Done reports whether the destination carries a completion marker.
func Done(dest string) bool {
	names := append([]string{MarkerFile}, xdsResultFiles...)
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dest, name)); err == nil {
			return true
		}
	}
	return false
}

// MarkDone drops the completion marker into the destination.
func MarkDone(dest string) error {
	path := filepath.Join(dest, MarkerFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &domain.FolderError{Path: path, Err: err}
	}
	return f.Close()
}

// Clear removes prior output from a destination ahead of a forced
// re-run. Individual removal failures are collected into one error;
// the caller decides whether a partial clear is acceptable.
func Clear(dest string) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &domain.FolderError{Path: dest, Err: err}
	}
	var failed []string
	for _, e := range entries {
		path := filepath.Join(dest, e.Name())
		if err := os.RemoveAll(path); err != nil {
			failed = append(failed, e.Name())
		}
	}
	if len(failed) > 0 {
		return &domain.FolderError{Path: dest, Err: fmt.Errorf("could not remove %v", failed)}
	}
	return nil
}
