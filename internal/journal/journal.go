// Package journal owns the process-wide, append-only status log.
// One structured entry is written per descriptor transition; the file
// is opened O_APPEND and synced after every entry so a crash leaves a
// complete prefix.
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
)

// FileName of the orchestrator log inside the processed root.
const FileName = "autoproc.log"

type syncWriter struct {
	f *os.File
}

func (w syncWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.f.Sync()
}

// Journal is constructed once at process start and passed explicitly
// to every component; there is no package-level singleton.
type Journal struct {
	*slog.Logger
	f *os.File
}

// Open creates or appends to the journal file under dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(syncWriter{f}, nil))
	return &Journal{Logger: logger, f: f}, nil
}

func (j *Journal) Close() error { return j.f.Close() }

// Path returns the journal file location.
func (j *Journal) Path() string { return j.f.Name() }

// Transition records one descriptor status change.
func (j *Journal) Transition(d domain.RunDescriptor, from domain.Status) {
	attrs := []any{
		"run", d.Run,
		"from", string(from),
		"to", string(d.Status),
		"method", string(d.Method),
	}
	if d.Reason != "" {
		attrs = append(attrs, "reason", d.Reason)
	}
	if d.Status == domain.StatusFailed {
		j.Logger.Error("run status", attrs...)
		return
	}
	j.Logger.Info("run status", attrs...)
}
