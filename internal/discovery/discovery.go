// Package discovery decides which raw runs need a processing job.
// It enumerates run folders in offline mode, resolves block lists, and
// waits for acquisition to finish in online mode; each candidate comes
// out as a RunDescriptor carrying its dispatch decision.
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/folders"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/runinfo"
)

// Discovery enumerates processable runs. Clock and sleep are
// injectable so the online wait can be tested without real delay.
type Discovery struct {
	RawRoot       string
	ProcessedRoot string
	Force         bool

	now   func() time.Time
	sleep func(time.Duration)
}

func New(rawRoot, processedRoot string, force bool) *Discovery {
	return &Discovery{
		RawRoot:       rawRoot,
		ProcessedRoot: processedRoot,
		Force:         force,
		now:           time.Now,
		sleep:         time.Sleep,
	}
}

// WithClock replaces the wall clock and sleeper, for tests.
func (d *Discovery) WithClock(now func() time.Time, sleep func(time.Duration)) *Discovery {
	d.now = now
	d.sleep = sleep
	return d
}

// AllRuns walks the raw tree and returns a descriptor for every run
// folder that is not yet done. Output is sorted lexicographically by
// relative path so repeated invocations over an unchanged tree process
// in the same order. Runs already carrying a completion marker are
// skipped entirely unless force re-queues them.
func (d *Discovery) AllRuns() ([]domain.RunDescriptor, error) {
	var rels []string
	err := filepath.WalkDir(d.RawRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if !usableRunFolder(path) {
			return nil
		}
		rel, err := filepath.Rel(d.RawRoot, path)
		if err != nil {
			return err
		}
		rels = append(rels, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk raw tree: %w", err)
	}
	sort.Strings(rels)

	var out []domain.RunDescriptor
	for _, rel := range rels {
		dest := filepath.Join(d.ProcessedRoot, rel)
		if folders.Done(dest) && !d.Force {
			continue
		}
		out = append(out, d.describe(rel))
	}
	return out, nil
}

// Block reads an ordered run list and returns one descriptor per
// line, in file order. A missing source becomes a failed descriptor
// with reason source-not-found; the rest of the block is unaffected.
func (d *Discovery) Block(listPath string) ([]domain.RunDescriptor, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("open block list: %w", err)
	}
	defer f.Close()

	var out []domain.RunDescriptor
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		rel, ok := d.resolve(name)
		if !ok {
			out = append(out, d.failed(name, domain.ReasonSourceNotFound))
			continue
		}
		out = append(out, d.describe(rel))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read block list: %w", err)
	}
	return out, nil
}

// Online waits for the acquisition of one explicit folder to finish,
// then returns its single descriptor. The wait is a bounded poll; when
// the deadline passes, or ctx is cancelled, the descriptor comes back
// failed with reason acquisition-timeout.
func (d *Discovery) Online(ctx context.Context, folder string, timeout, interval time.Duration) domain.RunDescriptor {
	rel, err := filepath.Rel(d.RawRoot, folder)
	if err != nil || strings.HasPrefix(rel, "..") {
		// The folder sits outside the raw root: mirror by base name.
		rel = filepath.Base(folder)
	}

	deadline := d.now().Add(timeout)
	for {
		if usableRunFolder(folder) {
			return d.describeAt(rel, folder)
		}
		if ctx.Err() != nil || !d.now().Before(deadline) {
			desc := d.failed(rel, domain.ReasonAcquisitionTimeout)
			desc.SourcePath = folder
			return desc
		}
		d.sleep(interval)
	}
}

// resolve maps a block-list entry to a run folder: an exact relative
// path wins, otherwise the first (sorted) run folder whose relative
// path contains the entry as a substring.
func (d *Discovery) resolve(name string) (string, bool) {
	direct := filepath.Join(d.RawRoot, name)
	if usableRunFolder(direct) {
		return name, true
	}

	var matches []string
	_ = filepath.WalkDir(d.RawRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.RawRoot, path)
		if relErr != nil {
			return nil
		}
		if strings.Contains(rel, name) && usableRunFolder(path) {
			matches = append(matches, rel)
		}
		return nil
	})
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

func (d *Discovery) describe(rel string) domain.RunDescriptor {
	return d.describeAt(rel, filepath.Join(d.RawRoot, rel))
}

func (d *Discovery) describeAt(rel, source string) domain.RunDescriptor {
	desc := domain.RunDescriptor{
		Run:        rel,
		SourcePath: source,
		DestPath:   filepath.Join(d.ProcessedRoot, rel),
		Force:      d.Force,
		Status:     domain.StatusPending,
	}
	info, err := runinfo.Load(source)
	if err != nil {
		desc.Status = domain.StatusFailed
		desc.Reason = domain.ReasonNoRunInfo
		if os.IsNotExist(err) {
			desc.Reason = domain.ReasonSourceNotFound
		}
		return desc
	}
	desc.Method = domain.DetectMethod(info.Method, info.FramesPerPosition)
	desc.FramesPerPosition = info.FramesPerPosition
	return desc
}

func (d *Discovery) failed(name, reason string) domain.RunDescriptor {
	return domain.RunDescriptor{
		Run:        name,
		SourcePath: filepath.Join(d.RawRoot, name),
		DestPath:   filepath.Join(d.ProcessedRoot, name),
		Force:      d.Force,
		Status:     domain.StatusFailed,
		Reason:     reason,
	}
}

// usableRunFolder reports whether a directory looks like a finished
// acquisition: a non-empty info.txt plus at least one more file.
func usableRunFolder(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, runinfo.FileName))
	if err != nil || st.Size() == 0 {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	files := 0
	for _, e := range entries {
		if !e.IsDir() {
			files++
		}
	}
	return files > 1
}
