package dispatch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/folders"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/geometry"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/runinfo"
)

// serialChunkSize bounds how many frames one indexing pass covers and
// serialSplitLines how many of those land in one sbatch job; together
// they keep individual jobs short enough for the shared partitions.
const (
	serialChunkSize  = 1000
	serialSplitLines = 250
)

// submitSerial renders the CrystFEL geometry, expands the raw frames
// into event lists and submits one indexamajig job per list slice.
func (dp *Dispatcher) submitSerial(ctx context.Context, desc domain.RunDescriptor, info runinfo.Info, paths folders.Paths) ([]domain.JobSubmission, error) {
	cr := dp.cfg.Crystallography

	geomPath := filepath.Join(paths.Dest, "geometry.geom")
	subs := geometry.SerialSubstitutions(info, cr.OrgX, cr.OrgY, cr.DistanceOffset, cr.DataH5Path)
	if err := dp.renderTemplate(ctx, desc.Run, cr.GeometryTemplate, geomPath, subs); err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}

	frames, err := collectFrames(desc.SourcePath)
	if err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}
	if len(frames) == 0 {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: fmt.Errorf("no data frames in %s", desc.SourcePath)}
	}

	events, err := dp.eventList(ctx, desc, geomPath, paths, frames)
	if err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}

	pl := dp.place(ctx)
	name := filepath.Base(desc.DestPath)
	cellFile := dp.cellFilePath(desc.SourcePath)

	var out []domain.JobSubmission
	job := 0
	for chunkStart := 0; chunkStart < len(events); chunkStart += serialChunkSize {
		chunk := events[chunkStart:min(chunkStart+serialChunkSize, len(events))]
		for partStart := 0; partStart < len(chunk); partStart += serialSplitLines {
			part := chunk[partStart:min(partStart+serialSplitLines, len(chunk))]

			tag := fmt.Sprintf("%s-%03d", name, job)
			listPath := filepath.Join(paths.Dest, "events-"+tag+".lst")
			if err := os.WriteFile(listPath, []byte(strings.Join(part, "\n")+"\n"), 0o644); err != nil {
				return out, &domain.SubmissionError{Run: desc.Run, Err: fmt.Errorf("write event list: %w", err)}
			}

			stream := filepath.Join(paths.StreamsDir, tag+".stream")
			batch := BatchScript{
				JobName:     tag,
				Partition:   pl.partition,
				Reservation: pl.reservation,
				Nodes:       1,
				Chdir:       paths.Dest,
				Output:      filepath.Join(paths.ErrorDir, tag+".out"),
				Error:       filepath.Join(paths.ErrorDir, tag+".err"),
				Time:        pl.time,
				Mem:         pl.mem,
				Nice:        pl.nice,
				Modules:     []string{"maxwell", "xray", "crystfel"},
				Commands: []string{
					indexamajigCommand(listPath, stream, geomPath, info.IndexingMethod, cellFile),
					"touch " + filepath.Join(paths.Dest, tag+".done"),
				},
			}
			sub, err := dp.submitScript(ctx, desc.Run, batch, filepath.Join(paths.Dest, tag+".sh"), pl.login)
			if err != nil {
				return out, err
			}
			out = append(out, sub)
			job++
		}
	}
	return out, nil
}

func indexamajigCommand(list, stream, geom, indexing, cellFile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "indexamajig -i %s -o %s -j 80 -g %s", list, stream, geom)
	b.WriteString(" --int-radius=3,6,8 --peaks=peakfinder8 --min-snr=8 --min-res=10 --max-res=1200")
	b.WriteString(" --threshold=5 --min-pix-count=1 --max-pix-count=10 --min-peaks=15 --local-bg-radius=3")
	fmt.Fprintf(&b, " --indexing=%s --no-check-cell --multi", indexing)
	if cellFile != "" {
		b.WriteString(" -p " + cellFile)
	}
	return b.String()
}

// eventList resolves the frame files to the lines indexamajig reads.
// CBF frames are one event per file; HDF5 containers hold many events
// each and go through list_events first.
func (dp *Dispatcher) eventList(ctx context.Context, desc domain.RunDescriptor, geomPath string, paths folders.Paths, frames []string) ([]string, error) {
	hasH5 := false
	for _, f := range frames {
		if strings.HasSuffix(f, ".h5") || strings.HasSuffix(f, ".cxi") {
			hasH5 = true
			break
		}
	}
	if !hasH5 {
		return frames, nil
	}

	inPath := filepath.Join(paths.Dest, "input_files.lst")
	if err := os.WriteFile(inPath, []byte(strings.Join(frames, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write input list: %w", err)
	}
	outPath := filepath.Join(paths.Dest, "events.lst")
	if _, err := dp.slurm.runner.Run(ctx, "list_events", "-i", inPath, "-g", geomPath, "-o", outPath); err != nil {
		return nil, fmt.Errorf("list_events: %w", err)
	}
	text, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read event list: %w", err)
	}
	var events []string
	for _, line := range strings.Split(string(text), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			events = append(events, line)
		}
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("list_events produced no events for %s", desc.SourcePath)
	}
	return events, nil
}

// cellFilePath resolves the cell file like unitCell does but keeps the
// path: indexamajig takes the file, not the parsed constants.
func (dp *Dispatcher) cellFilePath(rawDir string) string {
	if f := dp.cfg.Crystallography.CellFile; f != "" {
		return f
	}
	return geometry.FindCellFile(rawDir)
}

// collectFrames gathers the data files of a run, sorted so event lists
// and job numbering are stable between reruns.
func collectFrames(rawDir string) ([]string, error) {
	var frames []string
	err := filepath.WalkDir(rawDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cbf", ".h5", ".cxi":
			frames = append(frames, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rawDir, err)
	}
	sort.Strings(frames)
	return frames, nil
}
