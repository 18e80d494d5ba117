package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/folders"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/geometry"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/runinfo"
)

// wedgeFrameRe matches grid-scan CBF names: <prefix>_<position>_<frame>.
var wedgeFrameRe = regexp.MustCompile(`^(.*)_(\d{6})_(\d{5})\.cbf$`)

// wedge is one grid position's frame range.
type wedge struct {
	prefix   string
	position string
	first    int
	last     int
}

// submitWedges splits a grid-step scan into per-position wedges and
// submits a two-pass XDS job for each. The first position's solution
// becomes the reference data set for every later position so all
// wedges index in a common setting.
func (dp *Dispatcher) submitWedges(ctx context.Context, desc domain.RunDescriptor, info runinfo.Info, paths folders.Paths) ([]domain.JobSubmission, error) {
	cr := dp.cfg.Crystallography
	if cr.XDSWedgesTemplate == "" {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: fmt.Errorf("grid-step run but crystallography.XDS_INP_wedges_template is not set")}
	}

	wedges, err := groupWedges(desc.SourcePath)
	if err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}
	if len(wedges) == 0 {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: fmt.Errorf("no grid-scan frames in %s", desc.SourcePath)}
	}

	pl := dp.place(ctx)
	if dp.maxwell() {
		pl.partition = "allcpu,upex"
		pl.time = "12:00:00"
	}

	cell := dp.unitCell(desc.SourcePath)
	runName := filepath.Base(desc.DestPath)

	var out []domain.JobSubmission
	reference := ""
	for i, w := range wedges {
		xdsDir := filepath.Join(paths.Dest, w.position, "xds")
		if err := os.MkdirAll(xdsDir, 0o777); err != nil {
			return out, &domain.SubmissionError{Run: desc.Run, Err: &domain.FolderError{Path: xdsDir, Err: err}}
		}

		posInt, _ := strconv.Atoi(w.position)
		frameTemplate := filepath.Join(desc.SourcePath, fmt.Sprintf("%s_%s_?????.cbf", w.prefix, w.position))
		subs := geometry.WedgeSubstitutions(info, cr.OrgX, cr.OrgY, cr.DistanceOffset,
			frameTemplate, cell, posInt, w.first, w.last, reference)
		if err := dp.renderTemplate(ctx, desc.Run, cr.XDSWedgesTemplate, filepath.Join(xdsDir, "XDS.INP"), subs); err != nil {
			return out, &domain.SubmissionError{Run: desc.Run, Err: err}
		}

		tag := runName + "_" + w.position
		batch := BatchScript{
			JobName:     tag,
			Partition:   pl.partition,
			Reservation: pl.reservation,
			Nodes:       1,
			Chdir:       xdsDir,
			Output:      filepath.Join(xdsDir, tag+".out"),
			Error:       filepath.Join(xdsDir, tag+".err"),
			Time:        pl.time,
			Mem:         pl.mem,
			Nice:        pl.nice,
			Modules:     []string{"xray"},
			Commands:    wedgeCommands(dp.cfg.RotationalCommand()),
		}
		sub, err := dp.submitScript(ctx, desc.Run, batch, filepath.Join(xdsDir, tag+".sh"), pl.login)
		if err != nil {
			return out, err
		}
		out = append(out, sub)

		if i == 0 {
			reference = filepath.Join(xdsDir, "XDS_ASCII.HKL")
		}
	}
	return out, nil
}

// wedgeCommands runs XDS twice: the first pass indexes, the second
// integrates against the refined parameters with the indexing steps
// cut out of the JOB card.
func wedgeCommands(command string) []string {
	return []string{
		command,
		"sleep 10",
		"cp GXPARM.XDS XPARM.XDS",
		"cp XDS_ASCII.HKL XDS_ASCII.HKL_1",
		"mv CORRECT.LP CORRECT.LP_1",
		`sed -i "s/JOB= XYCORR INIT COLSPOT IDXREF DEFPIX INTEGRATE CORRECT/JOB= DEFPIX INTEGRATE CORRECT/" XDS.INP`,
		command,
	}
}

// groupWedges scans the run folder and collapses the grid-scan frames
// into one frame range per position, sorted by position.
func groupWedges(rawDir string) ([]wedge, error) {
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rawDir, err)
	}

	byPosition := map[string]*wedge{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := wedgeFrameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		frame, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		w, ok := byPosition[m[2]]
		if !ok {
			byPosition[m[2]] = &wedge{prefix: m[1], position: m[2], first: frame, last: frame}
			continue
		}
		if frame < w.first {
			w.first = frame
		}
		if frame > w.last {
			w.last = frame
		}
	}

	positions := make([]string, 0, len(byPosition))
	for pos := range byPosition {
		positions = append(positions, pos)
	}
	sort.Strings(positions)

	wedges := make([]wedge, 0, len(positions))
	for _, pos := range positions {
		wedges = append(wedges, *byPosition[pos])
	}
	return wedges, nil
}
