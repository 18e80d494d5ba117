// Package dispatch turns a pending RunDescriptor into SLURM jobs.
// It renders the per-run processing inputs from the geometry
// templates, builds the sbatch scripts the external engines run under,
// and hands them to the scheduler; from then on SLURM owns the job.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/config"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/folders"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/geometry"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/runinfo"
)

// fallbackPartitions absorb work when the reservation is overloaded
// or the beamtime runs on shared Maxwell nodes.
const fallbackPartitions = "allcpu,upex,short"

// Archiver stores rendered inputs for provenance. Implementations
// must be safe to skip: archiving never blocks a submission.
type Archiver interface {
	StoreFile(ctx context.Context, run, localPath string) error
}

// Dispatcher submits processing jobs for descriptors. It is built
// once per batch and shares the immutable configuration.
type Dispatcher struct {
	cfg     *config.Config
	slurm   *SlurmClient
	log     *slog.Logger
	archive Archiver
	now     func() time.Time
}

func New(cfg *config.Config, slurm *SlurmClient, log *slog.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg, slurm: slurm, log: log, now: time.Now}
}

// WithArchiver attaches the optional provenance archive.
func (dp *Dispatcher) WithArchiver(a Archiver) *Dispatcher {
	dp.archive = a
	return dp
}

// WithClock replaces the timestamp source, for tests.
func (dp *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	dp.now = now
	return dp
}

// Submit builds and submits every job the descriptor's method calls
// for. All failures come back as SubmissionErrors so the batch driver
// can fail the one descriptor and move on.
func (dp *Dispatcher) Submit(ctx context.Context, desc domain.RunDescriptor, paths folders.Paths) ([]domain.JobSubmission, error) {
	info, err := runinfo.Load(desc.SourcePath)
	if err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}

	switch desc.Method {
	case domain.MethodRotational:
		return dp.submitRotational(ctx, desc, info, paths)
	case domain.MethodWedges:
		return dp.submitWedges(ctx, desc, info, paths)
	case domain.MethodSerial:
		return dp.submitSerial(ctx, desc, info, paths)
	default:
		return nil, &domain.SubmissionError{Run: desc.Run, Err: fmt.Errorf("unknown method %q", desc.Method)}
	}
}

// placement is the partition/reservation decision for one job.
type placement struct {
	partition   string
	reservation string
	time        string
	mem         string
	nice        string
	login       *SSHLogin
}

func (dp *Dispatcher) maxwell() bool {
	return dp.cfg.Maxwell || strings.Contains(dp.cfg.ReservedNodes, "maxwell")
}

func (dp *Dispatcher) loginNode() *SSHLogin {
	nodes := dp.cfg.ReservedNodes
	if nodes == "" || strings.Contains(nodes, "maxwell") {
		return nil
	}
	node := nodes
	if i := strings.Index(nodes, ","); i >= 0 {
		node = nodes[:i]
	}
	return &SSHLogin{User: dp.cfg.User, KeyPath: dp.cfg.SSHPrivateKeyPath, Node: node}
}

// place decides where a job runs. On Maxwell everything goes to the
// shared partitions with a niceness penalty; otherwise the beamtime
// reservation is preferred until it is overloaded.
func (dp *Dispatcher) place(ctx context.Context) placement {
	if dp.maxwell() {
		return placement{
			partition: fallbackPartitions,
			time:      "8:00:00",
			mem:       "500000",
			nice:      "100",
		}
	}
	pl := placement{login: dp.loginNode()}
	if dp.slurm.ReservedNodesOverloaded(ctx, dp.cfg.ReservedNodes) {
		pl.partition = fallbackPartitions
		return pl
	}
	pl.partition = dp.cfg.SlurmPartition
	pl.reservation = dp.cfg.ReservedNodes
	return pl
}

// submitRotational renders XDS.INP and submits the XDS job plus a
// companion autoPROC job on the shared partitions.
func (dp *Dispatcher) submitRotational(ctx context.Context, desc domain.RunDescriptor, info runinfo.Info, paths folders.Paths) ([]domain.JobSubmission, error) {
	firstFrame, err := geometry.FirstDataFile(desc.SourcePath)
	if err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}
	if firstFrame == "" {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: fmt.Errorf("no data frames in %s", desc.SourcePath)}
	}
	frameTemplate := geometry.FrameTemplate(firstFrame)

	cr := dp.cfg.Crystallography
	subs := geometry.RotationalSubstitutions(info, cr.OrgX, cr.OrgY, cr.DistanceOffset, frameTemplate, dp.unitCell(desc.SourcePath))
	if err := dp.renderTemplate(ctx, desc.Run, cr.XDSTemplate, filepath.Join(paths.XDSDir, "XDS.INP"), subs); err != nil {
		return nil, &domain.SubmissionError{Run: desc.Run, Err: err}
	}

	pl := dp.place(ctx)
	runName := filepath.Base(desc.DestPath)

	xdsJob := BatchScript{
		JobName:     runName + "_XDS",
		Partition:   pl.partition,
		Reservation: pl.reservation,
		Nodes:       1,
		Chdir:       paths.XDSDir,
		Output:      filepath.Join(paths.XDSDir, runName+"_XDS.out"),
		Error:       filepath.Join(paths.XDSDir, runName+"_XDS.err"),
		Time:        pl.time,
		Mem:         pl.mem,
		Nice:        pl.nice,
		Modules:     []string{"xray", "autoproc"},
		Commands:    []string{dp.cfg.RotationalCommand()},
	}
	sub, err := dp.submitScript(ctx, desc.Run, xdsJob, filepath.Join(paths.XDSDir, runName+"_XDS.sh"), pl.login)
	if err != nil {
		return nil, err
	}
	subs2 := []domain.JobSubmission{sub}

	// autoPROC reprocesses the same frames independently; it always
	// runs on the shared partitions with a long walltime.
	autoDir := filepath.Join(paths.Dest, "autoPROC_"+dp.now().Format("20060102-150405"))
	if err := os.MkdirAll(autoDir, 0o777); err != nil {
		return subs2, &domain.SubmissionError{Run: desc.Run, Err: err}
	}
	autoJob := BatchScript{
		JobName:   runName + "_autoPROC",
		Partition: fallbackPartitions,
		Nodes:     1,
		Chdir:     autoDir,
		Output:    filepath.Join(autoDir, runName+"_autoPROC.out"),
		Error:     filepath.Join(autoDir, runName+"_autoPROC.err"),
		Time:      "8:00:00",
		Mem:       "500000",
		Nice:      "100",
		Modules:   []string{"xray", "autoproc"},
		Commands:  []string{fmt.Sprintf("process -d %s -I %s", filepath.Join(autoDir, "autoPROC"), desc.SourcePath)},
	}
	autoSub, err := dp.submitScript(ctx, desc.Run, autoJob, filepath.Join(autoDir, runName+"_autoPROC.sh"), pl.login)
	if err != nil {
		return subs2, err
	}
	return append(subs2, autoSub), nil
}

// unitCell resolves the configured or discovered cell file, tolerating
// parse failures: without a cell XDS determines the lattice itself.
func (dp *Dispatcher) unitCell(rawDir string) geometry.UnitCell {
	cellFile := dp.cfg.Crystallography.CellFile
	if cellFile == "" {
		cellFile = geometry.FindCellFile(rawDir)
	}
	if cellFile == "" {
		return geometry.UnitCell{}
	}
	cell, err := geometry.ParseCellFile(cellFile)
	if err != nil {
		dp.log.Warn("cell file unreadable", "file", cellFile, "error", err.Error())
		return geometry.UnitCell{}
	}
	return cell
}

// renderTemplate reads a template, substitutes, writes the result and
// archives it.
func (dp *Dispatcher) renderTemplate(ctx context.Context, run, templatePath, outPath string, subs geometry.Substitutions) error {
	text, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}
	rendered, err := geometry.Render(string(text), subs)
	if err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(templatePath), err)
	}
	if err := os.WriteFile(outPath, []byte(rendered), 0o666); err != nil {
		return fmt.Errorf("write rendered template: %w", err)
	}
	dp.archiveFile(ctx, run, outPath)
	return nil
}

func (dp *Dispatcher) archiveFile(ctx context.Context, run, path string) {
	if dp.archive == nil {
		return
	}
	if err := dp.archive.StoreFile(ctx, run, path); err != nil {
		dp.log.Warn("archive upload failed", "run", run, "file", path, "error", err.Error())
	}
}

// submitScript writes the script, submits it and records the
// submission.
func (dp *Dispatcher) submitScript(ctx context.Context, run string, job BatchScript, scriptPath string, login *SSHLogin) (domain.JobSubmission, error) {
	if err := job.Write(scriptPath); err != nil {
		return domain.JobSubmission{}, &domain.SubmissionError{Run: run, Err: err}
	}
	dp.archiveFile(ctx, run, scriptPath)

	jobID, err := dp.slurm.Submit(ctx, scriptPath, login)
	if err != nil {
		return domain.JobSubmission{}, &domain.SubmissionError{Run: run, Err: err}
	}

	sub := domain.JobSubmission{
		ID:             uuid.NewString(),
		Run:            run,
		JobName:        job.JobName,
		Script:         scriptPath,
		Command:        strings.Join(job.Commands, "; "),
		Partition:      job.Partition,
		Reservation:    job.Reservation,
		SchedulerJobID: jobID,
		SubmittedAt:    dp.now(),
	}
	dp.log.Info("job submitted",
		"run", run,
		"job", job.JobName,
		"slurm_id", jobID,
		"partition", job.Partition,
	)
	return sub, nil
}
