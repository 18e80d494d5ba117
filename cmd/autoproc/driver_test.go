package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/config"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/dispatch"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/folders"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/journal"
)

// stubRunner answers sbatch with sequential job ids and squeue with a
// fixed pending count.
type stubRunner struct {
	nextJob int
	pending int
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	all := append([]string{name}, args...)
	for _, a := range all {
		if a == "squeue" {
			var b strings.Builder
			b.WriteString("JOBID PARTITION NAME USER ST TIME NODES NODELIST\n")
			for i := 0; i < s.pending; i++ {
				fmt.Fprintf(&b, "%d p j u PD 0:00 1 n\n", i)
			}
			return b.String(), nil
		}
	}
	s.nextJob++
	return fmt.Sprintf("Submitted batch job %d", s.nextJob), nil
}

const driverXDSTemplate = `ORGX= $ORGX ORGY= $ORGY
DETECTOR_DISTANCE= $DETECTOR_DISTANCE
OSCILLATION_RANGE= $OSCILLATION_RANGE
STARTING_ANGLE= $STARTING_ANGLE
X-RAY_WAVELENGTH= $WAVELENGTH
NAME_TEMPLATE_OF_DATA_FRAMES= $NAME_TEMPLATE_OF_DATA_FRAMES
DATA_RANGE= 1 $NFRAMES
$SPACE_GROUP_NUMBER
$UNIT_CELL_CONSTANTS
`

func testDriver(t *testing.T, pending int) (*driver, string) {
	t.Helper()

	templates := t.TempDir()
	xds := filepath.Join(templates, "XDS.INP")
	if err := os.WriteFile(xds, []byte(driverXDSTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg := &config.Config{}
	cfg.Crystallography.XDSTemplate = xds
	cfg.User = "bttest01"
	cfg.SlurmPartition = "ponline"
	cfg.ReservedNodes = "maxwell"
	cfg.Maxwell = true

	processed := t.TempDir()
	jrnl, err := journal.Open(processed)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	t.Cleanup(func() { _ = jrnl.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	slurm := dispatch.NewSlurmClient(&stubRunner{pending: pending})
	return &driver{
		cfg:        cfg,
		dispatcher: dispatch.New(cfg, slurm, logger),
		slurm:      slurm,
		journal:    jrnl,
		log:        logger,
	}, processed
}

func makeRotationalRun(t *testing.T) domain.RunDescriptor {
	t.Helper()
	src := t.TempDir()
	info := `experiment method: rotational
detector distance: 150.0 mm
ORGX: 1221.5 pixel
ORGY: 1257.8 pixel
number of frames: 100
start angle: 0.0 degrees
increment 0.1 degrees/frame
wavelength: 1.0 A
`
	if err := os.WriteFile(filepath.Join(src, "info.txt"), []byte(info), 0o644); err != nil {
		t.Fatalf("write info: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "lyso_000001.cbf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return domain.RunDescriptor{
		Run:        "lyso/run_001",
		SourcePath: src,
		DestPath:   filepath.Join(t.TempDir(), "run_001"),
		Method:     domain.MethodRotational,
		Status:     domain.StatusPending,
	}
}

func TestProcessOneSucceeds(t *testing.T) {
	dr, processed := testDriver(t, 0)
	desc := makeRotationalRun(t)

	if got := dr.processOne(context.Background(), desc); got != domain.StatusDone {
		t.Fatalf("processOne = %q, want done", got)
	}
	if !folders.Done(desc.DestPath) {
		t.Fatal("destination not marked done")
	}
	data, err := os.ReadFile(filepath.Join(processed, journal.FileName))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"to":"submitted"`) || !strings.Contains(text, `"to":"done"`) {
		t.Fatalf("journal missing transitions:\n%s", text)
	}
}

func TestProcessOneRecordsDiscoveryFailure(t *testing.T) {
	dr, processed := testDriver(t, 0)
	desc := domain.RunDescriptor{
		Run:        "missing",
		SourcePath: "/raw/missing",
		DestPath:   "/processed/missing",
		Status:     domain.StatusFailed,
		Reason:     domain.ReasonSourceNotFound,
	}

	if got := dr.processOne(context.Background(), desc); got != domain.StatusFailed {
		t.Fatalf("processOne = %q, want failed", got)
	}
	data, err := os.ReadFile(filepath.Join(processed, journal.FileName))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if !strings.Contains(string(data), domain.ReasonSourceNotFound) {
		t.Fatalf("journal missing failure reason:\n%s", data)
	}
}

func TestProcessOnePostponesOnFullQueue(t *testing.T) {
	dr, _ := testDriver(t, dispatch.MaxPendingJobs)
	desc := makeRotationalRun(t)

	if got := dr.processOne(context.Background(), desc); got != domain.StatusPending {
		t.Fatalf("processOne = %q, want pending (postponed)", got)
	}
	if folders.Done(desc.DestPath) {
		t.Fatal("postponed run must not be marked done")
	}
}

func TestProcessOneFailsOnBadSource(t *testing.T) {
	dr, _ := testDriver(t, 0)
	desc := makeRotationalRun(t)
	// No frames: the dispatcher cannot build a frame template.
	if err := os.Remove(filepath.Join(desc.SourcePath, "lyso_000001.cbf")); err != nil {
		t.Fatalf("remove frame: %v", err)
	}

	if got := dr.processOne(context.Background(), desc); got != domain.StatusFailed {
		t.Fatalf("processOne = %q, want failed", got)
	}
	if folders.Done(desc.DestPath) {
		t.Fatal("failed run must not be marked done")
	}
}

func TestProcessOneForceRerun(t *testing.T) {
	dr, _ := testDriver(t, 0)
	desc := makeRotationalRun(t)

	if got := dr.processOne(context.Background(), desc); got != domain.StatusDone {
		t.Fatalf("first run = %q, want done", got)
	}
	renderedPath := filepath.Join(desc.DestPath, "xds", "XDS.INP")
	if err := os.WriteFile(renderedPath, []byte("stale\n"), 0o666); err != nil {
		t.Fatalf("poison artifact: %v", err)
	}

	forced := desc
	forced.Force = true
	if got := dr.processOne(context.Background(), forced); got != domain.StatusDone {
		t.Fatalf("forced rerun = %q, want done", got)
	}
	rendered, err := os.ReadFile(renderedPath)
	if err != nil {
		t.Fatalf("rendered artifact: %v", err)
	}
	if strings.Contains(string(rendered), "stale") {
		t.Fatal("forced rerun did not overwrite the geometry artifact")
	}
	if !folders.Done(desc.DestPath) {
		t.Fatal("rerun destination not marked done")
	}
}

func TestProcessTallies(t *testing.T) {
	dr, _ := testDriver(t, 0)
	ok := makeRotationalRun(t)
	bad := domain.RunDescriptor{
		Run:        "missing",
		SourcePath: "/raw/missing",
		DestPath:   filepath.Join(t.TempDir(), "missing"),
		Status:     domain.StatusFailed,
		Reason:     domain.ReasonSourceNotFound,
	}

	res := dr.process(context.Background(), []domain.RunDescriptor{ok, bad})
	if res.Done != 1 || res.Failed != 1 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
}
