package runinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInfo(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(text), 0o644); err != nil {
		t.Fatalf("write info.txt: %v", err)
	}
	return dir
}

func TestLoadRotational(t *testing.T) {
	dir := writeInfo(t, `experiment method: rotational
detector distance: 150.0 mm
ORGX: 1221.5 pixel
ORGY: 1257.8 pixel
number of frames: 3600
start angle: 0.0 degrees
increment 0.1 degrees/frame
wavelength: 0.9763 A
`)
	info, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.Method != "rotational" {
		t.Fatalf("Method = %q, want rotational", info.Method)
	}
	if info.DetectorDistance != 150.0 {
		t.Fatalf("DetectorDistance = %v, want 150", info.DetectorDistance)
	}
	if info.OrgX != 1221.5 || info.OrgY != 1257.8 {
		t.Fatalf("origin = (%v, %v), want (1221.5, 1257.8)", info.OrgX, info.OrgY)
	}
	if info.Frames != 3600 {
		t.Fatalf("Frames = %d, want 3600", info.Frames)
	}
	if info.OscillationRange != 0.1 {
		t.Fatalf("OscillationRange = %v, want 0.1", info.OscillationRange)
	}
	if info.Wavelength != 0.9763 {
		t.Fatalf("Wavelength = %v, want 0.9763", info.Wavelength)
	}
	if info.FramesPerPosition != 1 {
		t.Fatalf("FramesPerPosition = %d, want default 1", info.FramesPerPosition)
	}
	if info.IndexingMethod != "mosflm-latt-nocell" {
		t.Fatalf("IndexingMethod = %q, want default mosflm-latt-nocell", info.IndexingMethod)
	}
}

func TestLoadGridStep(t *testing.T) {
	dir := writeInfo(t, `experiment method: grid step
detector distance: 200 mm
frames/position: 10
number of frames: 400
indexing_method: xgandalf
`)
	info, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.Method != "grid step" {
		t.Fatalf("Method = %q, want grid step", info.Method)
	}
	if info.FramesPerPosition != 10 {
		t.Fatalf("FramesPerPosition = %d, want 10", info.FramesPerPosition)
	}
	if info.IndexingMethod != "xgandalf" {
		t.Fatalf("IndexingMethod = %q, want xgandalf", info.IndexingMethod)
	}
}

func TestLoadFirstLineWithoutColon(t *testing.T) {
	dir := writeInfo(t, "rotational\n")
	info, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.Method != "rotational" {
		t.Fatalf("Method = %q, want rotational", info.Method)
	}
	if info.Frames != 1 {
		t.Fatalf("Frames = %d, want fallback 1", info.Frames)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("missing info.txt should be an error")
	}
}

func TestLoadEmpty(t *testing.T) {
	dir := writeInfo(t, "")
	if _, err := Load(dir); err == nil {
		t.Fatal("empty info.txt should be an error")
	}
}

func TestPhotonEnergy(t *testing.T) {
	if got := (Info{Wavelength: 1.0}).PhotonEnergy(); got != 12400 {
		t.Fatalf("PhotonEnergy = %v, want 12400", got)
	}
	if got := (Info{}).PhotonEnergy(); got != 0 {
		t.Fatalf("PhotonEnergy with zero wavelength = %v, want 0", got)
	}
}
