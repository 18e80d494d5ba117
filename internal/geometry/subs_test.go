package geometry

import (
	"strings"
	"testing"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/runinfo"
)

func TestRotationalSubstitutions(t *testing.T) {
	info := runinfo.Info{
		DetectorDistance: 150,
		OrgX:             1221.5,
		OrgY:             1257.8,
		Frames:           3600,
		StartAngle:       0,
		OscillationRange: 0.1,
		Wavelength:       0.9763,
	}
	subs := RotationalSubstitutions(info, 0, 0, 2.5, "/raw/run/lyso_??????.cbf", UnitCell{})

	if subs["DETECTOR_DISTANCE"] != "152.5" {
		t.Fatalf("DETECTOR_DISTANCE = %q, want 152.5", subs["DETECTOR_DISTANCE"])
	}
	if subs["ORGX"] != "1221.5" || subs["ORGY"] != "1257.8" {
		t.Fatalf("origin = (%q, %q)", subs["ORGX"], subs["ORGY"])
	}
	if subs["NFRAMES"] != "3600" {
		t.Fatalf("NFRAMES = %q", subs["NFRAMES"])
	}
	if subs["SPACE_GROUP_NUMBER"] != "!SPACE_GROUP_NUMBER" {
		t.Fatalf("unknown cell should comment out the space group, got %q", subs["SPACE_GROUP_NUMBER"])
	}
	if subs["UNIT_CELL_CONSTANTS"] != "!UNIT_CELL_CONSTANTS" {
		t.Fatalf("unknown cell should comment out the constants, got %q", subs["UNIT_CELL_CONSTANTS"])
	}
}

func TestRotationalSubstitutionsConfigOverridesOrigin(t *testing.T) {
	info := runinfo.Info{OrgX: 1221.5, OrgY: 1257.8}
	subs := RotationalSubstitutions(info, 1000, 1100, 0, "x.cbf", UnitCell{})
	if subs["ORGX"] != "1000" || subs["ORGY"] != "1100" {
		t.Fatalf("config origin should win, got (%q, %q)", subs["ORGX"], subs["ORGY"])
	}
}

func TestRotationalSubstitutionsWithCell(t *testing.T) {
	cell := UnitCell{A: 79.2, B: 79.2, C: 38.1, Alpha: 90, Beta: 90, Gamma: 90, SpaceGroupNumber: 96}
	subs := RotationalSubstitutions(runinfo.Info{}, 0, 0, 0, "x.cbf", cell)
	if subs["SPACE_GROUP_NUMBER"] != "SPACE_GROUP_NUMBER = 96" {
		t.Fatalf("SPACE_GROUP_NUMBER = %q", subs["SPACE_GROUP_NUMBER"])
	}
	want := "UNIT_CELL_CONSTANTS = 79.20 79.20 38.10 90.00 90.00 90.00"
	if subs["UNIT_CELL_CONSTANTS"] != want {
		t.Fatalf("UNIT_CELL_CONSTANTS = %q, want %q", subs["UNIT_CELL_CONSTANTS"], want)
	}
}

func TestSerialSubstitutions(t *testing.T) {
	info := runinfo.Info{
		DetectorDistance: 97.5,
		OrgX:             1221,
		OrgY:             1257,
		Wavelength:       1.0,
	}
	subs := SerialSubstitutions(info, 0, 0, 2.5, "/entry/data/data")

	// CrystFEL geometry wants metres and a negated beam centre.
	if subs["DETECTOR_DISTANCE"] != "0.1" {
		t.Fatalf("DETECTOR_DISTANCE = %q, want 0.1", subs["DETECTOR_DISTANCE"])
	}
	if subs["ORGX"] != "-1221" || subs["ORGY"] != "-1257" {
		t.Fatalf("origin = (%q, %q), want negated", subs["ORGX"], subs["ORGY"])
	}
	if subs["PHOTON_ENERGY"] != "12400" {
		t.Fatalf("PHOTON_ENERGY = %q, want 12400", subs["PHOTON_ENERGY"])
	}
	if subs["data_h5path"] != "/entry/data/data" {
		t.Fatalf("data_h5path = %q", subs["data_h5path"])
	}
}

func TestWedgeSubstitutions(t *testing.T) {
	info := runinfo.Info{DetectorDistance: 200, Wavelength: 1.0, OscillationRange: 0.1}

	even := WedgeSubstitutions(info, 0, 0, 0, "x.cbf", UnitCell{}, 2, 1, 10, "")
	if even["ROTATION_AXIS"] != "1.0 0.0 0.0" {
		t.Fatalf("even position axis = %q", even["ROTATION_AXIS"])
	}
	if even["first_image_index"] != "1" || even["last_image_index"] != "10" {
		t.Fatalf("range = %q..%q", even["first_image_index"], even["last_image_index"])
	}
	if even["REFERENCE_DATA_SET"] != "!REFERENCE_DATA_SET" {
		t.Fatalf("missing reference should comment out the line, got %q", even["REFERENCE_DATA_SET"])
	}
	if !strings.HasPrefix(even["INCLUDE_RESOLUTION_RANGE"], "50.0 ") {
		t.Fatalf("INCLUDE_RESOLUTION_RANGE = %q", even["INCLUDE_RESOLUTION_RANGE"])
	}

	odd := WedgeSubstitutions(info, 0, 0, 0, "x.cbf", UnitCell{}, 3, 11, 20, "/processed/run/000002/xds/XDS_ASCII.HKL")
	if odd["ROTATION_AXIS"] != "-1.0 0.0 0.0" {
		t.Fatalf("odd position axis = %q", odd["ROTATION_AXIS"])
	}
	if odd["REFERENCE_DATA_SET"] != "REFERENCE_DATA_SET= /processed/run/000002/xds/XDS_ASCII.HKL" {
		t.Fatalf("REFERENCE_DATA_SET = %q", odd["REFERENCE_DATA_SET"])
	}
}

func TestHighResolutionCutoff(t *testing.T) {
	got := HighResolutionCutoff(200, 1.0, DefaultPixelsShortEdge, DefaultPixelsLongEdge, DefaultPixelSizeM)
	// The worse (shorter) edge bounds the full ring, so the cutoff must
	// be at least the long-edge resolution.
	if got <= 0 {
		t.Fatalf("cutoff = %v, want > 0", got)
	}
	closer := HighResolutionCutoff(100, 1.0, DefaultPixelsShortEdge, DefaultPixelsLongEdge, DefaultPixelSizeM)
	if closer >= got {
		t.Fatalf("moving the detector closer should improve resolution: %v >= %v", closer, got)
	}
}
