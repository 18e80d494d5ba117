package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
)

// writeTemplates drops stock template assets into a directory.
func writeTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"XDS.INP", "XDS_WEDGES.INP", "pilatus6M.geom"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("template\n"), 0o644); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
	}
	return dir
}

func writeConfig(t *testing.T, raw, processed, templates string) string {
	t.Helper()
	text := `crystallography:
  raw_directory: ` + raw + `
  processed_directory: ` + processed + `
  ORGX: 1221.5
  ORGY: 1257.8
  distance_offset: 2.5
  data_h5path: /entry/data/data
  geometry_for_processing: $geometry_for_processing
  XDS_INP_template: $XDS_INP_template
  XDS_INP_wedges_template: $XDS_INP_wedges_template
`
	path := filepath.Join(t.TempDir(), "configuration.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	templates := writeTemplates(t)
	raw := t.TempDir()
	processed := t.TempDir()
	path := writeConfig(t, raw, processed, templates)

	cfg, err := Load(path, templates)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cr := cfg.Crystallography
	if cr.RawDirectory != raw {
		t.Fatalf("RawDirectory = %q, want %q", cr.RawDirectory, raw)
	}
	if cr.OrgX != 1221.5 || cr.OrgY != 1257.8 {
		t.Fatalf("origin = (%v, %v)", cr.OrgX, cr.OrgY)
	}
	if cr.DistanceOffset != 2.5 {
		t.Fatalf("DistanceOffset = %v", cr.DistanceOffset)
	}
	want := filepath.Join(templates, "XDS.INP")
	if cr.XDSTemplate != want {
		t.Fatalf("XDSTemplate = %q, want %q", cr.XDSTemplate, want)
	}

	// The filled copy lands in the processed directory.
	filled, err := os.ReadFile(filepath.Join(processed, "filled_config.yaml"))
	if err != nil {
		t.Fatalf("filled copy: %v", err)
	}
	if strings.Contains(string(filled), "$XDS_INP_template") {
		t.Fatal("filled copy still carries placeholders")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	templates := writeTemplates(t)
	text := "crystallography:\n  raw_directory: /raw\n"
	path := filepath.Join(t.TempDir(), "configuration.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path, templates)
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigError, got %v", err)
	}
}

func TestLoadRelativeDirectoryRejected(t *testing.T) {
	templates := writeTemplates(t)
	path := writeConfig(t, "relative/raw", t.TempDir(), templates)
	if _, err := Load(path, templates); err == nil {
		t.Fatal("relative raw_directory should be rejected")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Fatal("missing configuration should be an error")
	}
}

func TestPrefillPassthrough(t *testing.T) {
	text := "crystallography:\n  raw_directory: /raw\n"
	got, err := Prefill(text, "")
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if got != text {
		t.Fatalf("placeholder-free document changed:\n%q\n%q", text, got)
	}
}

func TestPrefillWithoutTemplatesDir(t *testing.T) {
	if _, err := Prefill("x: $XDS_INP_template\n", ""); err == nil {
		t.Fatal("placeholders without a templates directory should be an error")
	}
}

func TestRotationalCommandDefault(t *testing.T) {
	var cfg Config
	if got := cfg.RotationalCommand(); got != "xds_par" {
		t.Fatalf("RotationalCommand = %q, want xds_par", got)
	}
	cfg.Crystallography.RotationalCommand = "xds_par && xscale_par"
	if got := cfg.RotationalCommand(); got != "xds_par && xscale_par" {
		t.Fatalf("RotationalCommand = %q", got)
	}
}
