// Package config loads the orchestrator configuration: a YAML document
// naming the raw and processed trees, the detector geometry overrides
// and the processing templates, merged with the per-beamtime metadata
// the facility drops next to the raw data.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
)

// Crystallography groups the beamline-specific processing parameters.
type Crystallography struct {
	RawDirectory       string  `yaml:"raw_directory"`
	ProcessedDirectory string  `yaml:"processed_directory"`
	OrgX               float64 `yaml:"ORGX"`
	OrgY               float64 `yaml:"ORGY"`
	DistanceOffset     float64 `yaml:"distance_offset"`
	CellFile           string  `yaml:"cell_file"`
	DataH5Path         string  `yaml:"data_h5path"`
	GeometryTemplate   string  `yaml:"geometry_for_processing"`
	XDSTemplate        string  `yaml:"XDS_INP_template"`
	XDSWedgesTemplate  string  `yaml:"XDS_INP_wedges_template"`
	RotationalCommand  string  `yaml:"command_for_processing_rotational"`
}

// Ledger configures the optional Postgres submission ledger.
type Ledger struct {
	DatabaseURL string `yaml:"database_url"`
}

// Archive configures the optional MinIO provenance archive.
type Archive struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
}

// Config is immutable after Load; descriptors share it read-only.
type Config struct {
	Crystallography Crystallography `yaml:"crystallography"`
	Ledger          Ledger          `yaml:"ledger"`
	Archive         Archive         `yaml:"archive"`

	// Merged from beamtime metadata (and CLI flags), not from YAML.
	BeamtimeID        string `yaml:"-"`
	User              string `yaml:"-"`
	SlurmPartition    string `yaml:"-"`
	ReservedNodes     string `yaml:"-"`
	SSHPrivateKeyPath string `yaml:"-"`
	SSHPublicKeyPath  string `yaml:"-"`
	Maxwell           bool   `yaml:"-"`
}

// Load reads and validates the configuration file. A file that still
// carries $-placeholders for the template assets is pre-filled against
// templatesDir and the filled copy is written into the processed
// directory for the record. All failures are ConfigErrors: a broken
// configuration must stop the process before any batch work starts.
func Load(path, templatesDir string) (*Config, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Err: fmt.Errorf("read %s: %w", path, err)}
	}

	filled, err := Prefill(string(text), templatesDir)
	if err != nil {
		return nil, &domain.ConfigError{Err: err}
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(filled), &cfg); err != nil {
		return nil, &domain.ConfigError{Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if filled != string(text) {
		if err := writeFilledCopy(filled, cfg.Crystallography.ProcessedDirectory); err != nil {
			return nil, &domain.ConfigError{Err: err}
		}
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	cr := c.Crystallography
	required := []struct {
		field, value string
	}{
		{"crystallography.raw_directory", cr.RawDirectory},
		{"crystallography.processed_directory", cr.ProcessedDirectory},
		{"crystallography.geometry_for_processing", cr.GeometryTemplate},
		{"crystallography.XDS_INP_template", cr.XDSTemplate},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &domain.ConfigError{Field: r.field, Err: errors.New("is required")}
		}
	}
	for _, p := range []struct {
		field, value string
	}{
		{"crystallography.raw_directory", cr.RawDirectory},
		{"crystallography.processed_directory", cr.ProcessedDirectory},
	} {
		if !filepath.IsAbs(p.value) {
			return &domain.ConfigError{Field: p.field, Err: fmt.Errorf("must be absolute, got %q", p.value)}
		}
	}
	for _, t := range []struct {
		field, value string
	}{
		{"crystallography.geometry_for_processing", cr.GeometryTemplate},
		{"crystallography.XDS_INP_template", cr.XDSTemplate},
	} {
		if _, err := os.Stat(t.value); err != nil {
			return &domain.ConfigError{Field: t.field, Err: err}
		}
	}
	if cr.XDSWedgesTemplate != "" {
		if _, err := os.Stat(cr.XDSWedgesTemplate); err != nil {
			return &domain.ConfigError{Field: "crystallography.XDS_INP_wedges_template", Err: err}
		}
	}
	return nil
}

// RotationalCommand defaults to plain parallel XDS.
func (c *Config) RotationalCommand() string {
	if strings.TrimSpace(c.Crystallography.RotationalCommand) == "" {
		return "xds_par"
	}
	return c.Crystallography.RotationalCommand
}

// writeFilledCopy records the pre-filled configuration in the
// processed tree so a reprocessing months later can see exactly what
// was used.
func writeFilledCopy(filled, processedDir string) error {
	if err := os.MkdirAll(processedDir, 0o777); err != nil {
		return fmt.Errorf("create processed directory: %w", err)
	}
	name := filepath.Join(processedDir, "filled_config.yaml")
	if err := os.WriteFile(name, []byte(filled), 0o644); err != nil {
		return fmt.Errorf("write filled configuration: %w", err)
	}
	return nil
}
