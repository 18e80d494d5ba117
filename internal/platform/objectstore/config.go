package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/platform/env"
)

// Config describes the optional provenance archive. An empty endpoint
// disables archiving entirely.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// Bucket receives the rendered per-run inputs (XDS.INP, geometry,
	// sbatch scripts), keyed by beamtime and run.
	Bucket string
}

func ConfigFromEnv(endpoint, bucket string) (Config, error) {
	useSSL, err := env.Bool("AUTOPROC_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("AUTOPROC_MINIO_ENDPOINT", endpoint),
		AccessKey: env.String("AUTOPROC_MINIO_ACCESS_KEY", ""),
		SecretKey: env.String("AUTOPROC_MINIO_SECRET_KEY", ""),
		Region:    env.String("AUTOPROC_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("AUTOPROC_MINIO_BUCKET", bucket),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Enabled reports whether an archive endpoint was configured at all.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must be host:port, got %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}
