// Command autoproc drives the automated processing of one beamtime:
// it discovers raw runs, mirrors them into the processed tree, renders
// the per-run processing inputs and submits the cluster jobs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/archive"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/beamtime"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/config"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/discovery"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/dispatch"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/journal"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/ledger"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/platform/env"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/platform/objectstore"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/platform/postgres"
)

func main() {
	var (
		configPath   = flag.String("config", "configuration.yaml", "configuration file")
		templatesDir = flag.String("templates", "templates", "directory holding the stock template assets")
		offline      = flag.Bool("offline", false, "process every run under the raw directory")
		path         = flag.String("path", "", "online mode: wait for this run folder to finish acquiring")
		blocks       = flag.String("blocks", "", "process the runs listed in this file, in order")
		username     = flag.String("u", "", "cluster account, overrides the beamtime metadata")
		maxwell      = flag.Bool("maxwell", false, "submit to the shared Maxwell partitions instead of the reservation")
		force        = flag.Bool("force", false, "re-queue runs that are already done")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*offline && *blocks == "" && *path == "" {
		logger.Error("one of --offline, --blocks or --path is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, *templatesDir)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	meta, err := beamtime.Find(beamtime.Root(cfg.Crystallography.RawDirectory))
	if err != nil {
		logger.Error("beamtime metadata", "error", err)
		os.Exit(2)
	}
	beamtime.Merge(cfg, meta, *username, *maxwell)
	logger.Info("beamtime resolved",
		"beamtime", cfg.BeamtimeID,
		"user", cfg.User,
		"reserved_nodes", cfg.ReservedNodes,
		"metadata", meta.File,
	)

	jrnl, err := journal.Open(cfg.Crystallography.ProcessedDirectory)
	if err != nil {
		logger.Error("journal unavailable", "error", err)
		os.Exit(2)
	}
	defer func() { _ = jrnl.Close() }()

	led, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("ledger unavailable", "error", err)
		os.Exit(1)
	}
	defer closeLedger()

	slurm := dispatch.NewSlurmClient(dispatch.ExecRunner{})
	dispatcher := dispatch.New(cfg, slurm, logger)
	if arch := openArchive(ctx, cfg, logger); arch != nil {
		dispatcher = dispatcher.WithArchiver(arch)
	}

	descs, err := discover(ctx, cfg, logger, *offline, *path, *blocks, *force)
	if err != nil {
		logger.Error("discovery failed", "error", err)
		os.Exit(1)
	}
	if len(descs) == 0 {
		logger.Info("nothing to process")
		return
	}

	dr := &driver{
		cfg:        cfg,
		dispatcher: dispatcher,
		slurm:      slurm,
		journal:    jrnl,
		ledger:     led,
		log:        logger,
	}
	res := dr.process(ctx, descs)
	logger.Info("batch finished",
		"done", res.Done,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"journal", jrnl.Path(),
	)
	if res.Failed > 0 {
		os.Exit(1)
	}
}

func discover(ctx context.Context, cfg *config.Config, logger *slog.Logger, offline bool, path, blocks string, force bool) ([]domain.RunDescriptor, error) {
	disc := discovery.New(cfg.Crystallography.RawDirectory, cfg.Crystallography.ProcessedDirectory, force)

	switch {
	case blocks != "":
		return disc.Block(blocks)
	case offline:
		return disc.AllRuns()
	default:
		timeout, err := env.Duration("AUTOPROC_ONLINE_TIMEOUT", time.Hour)
		if err != nil {
			return nil, err
		}
		interval, err := env.Duration("AUTOPROC_ONLINE_POLL_INTERVAL", 5*time.Second)
		if err != nil {
			return nil, err
		}
		logger.Info("waiting for acquisition", "folder", path, "timeout", timeout.String())
		return []domain.RunDescriptor{disc.Online(ctx, path, timeout, interval)}, nil
	}
}

// openLedger wires the optional Postgres ledger. Returns a nil ledger
// when no database is configured.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledger.Ledger, func(), error) {
	dbCfg, err := postgres.ConfigFromEnv(cfg.Ledger.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if !dbCfg.Enabled() {
		return nil, func() {}, nil
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	led := ledger.New(db, cfg.BeamtimeID)
	if err := led.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("submission ledger enabled")
	return led, func() { _ = db.Close() }, nil
}

// openArchive wires the optional provenance archive. A broken archive
// only costs provenance, so failures degrade to a warning.
func openArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) dispatch.Archiver {
	storeCfg, err := objectstore.ConfigFromEnv(cfg.Archive.Endpoint, cfg.Archive.Bucket)
	if err != nil {
		logger.Warn("invalid archive config, archiving disabled", "error", err)
		return nil
	}
	if !storeCfg.Enabled() {
		return nil
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	arch, err := archive.New(startupCtx, storeCfg, cfg.BeamtimeID)
	if err != nil {
		logger.Warn("archive unavailable, archiving disabled", "error", err)
		return nil
	}
	logger.Info("provenance archive enabled", "bucket", storeCfg.Bucket)
	return arch
}
