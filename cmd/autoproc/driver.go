package main

import (
	"context"
	"log/slog"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/config"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/dispatch"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/folders"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/journal"
	"github.com/galchenm/data-processing-for-P09-beamline/internal/ledger"
)

// driver walks a batch of descriptors through the state machine. One
// descriptor failing never stops the batch; overload only postpones.
type driver struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	slurm      *dispatch.SlurmClient
	journal    *journal.Journal
	ledger     *ledger.Ledger
	log        *slog.Logger
}

// batchResult tallies one invocation for the exit code.
type batchResult struct {
	Done    int
	Failed  int
	Skipped int
}

func (dr *driver) process(ctx context.Context, descs []domain.RunDescriptor) batchResult {
	var res batchResult
	for _, desc := range descs {
		switch dr.processOne(ctx, desc) {
		case domain.StatusDone:
			res.Done++
		case domain.StatusFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}
	return res
}

// processOne returns the descriptor's final status, or StatusPending
// when the run was postponed.
func (dr *driver) processOne(ctx context.Context, desc domain.RunDescriptor) domain.Status {
	// Discovery mints failed descriptors for unusable sources; they
	// only need recording.
	if desc.Status == domain.StatusFailed {
		dr.record(ctx, desc, domain.StatusPending)
		return domain.StatusFailed
	}

	if dr.queueFull(ctx) {
		dr.log.Warn("pending queue full, postponing run", "run", desc.Run)
		return domain.StatusPending
	}

	if desc.Force {
		if err := folders.Clear(desc.DestPath); err != nil {
			dr.log.Warn("could not clear destination", "run", desc.Run, "error", err.Error())
		}
	}

	paths, err := folders.Ensure(desc)
	if err != nil {
		return dr.fail(ctx, &desc, err)
	}

	subs, err := dr.dispatcher.Submit(ctx, desc, paths)
	if err != nil {
		return dr.fail(ctx, &desc, err)
	}
	_ = desc.Transition(domain.StatusSubmitted)
	dr.record(ctx, desc, domain.StatusPending)
	for _, sub := range subs {
		if err := dr.ledger.RecordSubmission(ctx, sub); err != nil {
			dr.log.Warn("ledger write failed", "run", desc.Run, "error", err.Error())
		}
	}

	// From here SLURM owns the jobs; the marker keeps later batches
	// from re-submitting this run.
	if err := folders.MarkDone(desc.DestPath); err != nil {
		return dr.fail(ctx, &desc, err)
	}
	_ = desc.Transition(domain.StatusDone)
	dr.record(ctx, desc, domain.StatusSubmitted)
	return domain.StatusDone
}

func (dr *driver) fail(ctx context.Context, desc *domain.RunDescriptor, cause error) domain.Status {
	from := desc.Status
	if err := desc.Fail(cause.Error()); err != nil {
		dr.log.Error("invalid transition", "run", desc.Run, "error", err.Error())
		return domain.StatusFailed
	}
	dr.record(ctx, *desc, from)
	return domain.StatusFailed
}

// record writes the transition to the journal and, when configured,
// the ledger.
func (dr *driver) record(ctx context.Context, desc domain.RunDescriptor, from domain.Status) {
	dr.journal.Transition(desc, from)
	if err := dr.ledger.RecordTransition(ctx, desc, from); err != nil {
		dr.log.Warn("ledger write failed", "run", desc.Run, "error", err.Error())
	}
}

// queueFull probes the user's pending queue. A failing probe reads as
// "not full" so a broken squeue cannot stall the beamtime.
func (dr *driver) queueFull(ctx context.Context) bool {
	if dr.cfg.User == "" {
		return false
	}
	n, err := dr.slurm.PendingJobs(ctx, dr.cfg.User)
	if err != nil {
		dr.log.Warn("pending queue probe failed", "error", err.Error())
		return false
	}
	return n >= dispatch.MaxPendingJobs
}
