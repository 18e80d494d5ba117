// Package ledger keeps an append-only record of status transitions and
// scheduler submissions in Postgres. It exists for the facility's
// bookkeeping; the orchestrator itself decides everything from the
// filesystem, so a nil Ledger is fully functional.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/galchenm/data-processing-for-P09-beamline/internal/domain"
)

type Ledger struct {
	db       *sql.DB
	beamtime string
}

// New wraps an open database handle. db may be nil when the ledger is
// not configured; every method then becomes a no-op.
func New(db *sql.DB, beamtimeID string) *Ledger {
	if db == nil {
		return nil
	}
	return &Ledger{db: db, beamtime: beamtimeID}
}

// Init creates the ledger tables. Idempotent so every batch run can
// call it unconditionally.
func (l *Ledger) Init(ctx context.Context) error {
	if l == nil {
		return nil
	}
	const schema = `
CREATE TABLE IF NOT EXISTS run_transitions (
	id           BIGSERIAL PRIMARY KEY,
	occurred_at  TIMESTAMPTZ NOT NULL,
	beamtime_id  TEXT NOT NULL,
	run          TEXT NOT NULL,
	method       TEXT NOT NULL,
	from_status  TEXT NOT NULL,
	to_status    TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS job_submissions (
	id             TEXT PRIMARY KEY,
	submitted_at   TIMESTAMPTZ NOT NULL,
	beamtime_id    TEXT NOT NULL,
	run            TEXT NOT NULL,
	job_name       TEXT NOT NULL,
	script         TEXT NOT NULL,
	command        TEXT NOT NULL,
	partition      TEXT NOT NULL,
	reservation    TEXT NOT NULL DEFAULT '',
	scheduler_job  TEXT NOT NULL
);`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// RecordTransition appends one status change.
func (l *Ledger) RecordTransition(ctx context.Context, d domain.RunDescriptor, from domain.Status) error {
	if l == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_transitions (
			occurred_at, beamtime_id, run, method, from_status, to_status, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		time.Now().UTC(),
		l.beamtime,
		d.Run,
		string(d.Method),
		string(from),
		string(d.Status),
		d.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// RecordSubmission appends one accepted scheduler submission.
func (l *Ledger) RecordSubmission(ctx context.Context, sub domain.JobSubmission) error {
	if l == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO job_submissions (
			id, submitted_at, beamtime_id, run, job_name, script, command,
			partition, reservation, scheduler_job
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sub.ID,
		sub.SubmittedAt.UTC(),
		l.beamtime,
		sub.Run,
		sub.JobName,
		sub.Script,
		sub.Command,
		sub.Partition,
		sub.Reservation,
		sub.SchedulerJobID,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}
