package domain

import (
	"errors"
	"strings"
	"time"
)

// Method selects the processing workflow for one run.
type Method string

const (
	MethodRotational Method = "rotational"
	MethodSerial     Method = "serial"
	MethodWedges     Method = "wedges"
)

// Status tracks one run through the dispatch pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Failure reasons recorded on terminal descriptors.
const (
	ReasonSourceNotFound     = "source-not-found"
	ReasonAcquisitionTimeout = "acquisition-timeout"
	ReasonNoRunInfo          = "no-run-info"
)

// DetectMethod maps the method line of info.txt to a workflow. A grid
// step scan with more than one frame per position is a wedge scan;
// anything unrecognized is processed serially, matching beamline
// practice where stills are the default.
func DetectMethod(raw string, framesPerPosition int) Method {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(MethodRotational):
		return MethodRotational
	case "grid step":
		if framesPerPosition > 1 {
			return MethodWedges
		}
		return MethodSerial
	default:
		return MethodSerial
	}
}

// RunDescriptor identifies one unit of processable data: a raw run
// folder and its mirror in the processed tree.
type RunDescriptor struct {
	// Run is the run path relative to the raw root, e.g.
	// "lyso/lamdatest_lyso3/rotational_001".
	Run        string
	SourcePath string
	DestPath   string

	Method            Method
	FramesPerPosition int
	Force             bool

	Status Status
	// Reason explains a failed status. Empty otherwise.
	Reason string
}

func (d RunDescriptor) Validate() error {
	if strings.TrimSpace(d.Run) == "" {
		return errors.New("run name is required")
	}
	if strings.TrimSpace(d.SourcePath) == "" {
		return errors.New("source path is required")
	}
	if strings.TrimSpace(d.DestPath) == "" {
		return errors.New("destination path is required")
	}
	if d.Status == "" {
		return errors.New("status is required")
	}
	if d.Status == StatusFailed && strings.TrimSpace(d.Reason) == "" {
		return errors.New("failed descriptor requires a reason")
	}
	return nil
}

// CanTransition enforces the descriptor state machine:
// pending -> submitted -> {done | failed}. A terminal descriptor is
// re-queued to pending only under force, and discovery may mint failed
// descriptors directly from pending (missing source, timeout).
func (d RunDescriptor) CanTransition(next Status) bool {
	switch d.Status {
	case StatusPending:
		return next == StatusSubmitted || next == StatusFailed
	case StatusSubmitted:
		return next == StatusDone || next == StatusFailed
	case StatusDone, StatusFailed:
		return next == StatusPending && d.Force
	default:
		return false
	}
}

// Transition moves the descriptor to next, clearing the failure reason
// on re-queue. Callers record the reason themselves when failing.
func (d *RunDescriptor) Transition(next Status) error {
	if !d.CanTransition(next) {
		return &TransitionError{From: d.Status, To: next}
	}
	if next == StatusPending {
		d.Reason = ""
	}
	d.Status = next
	return nil
}

// Fail marks the descriptor failed with the given reason.
func (d *RunDescriptor) Fail(reason string) error {
	if err := d.Transition(StatusFailed); err != nil {
		return err
	}
	d.Reason = reason
	return nil
}

// JobSubmission records one cluster job request. Monitoring is handed
// off to SLURM once the scheduler accepts the script; the orchestrator
// only keeps the record for logging and the ledger.
type JobSubmission struct {
	ID          string
	Run         string
	JobName     string
	Script      string
	Command     string
	Partition   string
	Reservation string
	// SchedulerJobID is the id printed by sbatch, empty until accepted.
	SchedulerJobID string
	SubmittedAt    time.Time
}
