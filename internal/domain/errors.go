package domain

import "fmt"

// ConfigError is fatal: the process must not start a batch on a broken
// configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// FolderError marks a per-descriptor filesystem failure. The batch
// continues past it.
type FolderError struct {
	Path string
	Err  error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("folder %s: %v", e.Path, e.Err)
}

func (e *FolderError) Unwrap() error { return e.Err }

// SubmissionError marks a per-descriptor scheduler failure. The batch
// continues past it; a retry requires an explicit force re-run.
type SubmissionError struct {
	Run string
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission for %s: %v", e.Run, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransitionError reports a state-machine violation.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}
