package playback

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition indicates a command that is illegal in the current
// RunState. The command was rejected without side effects.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrNoSource is returned by Start(nil) and Step from Idle when no
// SourceFactory is configured.
var ErrNoSource = errors.New("no step source")

// ErrSourceDisposed is returned by a pull that races with the release of its
// source. The Controller never surfaces it because the run handle is stale by then.
var ErrSourceDisposed = errors.New("step source disposed")

// TransitionError describes a rejected command.
//
// It matches ErrInvalidTransition with errors.Is.
type TransitionError struct {
	Command Command
	State   RunState
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s rejected in state %s", e.Command, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports ErrInvalidTransition as the sentinel for every TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StepSourceError carries a failure raised by a Step Source.
//
// It moves the run to Failed and is surfaced once, through the failed
// lifecycle event and Status().LastErr.
type StepSourceError struct {
	// Run is the handle of the run that failed.
	Run RunHandle

	// Seq is the sequence number the failing pull would have produced.
	Seq int

	// Code classifies the failure: SOURCE_ERROR, SOURCE_PANIC or PULL_TIMEOUT.
	Code string

	// Cause is the underlying error.
	Cause error
}

func (e *StepSourceError) Error() string {
	msg := fmt.Sprintf("step source failed at seq %d", e.Seq)
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StepSourceError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports invalid Controller options, such as a minimum
// delay greater than the maximum. Speeds outside the bounds are clamped and
// never produce this error.
type ConfigurationError struct {
	Message string
	Code    string
}

func (e *ConfigurationError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}
