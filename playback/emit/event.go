package emit

// Event messages emitted by the playback Controller.
const (
	MsgRunStarted      = "run_started"
	MsgStep            = "step"
	MsgRunPaused       = "run_paused"
	MsgRunResumed      = "run_resumed"
	MsgRunCompleted    = "run_completed"
	MsgRunFailed       = "run_failed"
	MsgRunReset        = "run_reset"
	MsgRunCancelled    = "run_cancelled"
	MsgCommandRejected = "command_rejected"
	MsgStaleDropped    = "stale_dropped"
	MsgSpeedChanged    = "speed_changed"
	MsgSourceClose     = "source_close_failed"
)

// MetaPreviousRun is set on a run_reset event that discarded a live run. It
// holds that run's ID; the event itself carries the fresh handle.
const MetaPreviousRun = "previous_run"

// Event represents an observability event emitted during playback.
//
// Events describe:
//   - Run lifecycle transitions (started, paused, completed, ...)
//   - Emitted steps
//   - Rejected commands and dropped stale results
//   - Speed changes
type Event struct {
	// RunID identifies the run that emitted this event.
	// Empty when no run is live (for example a command rejected in Idle).
	RunID string

	// Seq is the step sequence number within the run (0-indexed).
	// -1 for events that are not tied to a step.
	Seq int

	// State is the RunState name after the event.
	State string

	// Msg names the event, one of the Msg* constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "command": command name for command_rejected
	//   - "from": previous state for transitions
	//   - "error": error text for run_failed
	//   - "code": failure code for run_failed
	//   - "final": whether a step is the final one
	//   - "delay_ms": delay for speed_changed
	Meta map[string]interface{}
}
