// Package playback provides a stepwise algorithm playback engine.
package playback

// RunState is the Controller's finite-state-machine state.
//
// Exactly one RunState is active per Controller at any time. It decides which
// commands are currently legal:
//   - Idle: no run is live; Start (or Step with a SourceFactory) begins one
//   - Running: steps are pulled automatically, paced by the speed setting
//   - Paused: the run is live but nothing is scheduled
//   - Stepping: a single pull requested by Step is in progress
//   - Completed: the final step was emitted and the source released
//   - Failed: the source returned an error and was released
type RunState int

const (
	Idle RunState = iota
	Running
	Paused
	Stepping
	Completed
	Failed
)

// String returns the lowercase name of the state.
func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stepping:
		return "stepping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// HoldsSource reports whether a Step Source is live in this state.
func (s RunState) HoldsSource() bool {
	return s == Running || s == Paused || s == Stepping
}

// IsTerminal reports whether the state ends a run (Completed or Failed).
func (s RunState) IsTerminal() bool {
	return s == Completed || s == Failed
}

// Command is a user-triggered event accepted by the Controller.
type Command int

const (
	CmdStart Command = iota
	CmdPause
	CmdResume
	CmdStep
	CmdCancel
	CmdReset
	CmdSetSpeed
)

// String returns the lowercase name of the command.
func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdStep:
		return "step"
	case CmdCancel:
		return "cancel"
	case CmdReset:
		return "reset"
	case CmdSetSpeed:
		return "set_speed"
	default:
		return "unknown"
	}
}

// transitions lists every legal (state, command) edge and its target state.
// Step from Idle lands in Stepping after an implicit start; Stepping itself
// resolves to Paused or Completed once the pull finishes.
var transitions = map[RunState]map[Command]RunState{
	Idle: {
		CmdStart:    Running,
		CmdStep:     Stepping,
		CmdReset:    Idle,
		CmdCancel:   Idle,
		CmdSetSpeed: Idle,
	},
	Running: {
		CmdPause:    Paused,
		CmdCancel:   Idle,
		CmdReset:    Idle,
		CmdSetSpeed: Running,
	},
	Paused: {
		CmdResume:   Running,
		CmdStep:     Stepping,
		CmdCancel:   Idle,
		CmdReset:    Idle,
		CmdSetSpeed: Paused,
	},
	Stepping: {
		CmdCancel:   Idle,
		CmdReset:    Idle,
		CmdSetSpeed: Stepping,
	},
	Completed: {
		CmdStart:    Running,
		CmdCancel:   Idle,
		CmdReset:    Idle,
		CmdSetSpeed: Completed,
	},
	Failed: {
		CmdStart:    Running,
		CmdCancel:   Idle,
		CmdReset:    Idle,
		CmdSetSpeed: Failed,
	},
}

// Transition returns the state a command leads to from the given state, and
// whether the command is legal there at all.
func Transition(from RunState, cmd Command) (RunState, bool) {
	edges, ok := transitions[from]
	if !ok {
		return from, false
	}
	to, ok := edges[cmd]
	if !ok {
		return from, false
	}
	return to, true
}
