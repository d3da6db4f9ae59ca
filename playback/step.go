package playback

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// RunHandle identifies one run attempt.
//
// A new handle is minted on Start and Reset; Cancel and Reset invalidate the
// previous one. Pending timers, in-flight pulls and queued step deliveries are
// tagged with the handle's Gen and are discarded once it no longer matches the
// Controller's current handle.
type RunHandle struct {
	// Gen increases strictly with every handle a Controller mints.
	Gen uint64

	// ID is a random identifier, used as the run ID in stores and events.
	ID string
}

// IsZero reports whether h is the empty handle (no run).
func (h RunHandle) IsZero() bool {
	return h.Gen == 0
}

func (h RunHandle) String() string {
	if h.IsZero() {
		return "run-none"
	}
	return fmt.Sprintf("run-%d-%s", h.Gen, h.ID)
}

// newRunID produces a random 16-character hex string.
func newRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is exceptional; fall back to the clock so runs stay distinct
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Step is one discrete unit of algorithm progress as delivered to a Renderer.
//
// Payload is algorithm-defined and opaque to the engine. Seq starts at 0 for
// every run and increases strictly; Final is set on exactly one step of a run
// that completes successfully.
type Step[T any] struct {
	Run     RunHandle
	Seq     int
	Final   bool
	Payload T
}

// LifecycleKind names a lifecycle event.
type LifecycleKind string

const (
	LifecycleStarted   LifecycleKind = "started"
	LifecyclePaused    LifecycleKind = "paused"
	LifecycleResumed   LifecycleKind = "resumed"
	LifecycleCompleted LifecycleKind = "completed"
	LifecycleFailed    LifecycleKind = "failed"
	LifecycleReset     LifecycleKind = "reset"
	LifecycleCancelled LifecycleKind = "cancelled"
)

// Lifecycle is a run lifecycle event delivered to a Renderer.
type Lifecycle struct {
	Kind LifecycleKind

	// Run is the handle the event belongs to. For reset it is the fresh handle.
	Run RunHandle

	// State is the RunState entered by the transition.
	State RunState

	// Steps is the number of steps emitted by the run so far.
	Steps int

	// Err is set for failed events and is always a *StepSourceError.
	Err error

	// Previous is the live run a reset discarded. It is zero for every other
	// kind and for a reset with no live run.
	Previous RunHandle
}
