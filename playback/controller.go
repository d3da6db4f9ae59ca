package playback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dshills/playback-go/playback/emit"
)

// Controller drives one Step Source at a time under user control.
//
// It owns the RunState machine and the current RunHandle. Commands (Start,
// Pause, Resume, Step, Cancel, Reset, SetSpeed) may be called from any
// goroutine; every mutation happens under one lock and runs to completion
// before the next command, timer firing or pull result is processed.
//
// Steps and lifecycle events are queued while the lock is held and delivered
// to the Renderer after it is released, one at a time and in order. A step
// whose run handle has been superseded by the time it would be delivered is
// dropped, so a Renderer never sees a step from a cancelled or reset run
// after the Cancel or Reset call returns.
//
// Source errors never escape a command. They move the run to Failed and are
// reported once, through the failed lifecycle event.
type Controller[T any] struct {
	mu sync.Mutex

	state  RunState
	handle RunHandle
	gen    uint64
	seq    int

	src    *puller[T]
	runCtx context.Context
	cancel context.CancelFunc

	pace     pacer
	delay    time.Duration
	inflight bool
	parked   *pulled[T]

	stats counters

	outbox   []note[T]
	draining bool

	opts     Options
	clock    Clock
	renderer Renderer[T]
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
	factory  SourceFactory[T]
}

// Status is a point-in-time snapshot of a Controller.
type Status struct {
	State RunState

	// Run is the current handle. It is zero after Cancel.
	Run RunHandle

	// NextSeq is the sequence number the next emitted step will carry.
	NextSeq int

	// Delay is the current SpeedSetting.
	Delay time.Duration

	// PullInFlight reports a pull from the Step Source that has not returned.
	PullInFlight bool

	// Runs counts runs started since construction or the last Reset.
	Runs int

	// StepsEmitted counts steps emitted since construction or the last Reset.
	StepsEmitted int

	// LastErr is the most recent *StepSourceError, cleared by Reset.
	LastErr error
}

type counters struct {
	runs    int
	steps   int
	lastErr error
}

// pulled is the outcome of one pull.
type pulled[T any] struct {
	item Item[T]
	err  error
}

type noteKind int

const (
	noteStep noteKind = iota
	noteLifecycle
	noteEvent
	noteRelease
)

// note is one queued delivery.
type note[T any] struct {
	kind  noteKind
	step  Step[T]
	state RunState
	lc    Lifecycle
	ev    emit.Event
	src   *puller[T]
}

// New creates a Controller in the Idle state.
//
// It returns a *ConfigurationError when the options are inconsistent, for
// example a minimum delay above the maximum, or when a renderer or source
// factory was registered for a different payload type.
func New[T any](opts ...Option) (*Controller[T], error) {
	cfg := &controllerConfig{
		opts:  DefaultOptions(),
		clock: SystemClock{},
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.opts.validate(); err != nil {
		return nil, err
	}

	c := &Controller[T]{
		state:   Idle,
		opts:    cfg.opts,
		clock:   cfg.clock,
		emitter: cfg.emitter,
		metrics: cfg.metrics,
	}
	c.pace.clock = cfg.clock
	c.delay = cfg.opts.clamp(cfg.opts.Delay)

	var renderers MultiRenderer[T]
	for _, r := range cfg.renderers {
		typed, ok := r.(Renderer[T])
		if !ok {
			return nil, &ConfigurationError{
				Message: fmt.Sprintf("renderer %T does not accept %T payloads", r, *new(T)),
				Code:    "RENDERER_TYPE",
			}
		}
		renderers = append(renderers, typed)
	}
	switch len(renderers) {
	case 0:
	case 1:
		c.renderer = renderers[0]
	default:
		c.renderer = renderers
	}

	if cfg.factory != nil {
		f, ok := cfg.factory.(SourceFactory[T])
		if !ok {
			return nil, &ConfigurationError{
				Message: fmt.Sprintf("source factory %T does not produce %T payloads", cfg.factory, *new(T)),
				Code:    "FACTORY_TYPE",
			}
		}
		c.factory = f
	}

	if c.metrics != nil {
		c.metrics.SetStepDelay(c.delay)
	}
	return c, nil
}

// Start begins automatic playback of src.
//
// It is legal from Idle, Completed and Failed; elsewhere it returns a
// *TransitionError matching ErrInvalidTransition and changes nothing. A nil
// src is built with the configured SourceFactory, or ErrNoSource is returned.
// The first pull is scheduled through the Clock with zero delay, so a Pause
// issued right after Start yields no steps.
func (c *Controller[T]) Start(src Source[T]) error {
	if src == nil {
		var err error
		if src, err = c.newSource(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	next, ok := Transition(c.state, CmdStart)
	if !ok {
		err := c.rejectLocked(CmdStart, "")
		c.unlockAndFlush()
		closeQuietly(src)
		return err
	}

	c.beginRunLocked(src, next)
	c.pace.schedule(c.handle.Gen, 0, c.fire)
	c.unlockAndFlush()
	return nil
}

// Pause stops automatic playback and keeps the Step Source. The pending
// timer is cancelled outright; Resume schedules a fresh pull. Pause is a
// no-op outside Running.
func (c *Controller[T]) Pause() {
	c.mu.Lock()
	next, ok := Transition(c.state, CmdPause)
	if !ok {
		c.rejectLocked(CmdPause, "")
		c.unlockAndFlush()
		return
	}

	c.pace.stop()
	c.setStateLocked(next)
	c.lifecycleLocked(LifecyclePaused, c.handle, nil)
	c.unlockAndFlush()
}

// Resume continues automatic playback with an immediate pull. A pull that
// was in flight when the run was paused is delivered instead. Resume is a
// no-op outside Paused.
func (c *Controller[T]) Resume() {
	c.mu.Lock()
	next, ok := Transition(c.state, CmdResume)
	if !ok {
		c.rejectLocked(CmdResume, "")
		c.unlockAndFlush()
		return
	}

	c.setStateLocked(next)
	c.lifecycleLocked(LifecycleResumed, c.handle, nil)

	switch {
	case c.parked != nil:
		res := *c.parked
		c.parked = nil
		c.applyLocked(res)
	case c.inflight:
		// the outstanding pull lands in Running and continues the chain
	default:
		c.pace.schedule(c.handle.Gen, 0, c.fire)
	}
	c.unlockAndFlush()
}

// Step pulls exactly one step and returns to Paused, or to Completed when the
// step is final. It never resumes automatic playback.
//
// From Paused the pull runs on the calling goroutine, so the step is
// delivered before Step returns (unless another goroutine is delivering at
// the time). From Idle a new run is created with the SourceFactory first;
// without one Step returns ErrNoSource. In any other state Step returns a
// *TransitionError and changes nothing, which makes Step while Stepping and
// Step after completion harmless.
func (c *Controller[T]) Step() error {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()

		src, err := c.newSource()
		if err != nil {
			return err
		}

		c.mu.Lock()
		next, ok := Transition(c.state, CmdStep)
		if !ok || c.state != Idle {
			err := c.rejectLocked(CmdStep, "state changed while building source")
			c.unlockAndFlush()
			closeQuietly(src)
			return err
		}
		c.beginRunLocked(src, next)
		return c.pullSteppedLocked()
	}

	next, ok := Transition(c.state, CmdStep)
	if !ok {
		err := c.rejectLocked(CmdStep, "")
		c.unlockAndFlush()
		return err
	}
	c.setStateLocked(next)

	if c.parked != nil {
		res := *c.parked
		c.parked = nil
		c.applyLocked(res)
		c.unlockAndFlush()
		return nil
	}
	if c.inflight {
		// the pull started before Pause becomes the stepped pull
		c.unlockAndFlush()
		return nil
	}
	return c.pullSteppedLocked()
}

// pullSteppedLocked performs the Stepping pull on the calling goroutine.
// It is entered with c.mu held and returns with it released.
func (c *Controller[T]) pullSteppedLocked() error {
	c.inflight = true
	gen, src, ctx := c.handle.Gen, c.src, c.runCtx
	c.unlockAndFlush()

	c.pullAndComplete(gen, src, ctx)
	return nil
}

// Cancel stops the current run and returns to Idle. The run handle is
// invalidated, so a pending timer or in-flight pull of the old run is
// discarded when it lands. Counters are kept. Cancel from Idle does nothing.
func (c *Controller[T]) Cancel() {
	c.mu.Lock()
	if c.state == Idle {
		c.unlockAndFlush()
		return
	}

	old := c.handle
	live := c.state.HoldsSource()
	steps := c.seq

	c.releaseLocked()
	c.handle = RunHandle{}
	c.setStateLocked(Idle)

	if live {
		c.recordOutcomeLocked("cancelled")
		c.outbox = append(c.outbox, note[T]{kind: noteLifecycle, lc: Lifecycle{
			Kind:  LifecycleCancelled,
			Run:   old,
			State: Idle,
			Steps: steps,
		}})
		c.eventLocked(old, emit.MsgRunCancelled, -1, map[string]interface{}{"steps": steps})
	}
	c.unlockAndFlush()
}

// Reset discards the current run, if any, mints a fresh run handle, clears
// all counters and the last error, and returns to Idle. It is legal in every
// state and always emits a reset lifecycle event.
func (c *Controller[T]) Reset() {
	c.mu.Lock()
	old := c.handle
	live := c.state.HoldsSource()
	if live {
		c.recordOutcomeLocked("reset")
	}

	c.releaseLocked()
	c.gen++
	c.handle = RunHandle{Gen: c.gen, ID: newRunID()}
	c.seq = 0
	c.stats = counters{}
	c.setStateLocked(Idle)
	if live {
		c.lifecycleLocked(LifecycleReset, c.handle, nil, old)[emit.MetaPreviousRun] = old.ID
	} else {
		c.lifecycleLocked(LifecycleReset, c.handle, nil)
	}
	c.unlockAndFlush()
}

// SetSpeed sets the delay between automatically advanced steps, clamped to
// the configured bounds, and returns the value applied. It is legal in every
// state and affects only pulls scheduled after the call.
func (c *Controller[T]) SetSpeed(d time.Duration) time.Duration {
	c.mu.Lock()
	applied := c.opts.clamp(d)
	prev := c.delay
	c.delay = applied

	if c.metrics != nil {
		c.metrics.SetStepDelay(applied)
	}
	if applied != prev {
		c.eventLocked(c.handle, emit.MsgSpeedChanged, -1, map[string]interface{}{
			"requested_ms": d.Milliseconds(),
			"delay_ms":     applied.Milliseconds(),
			"clamped":      applied != d,
		})
	}
	c.unlockAndFlush()
	return applied
}

// State returns the current RunState.
func (c *Controller[T]) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the Controller.
func (c *Controller[T]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:        c.state,
		Run:          c.handle,
		NextSeq:      c.seq,
		Delay:        c.delay,
		PullInFlight: c.inflight,
		Runs:         c.stats.runs,
		StepsEmitted: c.stats.steps,
		LastErr:      c.stats.lastErr,
	}
}

// newSource builds a Source with the factory. It must be called without c.mu
// held because the factory is user code.
func (c *Controller[T]) newSource() (Source[T], error) {
	if c.factory == nil {
		return nil, ErrNoSource
	}
	src, err := c.factory()
	if err != nil {
		return nil, fmt.Errorf("source factory: %w", err)
	}
	if src == nil {
		return nil, ErrNoSource
	}
	return src, nil
}

// beginRunLocked tears down whatever is left of the previous run and starts a
// new one holding src.
func (c *Controller[T]) beginRunLocked(src Source[T], state RunState) {
	c.releaseLocked()

	c.gen++
	c.handle = RunHandle{Gen: c.gen, ID: newRunID()}
	c.seq = 0
	c.runCtx, c.cancel = context.WithCancel(context.Background())

	h := c.handle
	c.src = newPuller(src, c.opts.PullTimeout, func(err error) { c.closeFailed(h, err) })
	c.stats.runs++

	c.setStateLocked(state)
	c.lifecycleLocked(LifecycleStarted, h, nil)
}

// releaseLocked drops the Step Source and everything scheduled against it.
// The source's Close runs after the lock is released, or when an in-flight
// pull returns.
func (c *Controller[T]) releaseLocked() {
	c.pace.stop()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.src != nil {
		if c.src.dispose() {
			c.outbox = append(c.outbox, note[T]{kind: noteRelease, src: c.src})
		}
		c.src = nil
	}
	c.runCtx = nil
	c.parked = nil
	c.inflight = false
}

// fire is the pacer callback: it pulls the next step of a Running run.
func (c *Controller[T]) fire(gen, token uint64) {
	c.mu.Lock()
	if !c.pace.claim(gen, token) || gen != c.handle.Gen || c.state != Running {
		c.staleLocked("timer", gen)
		c.unlockAndFlush()
		return
	}
	c.inflight = true
	src, ctx := c.src, c.runCtx
	c.mu.Unlock()

	c.pullAndComplete(gen, src, ctx)
}

// pullAndComplete pulls outside the lock and hands the result to completeLocked.
func (c *Controller[T]) pullAndComplete(gen uint64, src *puller[T], ctx context.Context) {
	start := c.clock.Now()
	item, err := src.pull(ctx)
	latency := c.clock.Now().Sub(start)

	c.mu.Lock()
	if c.metrics != nil {
		c.metrics.RecordPullLatency(latency, pullStatus(err))
	}
	c.completeLocked(gen, pulled[T]{item: item, err: err})
	c.unlockAndFlush()
}

// completeLocked routes a finished pull according to the current state.
func (c *Controller[T]) completeLocked(gen uint64, res pulled[T]) {
	if gen != c.handle.Gen || !c.state.HoldsSource() {
		c.staleLocked("pull", gen)
		return
	}
	c.inflight = false

	if c.state == Paused {
		// paused mid-pull: keep the result for the next Resume or Step
		c.parked = &res
		return
	}
	c.applyLocked(res)
}

// applyLocked turns a pull result into a step or a failure. The state is
// Running or Stepping.
func (c *Controller[T]) applyLocked(res pulled[T]) {
	if res.err != nil {
		c.failLocked(res.err)
		return
	}

	step := Step[T]{
		Run:     c.handle,
		Seq:     c.seq,
		Final:   res.item.Done,
		Payload: res.item.Value,
	}
	c.seq++
	c.stats.steps++

	if step.Final {
		c.setStateLocked(Completed)
		c.outbox = append(c.outbox, note[T]{kind: noteStep, step: step, state: Completed})
		c.releaseLocked()
		c.recordOutcomeLocked("completed")
		c.lifecycleLocked(LifecycleCompleted, c.handle, nil)
		return
	}

	if c.state == Stepping {
		c.setStateLocked(Paused)
	}
	c.outbox = append(c.outbox, note[T]{kind: noteStep, step: step, state: c.state})

	if c.state == Running {
		c.pace.schedule(c.handle.Gen, c.delay, c.fire)
	}
}

// failLocked moves the run to Failed with err as the cause.
func (c *Controller[T]) failLocked(err error) {
	serr := &StepSourceError{
		Run:   c.handle,
		Seq:   c.seq,
		Code:  failureCode(err),
		Cause: err,
	}
	c.stats.lastErr = serr

	c.setStateLocked(Failed)
	c.releaseLocked()
	c.recordOutcomeLocked("failed")
	c.lifecycleLocked(LifecycleFailed, c.handle, serr)
}

// closeFailed reports a Source whose Close returned an error or panicked.
func (c *Controller[T]) closeFailed(run RunHandle, err error) {
	c.mu.Lock()
	c.eventLocked(run, emit.MsgSourceClose, -1, map[string]interface{}{"error": err.Error()})
	c.unlockAndFlush()
}

func (c *Controller[T]) setStateLocked(next RunState) {
	if next == c.state {
		return
	}
	if c.metrics != nil {
		c.metrics.RecordTransition(c.state, next)
	}
	c.state = next
}

func (c *Controller[T]) rejectLocked(cmd Command, reason string) error {
	err := &TransitionError{Command: cmd, State: c.state, Reason: reason}
	if c.metrics != nil {
		c.metrics.RecordRejected(cmd, c.state)
	}
	meta := map[string]interface{}{"command": cmd.String()}
	if reason != "" {
		meta["reason"] = reason
	}
	c.eventLocked(c.handle, emit.MsgCommandRejected, -1, meta)
	return err
}

func (c *Controller[T]) staleLocked(kind string, gen uint64) {
	if c.metrics != nil {
		c.metrics.RecordStale(kind)
	}
	c.eventLocked(c.handle, emit.MsgStaleDropped, -1, map[string]interface{}{
		"kind": kind,
		"gen":  int64(gen),
	})
}

func (c *Controller[T]) recordOutcomeLocked(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordRunOutcome(outcome)
	}
}

var lifecycleMsgs = map[LifecycleKind]string{
	LifecycleStarted:   emit.MsgRunStarted,
	LifecyclePaused:    emit.MsgRunPaused,
	LifecycleResumed:   emit.MsgRunResumed,
	LifecycleCompleted: emit.MsgRunCompleted,
	LifecycleFailed:    emit.MsgRunFailed,
	LifecycleReset:     emit.MsgRunReset,
	LifecycleCancelled: emit.MsgRunCancelled,
}

// lifecycleLocked queues a lifecycle note and its event, returning the event's
// metadata so callers can add to it before the flush.
func (c *Controller[T]) lifecycleLocked(kind LifecycleKind, run RunHandle, err error, previous ...RunHandle) map[string]interface{} {
	lc := Lifecycle{Kind: kind, Run: run, State: c.state, Steps: c.seq, Err: err}
	if len(previous) > 0 {
		lc.Previous = previous[0]
	}
	c.outbox = append(c.outbox, note[T]{kind: noteLifecycle, lc: lc})

	meta := map[string]interface{}{"steps": c.seq}
	if err != nil {
		meta["error"] = err.Error()
		if serr, ok := err.(*StepSourceError); ok {
			meta["code"] = serr.Code
		}
	}
	c.eventLocked(run, lifecycleMsgs[kind], -1, meta)
	return meta
}

func (c *Controller[T]) eventLocked(run RunHandle, msg string, seq int, meta map[string]interface{}) {
	if c.emitter == nil {
		return
	}
	c.outbox = append(c.outbox, note[T]{kind: noteEvent, ev: emit.Event{
		RunID: run.ID,
		Seq:   seq,
		State: c.state.String(),
		Msg:   msg,
		Meta:  meta,
	}})
}

// unlockAndFlush releases c.mu and delivers queued notes.
//
// Only one goroutine drains at a time. Notes queued by a renderer that calls
// back into the Controller, or by a concurrent command, are picked up by the
// goroutine already draining.
func (c *Controller[T]) unlockAndFlush() {
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true

	for {
		if len(c.outbox) == 0 {
			c.outbox = nil
			c.draining = false
			c.mu.Unlock()
			return
		}
		n := c.outbox[0]
		c.outbox = c.outbox[1:]

		if n.kind == noteStep && n.step.Run.Gen != c.handle.Gen {
			if c.metrics != nil {
				c.metrics.RecordStale("delivery")
			}
			continue
		}
		if n.kind == noteStep && c.metrics != nil {
			c.metrics.RecordStep(n.step.Final)
		}
		c.mu.Unlock()

		c.deliver(n)

		c.mu.Lock()
	}
}

// deliver runs one note outside the lock. A panicking renderer is not
// recovered; draining is released so later commands keep delivering.
func (c *Controller[T]) deliver(n note[T]) {
	done := false
	defer func() {
		if !done {
			c.mu.Lock()
			c.draining = false
			c.mu.Unlock()
		}
	}()

	switch n.kind {
	case noteStep:
		if c.renderer != nil {
			c.renderer.OnStep(n.step, n.state)
		}
		if c.emitter != nil {
			c.emitter.Emit(emit.Event{
				RunID: n.step.Run.ID,
				Seq:   n.step.Seq,
				State: n.state.String(),
				Msg:   emit.MsgStep,
				Meta:  map[string]interface{}{"final": n.step.Final},
			})
		}
	case noteLifecycle:
		if c.renderer != nil {
			c.renderer.OnLifecycle(n.lc)
		}
	case noteEvent:
		c.emitter.Emit(n.ev)
	case noteRelease:
		n.src.closeSource()
	}
	done = true
}

// closeQuietly closes a source that never became part of a run.
func closeQuietly[T any](src Source[T]) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}
