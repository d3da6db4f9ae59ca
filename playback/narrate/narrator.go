package narrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dshills/playback-go/playback"
)

// Defaults for a Narrator.
const (
	DefaultQueueSize = 16
	DefaultTimeout   = 30 * time.Second

	DefaultSystemPrompt = "You narrate a step-by-step algorithm visualization for a student. " +
		"Given the state after one step, explain in one or two short sentences what the algorithm just did."
)

// Narration is the commentary produced for one step.
type Narration struct {
	Run    playback.RunHandle
	Seq    int
	Final  bool
	Text   string
	Tokens int

	// Err is set when the model call failed or timed out.
	Err error
}

// Stats counts what a Narrator did with the steps it received.
type Stats struct {
	// Narrated steps reached the sink with text.
	Narrated int

	// Failed steps reached the sink with an error.
	Failed int

	// Dropped steps never reached the model: the queue was full or the
	// Narrator was closed.
	Dropped int

	// Stale steps belonged to a run that was cancelled, reset or replaced.
	Stale int
}

// Option configures a Narrator.
type Option[T any] func(*Narrator[T])

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt[T any](prompt string) Option[T] {
	return func(n *Narrator[T]) {
		n.system = prompt
	}
}

// WithPrompt sets how a step is rendered into the user message. The default
// renders the payload as JSON.
func WithPrompt[T any](fn func(playback.Step[T]) string) Option[T] {
	return func(n *Narrator[T]) {
		if fn != nil {
			n.prompt = fn
		}
	}
}

// WithQueueSize bounds the number of steps waiting for the model. Steps
// arriving while the queue is full are dropped.
func WithQueueSize[T any](size int) Option[T] {
	return func(n *Narrator[T]) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithTimeout bounds each model call.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(n *Narrator[T]) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithHistory keeps the last turns narrations of the current run in the
// conversation so the model can refer back to earlier steps. Default 0.
func WithHistory[T any](turns int) Option[T] {
	return func(n *Narrator[T]) {
		if turns >= 0 {
			n.history = turns
		}
	}
}

// Narrator is a playback.Renderer that narrates steps with a ChatModel.
//
// OnStep only enqueues; a single worker calls the model and invokes the sink,
// so narrations arrive in step order and the sink is never called
// concurrently. Steps from a run that has been cancelled, reset or replaced by
// a newer Start are discarded, and a model call in flight for such a run is
// cancelled.
//
// Example:
//
//	n := narrate.NewNarrator[Frame](anthropic.NewChatModel(key, ""), func(n narrate.Narration) {
//	    fmt.Printf("#%d %s\n", n.Seq, n.Text)
//	})
//	defer n.Close()
//	ctrl, _ := playback.New[Frame](playback.WithRenderer[Frame](n))
type Narrator[T any] struct {
	model     ChatModel
	sink      func(Narration)
	prompt    func(playback.Step[T]) string
	system    string
	timeout   time.Duration
	history   int
	queueSize int

	jobs chan playback.Step[T]
	done chan struct{}
	ctx  context.Context
	stop context.CancelFunc

	mu         sync.Mutex
	closed     bool
	live       uint64
	floor      uint64
	callGen    uint64
	cancelCall context.CancelFunc
	stats      Stats
}

// NewNarrator starts a Narrator. A nil sink discards narrations. Close must
// be called to stop the worker.
func NewNarrator[T any](model ChatModel, sink func(Narration), opts ...Option[T]) *Narrator[T] {
	if sink == nil {
		sink = func(Narration) {}
	}

	n := &Narrator[T]{
		model:     model,
		sink:      sink,
		prompt:    JSONPrompt[T],
		system:    DefaultSystemPrompt,
		timeout:   DefaultTimeout,
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.jobs = make(chan playback.Step[T], n.queueSize)
	n.ctx, n.stop = context.WithCancel(context.Background())
	go n.run()
	return n
}

// JSONPrompt renders a step as its sequence number and JSON payload.
func JSONPrompt[T any](step playback.Step[T]) string {
	payload, err := json.Marshal(step.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", step.Payload))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Step %d:\n%s\n", step.Seq, payload)
	if step.Final {
		sb.WriteString("This is the final step; summarise the result.\n")
	}
	return sb.String()
}

// OnStep implements playback.Renderer.
func (n *Narrator[T]) OnStep(step playback.Step[T], _ playback.RunState) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		n.stats.Dropped++
		return
	}
	if n.staleLocked(step.Run.Gen) {
		n.stats.Stale++
		return
	}
	n.adoptLocked(step.Run.Gen)

	select {
	case n.jobs <- step:
	default:
		n.stats.Dropped++
	}
}

// OnLifecycle implements playback.Renderer.
func (n *Narrator[T]) OnLifecycle(event playback.Lifecycle) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch event.Kind {
	case playback.LifecycleStarted:
		n.adoptLocked(event.Run.Gen)
	case playback.LifecycleCancelled, playback.LifecycleReset:
		if event.Run.Gen > n.floor {
			n.floor = event.Run.Gen
		}
		if n.cancelCall != nil && n.callGen <= n.floor {
			n.cancelCall()
		}
	}
}

// staleLocked reports whether steps of run gen must be discarded.
func (n *Narrator[T]) staleLocked(gen uint64) bool {
	return gen <= n.floor || gen < n.live
}

// adoptLocked makes gen the live run if it is newer, aborting a call that
// belongs to an older run.
func (n *Narrator[T]) adoptLocked(gen uint64) {
	if gen <= n.live {
		return
	}
	n.live = gen
	if n.cancelCall != nil && n.callGen < gen {
		n.cancelCall()
	}
}

func (n *Narrator[T]) run() {
	defer close(n.done)

	var (
		turns   []Message
		turnGen uint64
	)

	for step := range n.jobs {
		gen := step.Run.Gen
		ctx, cancel, ok := n.begin(gen)
		if !ok {
			continue
		}

		if gen != turnGen {
			turns = nil
			turnGen = gen
		}

		user := Message{Role: RoleUser, Content: n.prompt(step)}
		messages := make([]Message, 0, len(turns)+2)
		if n.system != "" {
			messages = append(messages, Message{Role: RoleSystem, Content: n.system})
		}
		messages = append(messages, turns...)
		messages = append(messages, user)

		out, err := n.model.Chat(ctx, messages)
		cancel()

		if !n.finish(gen, err) {
			continue
		}

		if err == nil && n.history > 0 {
			turns = append(turns, user, Message{Role: RoleAssistant, Content: out.Text})
			if len(turns) > 2*n.history {
				turns = turns[len(turns)-2*n.history:]
			}
		}

		n.sink(Narration{
			Run:    step.Run,
			Seq:    step.Seq,
			Final:  step.Final,
			Text:   out.Text,
			Tokens: out.Tokens,
			Err:    err,
		})
	}
}

// begin registers the model call for run gen, or reports that the step must
// be skipped.
func (n *Narrator[T]) begin(gen uint64) (context.Context, context.CancelFunc, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ctx.Err() != nil {
		n.stats.Dropped++
		return nil, nil, false
	}
	if n.staleLocked(gen) {
		n.stats.Stale++
		return nil, nil, false
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
	n.callGen = gen
	n.cancelCall = cancel
	return ctx, cancel, true
}

// finish records the outcome of a model call and reports whether the
// narration should reach the sink.
func (n *Narrator[T]) finish(gen uint64, err error) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cancelCall = nil
	switch {
	case n.ctx.Err() != nil:
		n.stats.Dropped++
		return false
	case n.staleLocked(gen):
		n.stats.Stale++
		return false
	case err != nil:
		n.stats.Failed++
	default:
		n.stats.Narrated++
	}
	return true
}

// Stats returns a snapshot of the counters.
func (n *Narrator[T]) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.stats
}

// Drain stops accepting steps and waits until the queued ones are narrated.
// If ctx ends first the remaining work is abandoned as by Close.
func (n *Narrator[T]) Drain(ctx context.Context) error {
	n.shutdown()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.stop()
		<-n.done
		return ctx.Err()
	}
}

// Close stops the worker, cancelling any call in flight and dropping queued
// steps. It is safe to call more than once.
func (n *Narrator[T]) Close() error {
	n.shutdown()
	n.stop()
	<-n.done
	return nil
}

func (n *Narrator[T]) shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
}
