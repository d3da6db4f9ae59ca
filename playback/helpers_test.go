package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/playback-go/playback/emit"
)

// recordingRenderer captures everything a Controller delivers.
type recordingRenderer[T any] struct {
	mu     sync.Mutex
	steps  []Step[T]
	states []RunState
	events []Lifecycle

	// onStep, when set, runs after the step is recorded.
	onStep func(Step[T])
}

func (r *recordingRenderer[T]) OnStep(step Step[T], state RunState) {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.states = append(r.states, state)
	hook := r.onStep
	r.mu.Unlock()

	if hook != nil {
		hook(step)
	}
}

func (r *recordingRenderer[T]) OnLifecycle(event Lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingRenderer[T]) Steps() []Step[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step[T](nil), r.steps...)
}

func (r *recordingRenderer[T]) Kinds() []LifecycleKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]LifecycleKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (r *recordingRenderer[T]) Events(kind LifecycleKind) []Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Lifecycle
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// closingSource counts Close calls on a wrapped source.
type closingSource[T any] struct {
	Source[T]
	closed atomic.Int32
}

func (s *closingSource[T]) Close() error {
	s.closed.Add(1)
	return nil
}

// gatedSource blocks every pull until the test releases it.
type gatedSource struct {
	entered chan struct{}
	gate    chan struct{}
	n       int
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		entered: make(chan struct{}, 16),
		gate:    make(chan struct{}),
	}
}

func (s *gatedSource) Next(ctx context.Context) (Item[int], error) {
	s.entered <- struct{}{}
	<-s.gate
	s.n++
	return Item[int]{Value: s.n * 10}, nil
}

type harness struct {
	ctrl    *Controller[int]
	clock   *ManualClock
	view    *recordingRenderer[int]
	emitter *emit.BufferedEmitter
}

// newHarness builds a Controller driven by a ManualClock with zero delay.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		clock:   NewManualClock(time.Unix(0, 0)),
		view:    &recordingRenderer[int]{},
		emitter: emit.NewBufferedEmitter(),
	}
	base := []Option{
		WithClock(h.clock),
		WithDelay(0),
		WithRenderer[int](h.view),
		WithEmitter(h.emitter),
	}
	ctrl, err := New[int](append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// advanceAsync runs clock.Advance on another goroutine and returns a channel
// closed when it returns.
func (h *harness) advanceAsync(d time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.clock.Advance(d)
	}()
	return done
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting")
	}
}

func assertSeqs(t *testing.T, steps []Step[int], want ...int) {
	t.Helper()
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d: %+v", len(want), len(steps), steps)
	}
	for i, s := range steps {
		if s.Seq != want[i] {
			t.Errorf("step %d: expected seq %d, got %d", i, want[i], s.Seq)
		}
	}
}
