package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/playback-go/playback/store"
)

// Recorder is a Renderer that persists every step and run status to a store,
// so a run can be listed and replayed later with ReplaySource.
//
// Writes happen synchronously inside the Renderer callbacks. Store errors do
// not interrupt playback; the first one is kept and returned by Err.
//
// Example:
//
//	st, _ := store.NewSQLiteStore[Frame]("./runs.db")
//	rec := playback.NewRecorder[Frame](st)
//	ctrl, _ := playback.New[Frame](playback.WithRenderer[Frame](rec))
type Recorder[T any] struct {
	store store.Store[T]
	ctx   context.Context
	now   func() time.Time

	mu   sync.Mutex
	runs map[string]store.RunRecord
	err  error
}

// NewRecorder returns a Recorder writing to st.
func NewRecorder[T any](st store.Store[T]) *Recorder[T] {
	return &Recorder[T]{
		store: st,
		ctx:   context.Background(),
		now:   time.Now,
		runs:  make(map[string]store.RunRecord),
	}
}

// WithContext returns the Recorder after setting the context used for store
// calls. It must be called before the Recorder is registered.
func (r *Recorder[T]) WithContext(ctx context.Context) *Recorder[T] {
	r.ctx = ctx
	return r
}

// OnStep persists the step.
func (r *Recorder[T]) OnStep(step Step[T], state RunState) {
	err := r.store.SaveStep(r.ctx, store.Record[T]{
		RunID:      step.Run.ID,
		Seq:        step.Seq,
		Final:      step.Final,
		Payload:    step.Payload,
		RecordedAt: r.now(),
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.keep(err)
	if run, ok := r.runs[step.Run.ID]; ok {
		run.Steps = step.Seq + 1
		r.runs[step.Run.ID] = run
	}
}

// OnLifecycle persists the run status.
func (r *Recorder[T]) OnLifecycle(event Lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := event.Run.ID
	run, known := r.runs[id]

	switch event.Kind {
	case LifecycleStarted:
		run = store.RunRecord{ID: id, Status: store.StatusRunning, StartedAt: r.now()}
	case LifecyclePaused:
		run.Status = store.StatusPaused
	case LifecycleResumed:
		run.Status = store.StatusRunning
	case LifecycleCompleted:
		run.Status = store.StatusCompleted
	case LifecycleFailed:
		run.Status = store.StatusFailed
		if event.Err != nil {
			run.Error = event.Err.Error()
		}
	case LifecycleCancelled:
		run.Status = store.StatusCancelled
	default:
		// reset mints a handle that has no run behind it; only the run it
		// discarded needs closing
		if !event.Previous.IsZero() {
			r.closeDiscarded(event.Previous)
		}
		return
	}
	if !known && event.Kind != LifecycleStarted {
		// recorder registered mid-run
		run.ID = id
		run.StartedAt = r.now()
	}
	run.Steps = event.Steps

	if event.Kind == LifecycleCompleted || event.Kind == LifecycleFailed || event.Kind == LifecycleCancelled {
		run.FinishedAt = r.now()
		delete(r.runs, id)
	} else {
		r.runs[id] = run
	}

	r.keep(r.store.SaveRun(r.ctx, run))
}

// closeDiscarded marks a run torn down by Reset as cancelled. Its step count
// comes from the steps seen, since the reset event carries the fresh run's.
func (r *Recorder[T]) closeDiscarded(h RunHandle) {
	run, ok := r.runs[h.ID]
	if !ok {
		run = store.RunRecord{ID: h.ID, StartedAt: r.now()}
	}
	delete(r.runs, h.ID)

	run.Status = store.StatusCancelled
	run.FinishedAt = r.now()
	r.keep(r.store.SaveRun(r.ctx, run))
}

// Err returns the first store error encountered, if any.
func (r *Recorder[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder[T]) keep(err error) {
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("record run: %w", err)
	}
}

// ErrEmptyRun is returned by ReplaySource for a run with no recorded steps.
var ErrEmptyRun = errors.New("recorded run has no steps")

// ReplaySource loads a recorded run and returns a Source that plays its
// steps back in order. The last recorded step is final even when the
// original run was cancelled before completing.
//
// Example:
//
//	src, err := playback.ReplaySource[Frame](ctx, st, runID)
//	if err != nil {
//	    return err
//	}
//	ctrl.SetSpeed(50 * time.Millisecond)
//	_ = ctrl.Start(src)
func ReplaySource[T any](ctx context.Context, st store.Store[T], runID string) (Source[T], error) {
	recs, err := st.LoadSteps(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRun, runID)
	}

	items := make([]Item[T], len(recs))
	for i, rec := range recs {
		items[i] = Item[T]{Value: rec.Payload, Done: rec.Final || i == len(recs)-1}
	}
	return &replaySource[T]{items: items}, nil
}

type replaySource[T any] struct {
	items []Item[T]
	pos   int
}

func (s *replaySource[T]) Next(ctx context.Context) (Item[T], error) {
	if err := ctx.Err(); err != nil {
		return Item[T]{}, err
	}
	if s.pos >= len(s.items) {
		var zero T
		return Item[T]{Value: zero, Done: true}, nil
	}
	it := s.items[s.pos]
	s.pos++
	return it, nil
}
