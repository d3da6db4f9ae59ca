package playback

import (
	"context"
	"iter"
)

// Item is one result of Source.Next.
//
// Done marks Value as the terminal step of the sequence: the Controller emits
// it with Final set and completes the run.
type Item[T any] struct {
	Value T
	Done  bool
}

// Source supplies a lazy, possibly infinite sequence of steps.
//
// Next may return immediately or block (for example while a remote producer
// computes the next step); the Controller treats both the same way. Next is
// never called concurrently for one source. The ctx passed to Next is
// cancelled when the run is torn down.
//
// A Source that also implements io.Closer is closed exactly once when the
// Controller releases it, after any in-flight Next has returned.
//
// Algorithm state (arrays, counters, visited sets) belongs to the Source and
// is never shared with the Controller.
type Source[T any] interface {
	Next(ctx context.Context) (Item[T], error)
}

// SourceFunc is a function adapter that implements the Source interface.
//
// Example:
//
//	n := 0
//	src := playback.SourceFunc[int](func(ctx context.Context) (playback.Item[int], error) {
//	    n++
//	    return playback.Item[int]{Value: n, Done: n == 3}, nil
//	})
type SourceFunc[T any] func(ctx context.Context) (Item[T], error)

// Next implements the Source interface for SourceFunc.
func (f SourceFunc[T]) Next(ctx context.Context) (Item[T], error) {
	return f(ctx)
}

// SourceFactory builds a fresh Source. The Controller uses it for Step from
// Idle and for Start(nil).
type SourceFactory[T any] func() (Source[T], error)

// FromSlice returns a Source that yields the values in order, marking the last
// one as final. An empty slice yields a single final step with the zero value.
func FromSlice[T any](values []T) Source[T] {
	return &sliceSource[T]{values: values}
}

type sliceSource[T any] struct {
	values []T
	pos    int
}

func (s *sliceSource[T]) Next(ctx context.Context) (Item[T], error) {
	if err := ctx.Err(); err != nil {
		return Item[T]{}, err
	}
	if s.pos >= len(s.values) {
		var zero T
		return Item[T]{Value: zero, Done: true}, nil
	}
	v := s.values[s.pos]
	s.pos++
	return Item[T]{Value: v, Done: s.pos == len(s.values)}, nil
}

// FromSeq adapts a push iterator, typically a generator-style algorithm that
// yields one value per step, into a Source.
//
// The iterator runs as a coroutine via iter.Pull and is advanced only when the
// Controller pulls. One value of lookahead marks the last yielded value as
// final. Closing the source stops the coroutine.
//
// Example:
//
//	func bubbleSort(xs []int) iter.Seq[Swap] {
//	    return func(yield func(Swap) bool) {
//	        for i := range xs {
//	            for j := 0; j < len(xs)-i-1; j++ {
//	                if xs[j] > xs[j+1] {
//	                    xs[j], xs[j+1] = xs[j+1], xs[j]
//	                    if !yield(Swap{j, j + 1}) {
//	                        return
//	                    }
//	                }
//	            }
//	        }
//	    }
//	}
//
//	ctrl.Start(playback.FromSeq(bubbleSort(data)))
func FromSeq[T any](seq iter.Seq[T]) Source[T] {
	next, stop := iter.Pull(seq)
	return &seqSource[T]{next: next, stop: stop}
}

type seqSource[T any] struct {
	next    func() (T, bool)
	stop    func()
	peek    T
	hasPeek bool
	started bool
	done    bool
}

func (s *seqSource[T]) Next(ctx context.Context) (Item[T], error) {
	if err := ctx.Err(); err != nil {
		return Item[T]{}, err
	}
	if s.done {
		var zero T
		return Item[T]{Value: zero, Done: true}, nil
	}
	if !s.started {
		s.started = true
		s.peek, s.hasPeek = s.next()
	}
	if !s.hasPeek {
		s.done = true
		var zero T
		return Item[T]{Value: zero, Done: true}, nil
	}

	cur := s.peek
	s.peek, s.hasPeek = s.next()
	if !s.hasPeek {
		s.done = true
		return Item[T]{Value: cur, Done: true}, nil
	}
	return Item[T]{Value: cur}, nil
}

// Close stops the underlying coroutine.
func (s *seqSource[T]) Close() error {
	s.stop()
	return nil
}

// FromSeq2 adapts a fallible push iterator. A non-nil error yielded by the
// iterator is returned from Next after every value preceding it has been
// delivered, which fails the run.
func FromSeq2[T any](seq iter.Seq2[T, error]) Source[T] {
	next, stop := iter.Pull2(seq)
	return &seq2Source[T]{next: next, stop: stop}
}

type seq2Source[T any] struct {
	next    func() (T, error, bool)
	stop    func()
	peek    T
	peekErr error
	hasPeek bool
	started bool
	done    bool
}

func (s *seq2Source[T]) Next(ctx context.Context) (Item[T], error) {
	if err := ctx.Err(); err != nil {
		return Item[T]{}, err
	}
	if s.done {
		var zero T
		return Item[T]{Value: zero, Done: true}, nil
	}
	if !s.started {
		s.started = true
		s.peek, s.peekErr, s.hasPeek = s.next()
	}
	if !s.hasPeek {
		s.done = true
		var zero T
		return Item[T]{Value: zero, Done: true}, nil
	}
	if s.peekErr != nil {
		err := s.peekErr
		s.done = true
		return Item[T]{}, err
	}

	cur := s.peek
	s.peek, s.peekErr, s.hasPeek = s.next()
	if !s.hasPeek {
		s.done = true
		return Item[T]{Value: cur, Done: true}, nil
	}
	return Item[T]{Value: cur}, nil
}

// Close stops the underlying coroutine.
func (s *seq2Source[T]) Close() error {
	s.stop()
	return nil
}

// FromChannel returns a Source fed by a producer goroutine.
//
// The producer marks the last item with Done. If items is closed without a
// Done item, Next yields a final step with the zero value. A value received on
// errs fails the run. errs may be nil.
func FromChannel[T any](items <-chan Item[T], errs <-chan error) Source[T] {
	return &chanSource[T]{items: items, errs: errs}
}

type chanSource[T any] struct {
	items <-chan Item[T]
	errs  <-chan error
	done  bool
}

func (s *chanSource[T]) Next(ctx context.Context) (Item[T], error) {
	var zero T
	if s.done {
		return Item[T]{Value: zero, Done: true}, nil
	}
	for {
		select {
		case <-ctx.Done():
			return Item[T]{}, ctx.Err()
		case err, ok := <-s.errs:
			if !ok || err == nil {
				// closed or empty error channel: keep waiting on items only
				s.errs = nil
				continue
			}
			s.done = true
			return Item[T]{}, err
		case it, ok := <-s.items:
			if !ok {
				s.done = true
				return Item[T]{Value: zero, Done: true}, nil
			}
			if it.Done {
				s.done = true
			}
			return it, nil
		}
	}
}
