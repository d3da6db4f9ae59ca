package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Failure codes carried by StepSourceError.
const (
	CodeSourceError = "SOURCE_ERROR"
	CodeSourcePanic = "SOURCE_PANIC"
	CodePullTimeout = "PULL_TIMEOUT"
)

// errPullTimeout marks a pull that outlived the configured pull timeout.
var errPullTimeout = errors.New("pull exceeded timeout")

// panicError wraps a value recovered from a panicking Source.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("step source panicked: %v", e.value)
}

// puller wraps a Source behind pull and dispose.
//
// dispose is idempotent and safe while a pull is in flight: the source's Close
// is then deferred until that pull returns, so a coroutine-backed source is
// never stopped concurrently with its next call. Pulls after dispose fail with
// ErrSourceDisposed without touching the source.
type puller[T any] struct {
	src     Source[T]
	timeout time.Duration
	onClose func(error)

	mu       sync.Mutex
	busy     bool
	disposed bool
	closed   bool
}

func newPuller[T any](src Source[T], timeout time.Duration, onClose func(error)) *puller[T] {
	return &puller[T]{src: src, timeout: timeout, onClose: onClose}
}

// pull fetches exactly one item from the source.
func (p *puller[T]) pull(ctx context.Context) (Item[T], error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return Item[T]{}, ErrSourceDisposed
	}
	p.busy = true
	p.mu.Unlock()

	item, err := p.next(ctx)

	p.mu.Lock()
	p.busy = false
	closeNow := p.disposed && !p.closed
	if closeNow {
		p.closed = true
	}
	p.mu.Unlock()

	if closeNow {
		p.closeSource()
	}
	return item, err
}

// next calls the source with the pull timeout applied and panics recovered.
func (p *puller[T]) next(ctx context.Context) (item Item[T], err error) {
	timeoutCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			item = Item[T]{}
			err = &panicError{value: r}
		}
	}()

	item, err = p.src.Next(timeoutCtx)

	// the pull deadline fired and the parent run context is still alive
	if p.timeout > 0 && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Item[T]{}, fmt.Errorf("%w: %v", errPullTimeout, p.timeout)
	}
	return item, err
}

// dispose releases the source. It reports whether the source's Close must be
// run now by the caller (false when a pull is in flight or it was already
// disposed; the in-flight pull closes it on return).
func (p *puller[T]) dispose() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return false
	}
	p.disposed = true
	if p.busy {
		return false
	}
	p.closed = true
	return true
}

// closeSource closes the source if it implements io.Closer.
func (p *puller[T]) closeSource() {
	c, ok := p.src.(io.Closer)
	if !ok {
		return
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r}
			}
		}()
		err = c.Close()
	}()

	if err != nil && p.onClose != nil {
		p.onClose(err)
	}
}

// failureCode classifies a pull error for StepSourceError.
func failureCode(err error) string {
	var pe *panicError
	switch {
	case errors.As(err, &pe):
		return CodeSourcePanic
	case errors.Is(err, errPullTimeout):
		return CodePullTimeout
	default:
		return CodeSourceError
	}
}
