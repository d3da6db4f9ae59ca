package playback

import (
	"fmt"
	"time"

	"github.com/dshills/playback-go/playback/emit"
)

// Default pacing values.
const (
	DefaultDelay    = 250 * time.Millisecond
	DefaultMinDelay = 0
	DefaultMaxDelay = 5 * time.Second
)

// Options configures pacing for a Controller.
type Options struct {
	// Delay is the initial SpeedSetting: the pause between automatically
	// advanced steps. Default: 250ms.
	Delay time.Duration

	// MinDelay and MaxDelay bound every speed passed to SetSpeed.
	// Default: [0, 5s].
	MinDelay time.Duration
	MaxDelay time.Duration

	// PullTimeout fails the run with PULL_TIMEOUT when a single pull from the
	// Step Source takes longer. Zero disables it.
	PullTimeout time.Duration
}

// DefaultOptions returns the Options used when none are given.
func DefaultOptions() Options {
	return Options{
		Delay:    DefaultDelay,
		MinDelay: DefaultMinDelay,
		MaxDelay: DefaultMaxDelay,
	}
}

func (o Options) validate() error {
	if o.MinDelay < 0 {
		return &ConfigurationError{Message: fmt.Sprintf("min delay %v is negative", o.MinDelay), Code: "INVALID_BOUNDS"}
	}
	if o.MaxDelay < o.MinDelay {
		return &ConfigurationError{
			Message: fmt.Sprintf("max delay %v is below min delay %v", o.MaxDelay, o.MinDelay),
			Code:    "INVALID_BOUNDS",
		}
	}
	if o.PullTimeout < 0 {
		return &ConfigurationError{Message: "pull timeout must not be negative", Code: "INVALID_TIMEOUT"}
	}
	return nil
}

// clamp bounds d to [MinDelay, MaxDelay].
func (o Options) clamp(d time.Duration) time.Duration {
	if d < o.MinDelay {
		return o.MinDelay
	}
	if d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// Option is a functional option for configuring a Controller.
//
// Example:
//
//	ctrl, err := playback.New[Swap](
//	    playback.WithDelay(100*time.Millisecond),
//	    playback.WithDelayBounds(10*time.Millisecond, 2*time.Second),
//	    playback.WithRenderer[Swap](view),
//	)
type Option func(*controllerConfig) error

// controllerConfig collects options before New builds the Controller.
// Renderers and the source factory are stored untyped because Option is not
// generic; New checks them against the Controller's payload type.
type controllerConfig struct {
	opts      Options
	clock     Clock
	emitter   emit.Emitter
	metrics   *PrometheusMetrics
	renderers []any
	factory   any
}

// WithOptions replaces the pacing Options wholesale.
func WithOptions(opts Options) Option {
	return func(cfg *controllerConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithDelay sets the initial delay between automatic steps. It is clamped to
// the configured bounds.
func WithDelay(d time.Duration) Option {
	return func(cfg *controllerConfig) error {
		cfg.opts.Delay = d
		return nil
	}
}

// WithDelayBounds sets the range SetSpeed clamps to.
func WithDelayBounds(minDelay, maxDelay time.Duration) Option {
	return func(cfg *controllerConfig) error {
		cfg.opts.MinDelay = minDelay
		cfg.opts.MaxDelay = maxDelay
		return nil
	}
}

// WithPullTimeout bounds the duration of a single pull from the Step Source.
func WithPullTimeout(d time.Duration) Option {
	return func(cfg *controllerConfig) error {
		if d < 0 {
			return &ConfigurationError{Message: "pull timeout must not be negative", Code: "INVALID_TIMEOUT"}
		}
		cfg.opts.PullTimeout = d
		return nil
	}
}

// WithClock sets the Clock used for pacing. Default: SystemClock.
// Tests typically pass a *ManualClock.
func WithClock(clock Clock) Option {
	return func(cfg *controllerConfig) error {
		if clock == nil {
			return &ConfigurationError{Message: "clock must not be nil", Code: "NIL_CLOCK"}
		}
		cfg.clock = clock
		return nil
	}
}

// WithEmitter sets the observability event sink. Default: none.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *controllerConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := playback.NewPrometheusMetrics(registry)
//	ctrl, _ := playback.New[int](playback.WithMetrics(metrics))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *controllerConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithRenderer registers a Renderer. It may be given more than once; renderers
// are called in registration order.
func WithRenderer[T any](r Renderer[T]) Option {
	return func(cfg *controllerConfig) error {
		if r == nil {
			return nil
		}
		cfg.renderers = append(cfg.renderers, r)
		return nil
	}
}

// WithSourceFactory sets the factory used by Start(nil) and by Step from Idle.
func WithSourceFactory[T any](f SourceFactory[T]) Option {
	return func(cfg *controllerConfig) error {
		cfg.factory = f
		return nil
	}
}
