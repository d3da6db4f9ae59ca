package playback

// Renderer consumes Steps and lifecycle events to update a visual surface.
//
// Deliveries are serialized: a Renderer never sees two callbacks at once for
// the same Controller, and Steps arrive in increasing Seq order within a run.
// A Renderer may call back into the Controller (for example to Pause when a
// breakpoint step arrives); the resulting events are delivered after the
// current callback returns.
//
// Values passed to a Renderer are snapshots. Renderers must not mutate the
// payload in ways the Step Source depends on.
type Renderer[T any] interface {
	OnStep(step Step[T], state RunState)
	OnLifecycle(event Lifecycle)
}

// RendererFuncs adapts a pair of functions to Renderer. Either may be nil.
type RendererFuncs[T any] struct {
	Step      func(step Step[T], state RunState)
	Lifecycle func(event Lifecycle)
}

// OnStep calls f.Step if set.
func (f RendererFuncs[T]) OnStep(step Step[T], state RunState) {
	if f.Step != nil {
		f.Step(step, state)
	}
}

// OnLifecycle calls f.Lifecycle if set.
func (f RendererFuncs[T]) OnLifecycle(event Lifecycle) {
	if f.Lifecycle != nil {
		f.Lifecycle(event)
	}
}

// MultiRenderer fans every callback out to each renderer in order.
type MultiRenderer[T any] []Renderer[T]

// OnStep forwards to every renderer.
func (m MultiRenderer[T]) OnStep(step Step[T], state RunState) {
	for _, r := range m {
		r.OnStep(step, state)
	}
}

// OnLifecycle forwards to every renderer.
func (m MultiRenderer[T]) OnLifecycle(event Lifecycle) {
	for _, r := range m {
		r.OnLifecycle(event)
	}
}
