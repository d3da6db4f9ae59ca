package emit

// Emitter receives observability events from a playback Controller.
//
// Emitters are the diagnostic side channel of the engine: renderers see steps
// and lifecycle events, emitters see everything the Controller does,
// including rejected commands and stale results it dropped.
//
// Implementations should be:
//   - Non-blocking: Emit is called on the Controller's delivery path
//   - Thread-safe: runs driven by timers deliver from timer goroutines
//   - Resilient: Emit should not panic
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans each event out to several emitters in order.
//
// Example:
//
//	buffered := emit.NewBufferedEmitter()
//	emitter := emit.NewMultiEmitter(buffered, emit.NewLogEmitter(os.Stdout, false))
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates a MultiEmitter. Nil emitters are skipped.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	m := &MultiEmitter{}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// Emit forwards the event to every wrapped emitter.
func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}
