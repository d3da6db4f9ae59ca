package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are grouped by RunID and can be queried with optional filtering.
// Events without a RunID (for example commands rejected while Idle) are kept
// under the empty run ID.
//
// Useful for tests, debugging panels and post-run analysis. All events are
// kept until Clear is called.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	ctrl, _ := playback.New[int](playback.WithEmitter(emitter))
//	...
//	steps := emitter.GetHistoryWithFilter(runID, emit.HistoryFilter{Msg: emit.MsgStep})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []string
}

// HistoryFilter specifies criteria for filtering history.
//
// All fields are optional and combined with AND logic.
type HistoryFilter struct {
	State  string // Filter by state name (empty = no filter)
	Msg    string // Filter by message (empty = no filter)
	MinSeq *int   // Minimum sequence number (nil = no filter)
	MaxSeq *int   // Maximum sequence number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.events[event.RunID]; !ok {
		b.order = append(b.order, event.RunID)
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of all events for a run, in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events for a run that match filter.
//
// Example:
//
//	minSeq, maxSeq := 5, 10
//	window := emitter.GetHistoryWithFilter(runID, emit.HistoryFilter{
//		Msg:    emit.MsgStep,
//		MinSeq: &minSeq,
//		MaxSeq: &maxSeq,
//	})
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[runID] {
		if matchesFilter(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// RunIDs returns the run IDs seen so far, in first-seen order.
func (b *BufferedEmitter) RunIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, len(b.order))
	copy(ids, b.order)
	return ids
}

// All returns every stored event, grouped by run in first-seen order.
func (b *BufferedEmitter) All() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var all []Event
	for _, id := range b.order {
		all = append(all, b.events[id]...)
	}
	return all
}

func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.State != "" && event.State != filter.State {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinSeq != nil && event.Seq < *filter.MinSeq {
		return false
	}
	if filter.MaxSeq != nil && event.Seq > *filter.MaxSeq {
		return false
	}
	return true
}

// Clear removes stored events for runID, or every event when runID is "".
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}

	delete(b.events, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
