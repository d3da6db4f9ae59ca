package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dshills/playback-go/internal/algo"
	"github.com/dshills/playback-go/playback"
)

// stepMsg carries a delivered step into the program.
type stepMsg struct {
	step  playback.Step[algo.Frame]
	state playback.RunState
}

// lifecycleMsg carries a lifecycle event into the program.
type lifecycleMsg playback.Lifecycle

// batchMsg is everything the Bridge queued since the last wait.
type batchMsg []tea.Msg

// Bridge is the playback.Renderer that forwards controller callbacks to the
// Bubble Tea program. Callbacks never block: the controller may be called from
// Update, so a blocking send could deadlock with it.
type Bridge struct {
	mu      sync.Mutex
	pending []tea.Msg
	notify  chan struct{}
}

// NewBridge creates an empty Bridge.
func NewBridge() *Bridge {
	return &Bridge{notify: make(chan struct{}, 1)}
}

// OnStep queues the step for the model.
func (b *Bridge) OnStep(step playback.Step[algo.Frame], state playback.RunState) {
	b.push(stepMsg{step: step, state: state})
}

// OnLifecycle queues the lifecycle event for the model.
func (b *Bridge) OnLifecycle(event playback.Lifecycle) {
	b.push(lifecycleMsg(event))
}

func (b *Bridge) push(msg tea.Msg) {
	b.mu.Lock()
	b.pending = append(b.pending, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// wait blocks until something was pushed and returns it all as one batch.
func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		<-b.notify

		b.mu.Lock()
		defer b.mu.Unlock()
		msgs := b.pending
		b.pending = nil
		return batchMsg(msgs)
	}
}
