package narrate

import (
	"context"
	"sync"
)

// MockChatModel is a ChatModel for tests.
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{{Text: "3 and 1 are swapped"}},
//	}
//
// Each call returns the next response; once they run out the last repeats.
// Err, when set, is returned instead. Block, when set, makes Chat wait for a
// receive or for ctx to be cancelled.
type MockChatModel struct {
	Responses []ChatOut
	Err       error
	Block     chan struct{}

	mu        sync.Mutex
	calls     [][]Message
	callIndex int
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ChatOut{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Calls returns a copy of the messages of every call so far.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls to Chat.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

// Reset clears the call history and rewinds the responses.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = nil
	m.callIndex = 0
}
