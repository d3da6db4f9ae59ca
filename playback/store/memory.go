package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store[T].
//
// It is safe for concurrent use. Data is lost when the process exits.
type MemStore[T any] struct {
	mu     sync.RWMutex
	steps  map[string]map[int]Record[T] // runID -> seq -> record
	runs   map[string]RunRecord
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[T any]() *MemStore[T] {
	return &MemStore[T]{
		steps: make(map[string]map[int]Record[T]),
		runs:  make(map[string]RunRecord),
	}
}

// SaveStep stores rec, replacing any record with the same run and seq.
func (m *MemStore[T]) SaveStep(_ context.Context, rec Record[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	byseq, ok := m.steps[rec.RunID]
	if !ok {
		byseq = make(map[int]Record[T])
		m.steps[rec.RunID] = byseq
	}
	byseq[rec.Seq] = rec
	return nil
}

// LoadSteps returns the steps of a run ordered by Seq.
func (m *MemStore[T]) LoadSteps(_ context.Context, runID string) ([]Record[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	byseq, hasSteps := m.steps[runID]
	if _, hasRun := m.runs[runID]; !hasSteps && !hasRun {
		return nil, ErrNotFound
	}

	out := make([]Record[T], 0, len(byseq))
	for _, rec := range byseq {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveRun inserts or replaces a run summary.
func (m *MemStore[T]) SaveRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.runs[run.ID] = run
	return nil
}

// LoadRun returns a run summary or ErrNotFound.
func (m *MemStore[T]) LoadRun(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return RunRecord{}, ErrClosed
	}

	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

// ListRuns returns every run ordered by StartedAt, then ID.
func (m *MemStore[T]) ListRuns(_ context.Context) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// DeleteRun removes a run and its steps.
func (m *MemStore[T]) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	_, hasSteps := m.steps[runID]
	_, hasRun := m.runs[runID]
	if !hasSteps && !hasRun {
		return ErrNotFound
	}
	delete(m.steps, runID)
	delete(m.runs, runID)
	return nil
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (m *MemStore[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
