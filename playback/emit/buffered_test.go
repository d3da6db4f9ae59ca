package emit

import (
	"sync"
	"testing"
)

func TestBufferedEmitter_StoresEvents(t *testing.T) {
	t.Run("stores events in order", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-001", Seq: -1, Msg: MsgRunStarted})
		emitter.Emit(Event{RunID: "run-001", Seq: 0, Msg: MsgStep})
		emitter.Emit(Event{RunID: "run-001", Seq: 1, Msg: MsgStep})

		history := emitter.GetHistory("run-001")
		if len(history) != 3 {
			t.Fatalf("expected 3 events, got %d", len(history))
		}
		if history[0].Msg != MsgRunStarted || history[2].Seq != 1 {
			t.Errorf("unexpected order: %+v", history)
		}
	})

	t.Run("isolates events by runID", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		emitter.Emit(Event{RunID: "run-001", Msg: "a"})
		emitter.Emit(Event{RunID: "run-002", Msg: "b"})
		emitter.Emit(Event{RunID: "run-001", Msg: "c"})

		if got := len(emitter.GetHistory("run-001")); got != 2 {
			t.Errorf("run-001: expected 2 events, got %d", got)
		}
		if got := len(emitter.GetHistory("run-002")); got != 1 {
			t.Errorf("run-002: expected 1 event, got %d", got)
		}

		ids := emitter.RunIDs()
		if len(ids) != 2 || ids[0] != "run-001" || ids[1] != "run-002" {
			t.Errorf("RunIDs = %v, want [run-001 run-002]", ids)
		}
	})

	t.Run("unknown run returns empty slice", func(t *testing.T) {
		emitter := NewBufferedEmitter()

		history := emitter.GetHistory("missing")
		if history == nil || len(history) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", history)
		}
	})

	t.Run("returned history is a copy", func(t *testing.T) {
		emitter := NewBufferedEmitter()
		emitter.Emit(Event{RunID: "run-001", Msg: MsgStep})

		history := emitter.GetHistory("run-001")
		history[0].Msg = "mutated"

		if emitter.GetHistory("run-001")[0].Msg != MsgStep {
			t.Error("mutating returned history changed the buffer")
		}
	})
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{RunID: "r", Seq: -1, State: "running", Msg: MsgRunStarted})
	for i := 0; i < 5; i++ {
		emitter.Emit(Event{RunID: "r", Seq: i, State: "running", Msg: MsgStep})
	}
	emitter.Emit(Event{RunID: "r", Seq: -1, State: "paused", Msg: MsgRunPaused})

	minSeq, maxSeq := 1, 3

	tests := []struct {
		name   string
		filter HistoryFilter
		want   int
	}{
		{"empty filter", HistoryFilter{}, 7},
		{"by msg", HistoryFilter{Msg: MsgStep}, 5},
		{"by state", HistoryFilter{State: "paused"}, 1},
		{"by seq window", HistoryFilter{Msg: MsgStep, MinSeq: &minSeq, MaxSeq: &maxSeq}, 3},
		{"no match", HistoryFilter{Msg: MsgRunFailed}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := emitter.GetHistoryWithFilter("r", tt.filter)
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{RunID: "run-001"})
	emitter.Emit(Event{RunID: "run-002"})

	emitter.Clear("run-001")
	if len(emitter.GetHistory("run-001")) != 0 {
		t.Error("run-001 not cleared")
	}
	if len(emitter.GetHistory("run-002")) != 1 {
		t.Error("run-002 should be kept")
	}

	emitter.Clear("")
	if len(emitter.All()) != 0 || len(emitter.RunIDs()) != 0 {
		t.Error("expected everything cleared")
	}
}

func TestBufferedEmitter_Concurrent(t *testing.T) {
	emitter := NewBufferedEmitter()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				emitter.Emit(Event{RunID: "run-001", Seq: i, Msg: MsgStep})
			}
		}()
	}
	wg.Wait()

	if got := len(emitter.GetHistory("run-001")); got != 1000 {
		t.Errorf("expected 1000 events, got %d", got)
	}
}

func TestMultiEmitter_FansOut(t *testing.T) {
	a := NewBufferedEmitter()
	b := NewBufferedEmitter()
	multi := NewMultiEmitter(a, nil, b)

	multi.Emit(Event{RunID: "run-001", Msg: MsgStep})

	if len(a.GetHistory("run-001")) != 1 || len(b.GetHistory("run-001")) != 1 {
		t.Error("expected both emitters to receive the event")
	}
}

func TestNullEmitter_Discards(t *testing.T) {
	var e Emitter = NewNullEmitter()
	e.Emit(Event{RunID: "run-001", Msg: MsgStep})
}
