package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var (
	_ Store[int] = (*MemStore[int])(nil)
	_ Store[int] = (*SQLiteStore[int])(nil)
	_ Store[int] = (*MySQLStore[int])(nil)
)

// Frame is a representative step payload.
type Frame struct {
	Array   []int  `json:"array"`
	I       int    `json:"i"`
	J       int    `json:"j"`
	Swap    bool   `json:"swap"`
	Caption string `json:"caption,omitempty"`
}

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store[Frame]) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("save and load steps in seq order", func(t *testing.T) {
		st := newStore(t)
		runID := uniqueRunID("order")

		for _, seq := range []int{2, 0, 1} {
			rec := Record[Frame]{
				RunID:      runID,
				Seq:        seq,
				Final:      seq == 2,
				Payload:    Frame{Array: []int{seq, seq + 1}, I: seq, Swap: seq%2 == 0},
				RecordedAt: base.Add(time.Duration(seq) * time.Second),
			}
			if err := st.SaveStep(ctx, rec); err != nil {
				t.Fatalf("SaveStep(%d) failed: %v", seq, err)
			}
		}

		got, err := st.LoadSteps(ctx, runID)
		if err != nil {
			t.Fatalf("LoadSteps failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 steps, got %d", len(got))
		}
		for i, rec := range got {
			if rec.Seq != i || rec.RunID != runID {
				t.Errorf("record %d: unexpected %+v", i, rec)
			}
			if rec.Payload.I != i || len(rec.Payload.Array) != 2 || rec.Payload.Array[1] != i+1 {
				t.Errorf("record %d: payload not round-tripped: %+v", i, rec.Payload)
			}
			if !rec.RecordedAt.Equal(base.Add(time.Duration(i) * time.Second)) {
				t.Errorf("record %d: RecordedAt = %v", i, rec.RecordedAt)
			}
		}
		if !got[2].Final || got[0].Final {
			t.Errorf("final flag not preserved: %+v", got)
		}
	})

	t.Run("saving the same seq replaces it", func(t *testing.T) {
		st := newStore(t)
		runID := uniqueRunID("replace")

		_ = st.SaveStep(ctx, Record[Frame]{RunID: runID, Seq: 0, Payload: Frame{Caption: "old"}})
		_ = st.SaveStep(ctx, Record[Frame]{RunID: runID, Seq: 0, Payload: Frame{Caption: "new"}})

		got, err := st.LoadSteps(ctx, runID)
		if err != nil {
			t.Fatalf("LoadSteps failed: %v", err)
		}
		if len(got) != 1 || got[0].Payload.Caption != "new" {
			t.Errorf("expected the replacement, got %+v", got)
		}
	})

	t.Run("unknown run", func(t *testing.T) {
		st := newStore(t)

		if _, err := st.LoadSteps(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadSteps: expected ErrNotFound, got %v", err)
		}
		if _, err := st.LoadRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadRun: expected ErrNotFound, got %v", err)
		}
		if err := st.DeleteRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("DeleteRun: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("run without steps loads an empty slice", func(t *testing.T) {
		st := newStore(t)
		runID := uniqueRunID("empty")

		_ = st.SaveRun(ctx, RunRecord{ID: runID, Status: StatusRunning, StartedAt: base})

		got, err := st.LoadSteps(ctx, runID)
		if err != nil {
			t.Fatalf("LoadSteps failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no steps, got %d", len(got))
		}
	})

	t.Run("run records upsert and list in start order", func(t *testing.T) {
		st := newStore(t)
		first, second := uniqueRunID("list-a"), uniqueRunID("list-b")

		_ = st.SaveRun(ctx, RunRecord{ID: second, Status: StatusRunning, StartedAt: base.Add(time.Minute)})
		_ = st.SaveRun(ctx, RunRecord{ID: first, Status: StatusRunning, StartedAt: base})
		err := st.SaveRun(ctx, RunRecord{
			ID:         first,
			Status:     StatusFailed,
			Steps:      4,
			Error:      "SOURCE_ERROR: boom",
			StartedAt:  base,
			FinishedAt: base.Add(time.Second),
		})
		if err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		run, err := st.LoadRun(ctx, first)
		if err != nil {
			t.Fatalf("LoadRun failed: %v", err)
		}
		if run.Status != StatusFailed || run.Steps != 4 || run.Error != "SOURCE_ERROR: boom" || !run.Finished() {
			t.Errorf("unexpected run: %+v", run)
		}

		runs, err := st.ListRuns(ctx)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		var ids []string
		for _, r := range runs {
			if r.ID == first || r.ID == second {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) != 2 || ids[0] != first || ids[1] != second {
			t.Errorf("expected [%s %s], got %v", first, second, ids)
		}
	})

	t.Run("delete removes run and steps", func(t *testing.T) {
		st := newStore(t)
		runID := uniqueRunID("delete")

		_ = st.SaveRun(ctx, RunRecord{ID: runID, Status: StatusCompleted, StartedAt: base})
		_ = st.SaveStep(ctx, Record[Frame]{RunID: runID, Seq: 0, Final: true})

		if err := st.DeleteRun(ctx, runID); err != nil {
			t.Fatalf("DeleteRun failed: %v", err)
		}
		if _, err := st.LoadSteps(ctx, runID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("closed store", func(t *testing.T) {
		st := newStore(t)
		if err := st.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := st.SaveRun(ctx, RunRecord{ID: "x"}); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func uniqueRunID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestMemStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store[Frame] {
		return NewMemStore[Frame]()
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store[Frame] {
		st, err := NewSQLiteStore[Frame](filepath.Join(t.TempDir(), "runs.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestMySQLStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) Store[Frame] {
		st, err := NewMySQLStore[Frame](dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore failed: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	st, err := NewSQLiteStore[Frame](path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	_ = st.SaveRun(ctx, RunRecord{ID: "run-1", Status: StatusCompleted, Steps: 1})
	_ = st.SaveStep(ctx, Record[Frame]{RunID: "run-1", Seq: 0, Final: true, Payload: Frame{Caption: "done"}})
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore[Frame](path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if reopened.Path() != path {
		t.Errorf("Path() = %q", reopened.Path())
	}
	steps, err := reopened.LoadSteps(ctx, "run-1")
	if err != nil || len(steps) != 1 || steps[0].Payload.Caption != "done" {
		t.Errorf("expected persisted step, got %+v %v", steps, err)
	}
	if err := reopened.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	st, err := NewSQLiteStore[int](":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if err := st.SaveStep(ctx, Record[int]{RunID: "r", Seq: 0, Payload: 42}); err != nil {
		t.Fatalf("SaveStep failed: %v", err)
	}
	got, err := st.LoadSteps(ctx, "r")
	if err != nil || len(got) != 1 || got[0].Payload != 42 {
		t.Errorf("unexpected result %+v %v", got, err)
	}
}
