package playback

import (
	"context"
	"errors"
	"iter"
	"testing"
)

func drain[T any](t *testing.T, src Source[T]) ([]Item[T], error) {
	t.Helper()
	var items []Item[T]
	for i := 0; i < 100; i++ {
		it, err := src.Next(context.Background())
		if err != nil {
			return items, err
		}
		items = append(items, it)
		if it.Done {
			return items, nil
		}
	}
	t.Fatal("source never finished")
	return nil, nil
}

func TestFromSlice(t *testing.T) {
	t.Run("marks last value final", func(t *testing.T) {
		items, err := drain(t, FromSlice([]string{"a", "b", "c"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 3 || items[2].Value != "c" || !items[2].Done || items[1].Done {
			t.Errorf("unexpected items: %+v", items)
		}
	})

	t.Run("empty slice yields one zero final step", func(t *testing.T) {
		items, _ := drain(t, FromSlice[int](nil))
		if len(items) != 1 || !items[0].Done || items[0].Value != 0 {
			t.Errorf("unexpected items: %+v", items)
		}
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := FromSlice([]int{1}).Next(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func countTo(n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 1; i <= n; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

func TestFromSeq(t *testing.T) {
	t.Run("lookahead marks the last value final", func(t *testing.T) {
		items, err := drain(t, FromSeq(countTo(3)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(items) != 3 || !items[2].Done || items[2].Value != 3 {
			t.Errorf("unexpected items: %+v", items)
		}
	})

	t.Run("empty sequence", func(t *testing.T) {
		items, _ := drain(t, FromSeq(countTo(0)))
		if len(items) != 1 || !items[0].Done {
			t.Errorf("unexpected items: %+v", items)
		}
	})

	t.Run("close stops the generator", func(t *testing.T) {
		stopped := false
		seq := func(yield func(int) bool) {
			defer func() { stopped = true }()
			for i := 0; ; i++ {
				if !yield(i) {
					return
				}
			}
		}

		src := FromSeq[int](seq)
		if _, err := src.Next(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := src.(interface{ Close() error }).Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if !stopped {
			t.Error("expected the generator to be stopped")
		}
	})
}

func TestFromSeq2(t *testing.T) {
	boom := errors.New("boom")
	seq := func(yield func(int, error) bool) {
		if !yield(1, nil) {
			return
		}
		if !yield(2, nil) {
			return
		}
		yield(0, boom)
	}

	items, err := drain(t, FromSeq2[int](seq))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(items) != 2 || items[1].Done {
		t.Errorf("expected two non-final values before the error, got %+v", items)
	}
}

func TestFromChannel(t *testing.T) {
	t.Run("forwards items until done", func(t *testing.T) {
		items := make(chan Item[int], 3)
		items <- Item[int]{Value: 1}
		items <- Item[int]{Value: 2, Done: true}

		got, err := drain(t, FromChannel[int](items, nil))
		if err != nil || len(got) != 2 || !got[1].Done {
			t.Errorf("unexpected result: %+v %v", got, err)
		}
	})

	t.Run("closed channel ends the run", func(t *testing.T) {
		items := make(chan Item[int], 1)
		items <- Item[int]{Value: 1}
		close(items)

		got, _ := drain(t, FromChannel[int](items, nil))
		if len(got) != 2 || !got[1].Done || got[1].Value != 0 {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("error channel fails the run", func(t *testing.T) {
		errs := make(chan error, 1)
		errs <- errors.New("producer crashed")

		_, err := FromChannel[int](make(chan Item[int]), errs).Next(context.Background())
		if err == nil || err.Error() != "producer crashed" {
			t.Errorf("expected producer error, got %v", err)
		}
	})

	t.Run("closed error channel is ignored", func(t *testing.T) {
		items := make(chan Item[int], 1)
		errs := make(chan error)
		close(errs)
		items <- Item[int]{Value: 4, Done: true}

		it, err := FromChannel[int](items, errs).Next(context.Background())
		if err != nil || it.Value != 4 {
			t.Errorf("unexpected result: %+v %v", it, err)
		}
	})
}
