package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/playback-go/internal/algo"
	"github.com/dshills/playback-go/playback"
	"github.com/dshills/playback-go/playback/source"
	"github.com/dshills/playback-go/playback/store"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func seedRuns(t *testing.T, path string, runs ...store.RunRecord) {
	t.Helper()
	st, err := store.NewSQLiteStore[algo.Frame](path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, run := range runs {
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
		for seq := 1; seq <= run.Steps; seq++ {
			rec := store.Record[algo.Frame]{RunID: run.ID, Seq: seq, Final: seq == run.Steps, RecordedAt: run.StartedAt}
			if err := st.SaveStep(ctx, rec); err != nil {
				t.Fatalf("SaveStep: %v", err)
			}
		}
	}
}

func TestAlgorithmsCmd(t *testing.T) {
	for _, name := range []string{"algorithms", "list"} {
		out, err := execute(t, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for _, alg := range algo.Names() {
			if !strings.Contains(out, alg) {
				t.Errorf("%s: output missing %q:\n%s", name, alg, out)
			}
		}
	}
}

func TestRunsCmd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")

	out, err := execute(t, "runs", "--db", db)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs recorded") {
		t.Errorf("expected empty message, got:\n%s", out)
	}

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRuns(t, db,
		store.RunRecord{ID: "run-a", Status: store.StatusCompleted, Steps: 3, StartedAt: started, FinishedAt: started.Add(1500 * time.Millisecond)},
		store.RunRecord{ID: "run-b", Status: store.StatusFailed, Steps: 1, Error: "boom", StartedAt: started.Add(time.Minute), FinishedAt: started.Add(2 * time.Minute)},
	)

	out, err = execute(t, "runs", "--db", db)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	for _, want := range []string{"ID", "run-a", "completed", "1.5s", "run-b", "failed", "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "run-a") > strings.Index(out, "run-b") {
		t.Errorf("expected oldest run first:\n%s", out)
	}
}

func TestFormatRuns_LiveRun(t *testing.T) {
	var out bytes.Buffer
	run := store.RunRecord{ID: "live", Status: store.StatusRunning, Steps: 2, StartedAt: time.Now()}
	if err := formatRuns(&out, []store.RunRecord{run}); err != nil {
		t.Fatalf("formatRuns: %v", err)
	}
	line := strings.Split(strings.TrimSpace(out.String()), "\n")[1]
	if !strings.Contains(line, "live") || !strings.Contains(line, " - ") {
		t.Errorf("expected a dash for the duration of a live run, got %q", line)
	}
}

func TestDeleteCmd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRuns(t, db, store.RunRecord{ID: "gone", Status: store.StatusCancelled, Steps: 2, StartedAt: started, FinishedAt: started})

	out, err := execute(t, "delete", "gone", "--db", db)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "deleted gone") {
		t.Errorf("unexpected output: %q", out)
	}

	if _, err := execute(t, "delete", "gone", "--db", db); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found on second delete, got %v", err)
	}

	out, err = execute(t, "runs", "--db", db)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "no runs recorded") {
		t.Errorf("expected the run to be gone:\n%s", out)
	}
}

func TestReplayCmd_Errors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRuns(t, db, store.RunRecord{ID: "empty", Status: store.StatusCancelled, StartedAt: started, FinishedAt: started})

	_, err := execute(t, "replay", "missing", "--db", db)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = execute(t, "replay", "empty", "--db", db)
	if !errors.Is(err, playback.ErrEmptyRun) {
		t.Errorf("expected ErrEmptyRun, got %v", err)
	}
}

func TestPlayCmd_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown algorithm", []string{"play", "bogo"}, "unknown algorithm"},
		{"missing argument", []string{"play"}, "accepts 1 arg"},
		{"size too small", []string{"play", "bubble", "--size", "1"}, "size must be at least 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Size != 24 || cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "playback.db" || cfg.Serve.Addr != ":8080" {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if cfg.Playback.Delay != playback.DefaultDelay {
			t.Errorf("expected default delay, got %v", cfg.Playback.Delay)
		}
	})

	t.Run("file over environment", func(t *testing.T) {
		t.Setenv("PLAYBACK_STORE_DSN", "env.db")
		t.Setenv("PLAYBACK_SIZE", "10")

		path := filepath.Join(t.TempDir(), "playback.yaml")
		body := "playback:\n  delay: 20ms\nstore:\n  driver: mysql\n  dsn: u:p@tcp(db:3306)/playback\nsize: 40\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Playback.Delay != 20*time.Millisecond {
			t.Errorf("expected delay 20ms, got %v", cfg.Playback.Delay)
		}
		if cfg.Playback.MaxDelay != playback.DefaultMaxDelay {
			t.Errorf("expected default max delay, got %v", cfg.Playback.MaxDelay)
		}
		if cfg.Store.Driver != "mysql" || cfg.Store.DSN != "u:p@tcp(db:3306)/playback" {
			t.Errorf("unexpected store config: %+v", cfg.Store)
		}
		if cfg.Size != 40 {
			t.Errorf("expected size 40, got %d", cfg.Size)
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("PLAYBACK_STORE_DRIVER", "mysql")
		t.Setenv("PLAYBACK_ADDR", ":9999")

		cfg, err := loadConfig("")
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Store.Driver != "mysql" || cfg.Serve.Addr != ":9999" {
			t.Errorf("unexpected config: %+v", cfg)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("store:\n  driver: postgres\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		g := &globalFlags{configPath: path}
		if _, err := g.load(); err == nil || !strings.Contains(err.Error(), "unknown store driver") {
			t.Errorf("expected driver error, got %v", err)
		}
	})

	t.Run("db flag overrides dsn", func(t *testing.T) {
		g := &globalFlags{db: "override.db"}
		cfg, err := g.load()
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Store.DSN != "override.db" {
			t.Errorf("expected override.db, got %q", cfg.Store.DSN)
		}
	})
}

func TestServeMux_Stream(t *testing.T) {
	srv := httptest.NewServer(newServeMux(prometheus.NewRegistry(), 8))
	defer srv.Close()

	src := source.NewHTTPSource[algo.Frame](srv.URL + "/algorithms/insertion?size=6&seed=7")
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var last algo.Frame
	steps := 0
	for {
		item, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		steps++
		last = item.Value
		if item.Done {
			break
		}
	}

	if steps < 2 {
		t.Errorf("expected several steps, got %d", steps)
	}
	if len(last.Values) != 6 || !slices.IsSorted(last.Values) {
		t.Errorf("expected 6 sorted values in the final frame, got %v", last.Values)
	}
}

func TestServeMux_Errors(t *testing.T) {
	srv := httptest.NewServer(newServeMux(prometheus.NewRegistry(), 8))
	defer srv.Close()

	tests := []struct {
		path string
		code int
	}{
		{"/algorithms/bogo", http.StatusNotFound},
		{"/algorithms/bubble?size=1", http.StatusBadRequest},
		{"/algorithms/bubble?size=100000", http.StatusBadRequest},
		{"/algorithms/bubble?seed=abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.code, resp.StatusCode)
		}
	}
}

func TestServeMux_ListAndMetrics(t *testing.T) {
	srv := httptest.NewServer(newServeMux(prometheus.NewRegistry(), 8))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/algorithms")
	if err != nil {
		t.Fatalf("GET /algorithms: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"url":"/algorithms/quick"`) {
		t.Errorf("unexpected listing: %s", body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if strings.Contains(string(body), `playback_http_requests_total{code="200",method="get"}`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("request counter not exported:\n%s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWithoutErrors(t *testing.T) {
	var got []int
	for v, err := range withoutErrors(slices.Values([]int{1, 2, 3})) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, v)
		if v == 2 {
			break
		}
	}
	if !slices.Equal(got, []int{1, 2}) {
		t.Errorf("expected [1 2], got %v", got)
	}
}
