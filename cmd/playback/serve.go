package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/playback-go/internal/algo"
	"github.com/dshills/playback-go/playback/source"
)

// maxServeSize bounds the size query parameter.
const maxServeSize = 512

func serveCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve algorithm step streams as NDJSON",
		Long: `Serve algorithm step streams over HTTP.

  GET /algorithms              list algorithms (JSON)
  GET /algorithms/{name}       NDJSON step stream; ?size=N&seed=S
  GET /metrics                 Prometheus metrics

Streams are read by source.NewHTTPSource and played by any Controller.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Serve.Addr = addr
			}

			server := &http.Server{
				Addr:              cfg.Serve.Addr,
				Handler:           newServeMux(prometheus.NewRegistry(), cfg.Size),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("serving step streams on %s", cfg.Serve.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (empty = use config)")
	return cmd
}

// algorithmInfo is one entry of GET /algorithms.
type algorithmInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// newServeMux builds the HTTP API. Request counts are registered on reg and
// exposed on /metrics.
func newServeMux(reg *prometheus.Registry, defaultSize int) http.Handler {
	requests := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "playback",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by status code and method",
		},
		[]string{"code", "method"},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /algorithms", func(w http.ResponseWriter, r *http.Request) {
		infos := make([]algorithmInfo, 0, len(algo.Names()))
		for _, name := range algo.Names() {
			a, _ := algo.Lookup(name)
			infos = append(infos, algorithmInfo{Name: a.Name, Description: a.Description, URL: "/algorithms/" + a.Name})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	})
	mux.Handle("GET /algorithms/{name}", streamHandler(defaultSize))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return promhttp.InstrumentHandlerCounter(requests, mux)
}

// streamHandler serves one algorithm run on random input as NDJSON.
func streamHandler(defaultSize int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alg, ok := algo.Lookup(r.PathValue("name"))
		if !ok {
			http.Error(w, unknownAlgorithm(r.PathValue("name")).Error(), http.StatusNotFound)
			return
		}

		size, err := queryInt(r, "size", int64(defaultSize))
		if err != nil || size < 2 || size > maxServeSize {
			http.Error(w, fmt.Sprintf("size must be in [2, %d]", maxServeSize), http.StatusBadRequest)
			return
		}
		seed, err := queryInt(r, "seed", time.Now().UnixNano())
		if err != nil {
			http.Error(w, "seed must be an integer", http.StatusBadRequest)
			return
		}

		input := algo.RandomInput(int(size), rand.New(rand.NewSource(seed)))
		source.Handler(func(*http.Request) iter.Seq2[algo.Frame, error] {
			return withoutErrors(alg.Run(input))
		}).ServeHTTP(w, r)
	})
}

func queryInt(r *http.Request, key string, fallback int64) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func withoutErrors[T any](seq iter.Seq[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v := range seq {
			if !yield(v, nil) {
				return
			}
		}
	}
}
