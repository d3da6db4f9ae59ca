// Package source provides Step Sources backed by remote producers.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"

	"github.com/dshills/playback-go/playback"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 4 << 20

// ErrTruncated is returned when a stream ends before a line marked done.
var ErrTruncated = errors.New("step stream ended without a final step")

// Line is the wire form of one step: a JSON object per line.
//
//	{"value": {...}, "done": false}
//	{"value": {...}, "done": true}
//	{"error": "out of memory"}
type Line[T any] struct {
	Value T      `json:"value"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// HTTPSource streams steps from an HTTP endpoint that writes NDJSON lines.
//
// The request is sent on the first Next and the response body is read one
// line per pull, so a remote algorithm advances only as fast as the
// Controller consumes it (subject to TCP buffering). Close aborts the request.
//
// Example:
//
//	src := source.NewHTTPSource[Frame]("http://localhost:8080/sort?n=32")
//	_ = ctrl.Start(src)
type HTTPSource[T any] struct {
	url    string
	method string
	body   []byte
	header http.Header
	client *http.Client

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	lines  chan lineResult
	done   bool
}

type lineResult struct {
	data []byte
	err  error
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	method string
	body   []byte
	header http.Header
	client *http.Client
}

// WithHTTPClient sets the client used for the request. Default: a client
// without timeout; the stream lives as long as the run.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(cfg *httpConfig) {
		cfg.client = c
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) HTTPOption {
	return func(cfg *httpConfig) {
		cfg.header.Add(key, value)
	}
}

// WithPostBody sends body as a POST request, for example the algorithm input.
func WithPostBody(contentType string, body []byte) HTTPOption {
	return func(cfg *httpConfig) {
		cfg.method = http.MethodPost
		cfg.body = body
		cfg.header.Set("Content-Type", contentType)
	}
}

// NewHTTPSource creates a source reading from url.
func NewHTTPSource[T any](url string, opts ...HTTPOption) *HTTPSource[T] {
	cfg := &httpConfig{
		method: http.MethodGet,
		header: make(http.Header),
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.header.Get("Accept") == "" {
		cfg.header.Set("Accept", "application/x-ndjson")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPSource[T]{
		url:    url,
		method: cfg.method,
		body:   cfg.body,
		header: cfg.header,
		client: cfg.client,
		ctx:    ctx,
		cancel: cancel,
		lines:  make(chan lineResult),
	}
}

// Factory returns a SourceFactory that opens a new stream for every run.
func Factory[T any](url string, opts ...HTTPOption) playback.SourceFactory[T] {
	return func() (playback.Source[T], error) {
		return NewHTTPSource[T](url, opts...), nil
	}
}

// Next returns the next line of the stream.
func (s *HTTPSource[T]) Next(ctx context.Context) (playback.Item[T], error) {
	if s.done {
		var zero T
		return playback.Item[T]{Value: zero, Done: true}, nil
	}
	s.once.Do(func() { go s.read() })

	var res lineResult
	select {
	case <-ctx.Done():
		return playback.Item[T]{}, ctx.Err()
	case res = <-s.lines:
	}

	if res.err != nil {
		s.done = true
		return playback.Item[T]{}, res.err
	}

	var line Line[T]
	if err := json.Unmarshal(res.data, &line); err != nil {
		s.done = true
		return playback.Item[T]{}, fmt.Errorf("decode step line: %w", err)
	}
	if line.Error != "" {
		s.done = true
		return playback.Item[T]{}, fmt.Errorf("remote step source: %s", line.Error)
	}
	if line.Done {
		s.done = true
		s.cancel()
	}
	return playback.Item[T]{Value: line.Value, Done: line.Done}, nil
}

// Close aborts the request and stops the reader.
func (s *HTTPSource[T]) Close() error {
	s.cancel()
	return nil
}

// read performs the request and hands lines to Next until the stream ends
// or the source is closed.
func (s *HTTPSource[T]) read() {
	send := func(r lineResult) bool {
		select {
		case s.lines <- r:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	var body io.Reader
	if s.body != nil {
		body = bytes.NewReader(s.body)
	}
	req, err := http.NewRequestWithContext(s.ctx, s.method, s.url, body)
	if err != nil {
		send(lineResult{err: fmt.Errorf("failed to create request: %w", err)})
		return
	}
	req.Header = s.header.Clone()

	resp, err := s.client.Do(req)
	if err != nil {
		send(lineResult{err: fmt.Errorf("failed to execute request: %w", err)})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		send(lineResult{err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)})
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := append([]byte(nil), line...)
		if !send(lineResult{data: data}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		send(lineResult{err: fmt.Errorf("read step stream: %w", err)})
		return
	}
	send(lineResult{err: ErrTruncated})
}

// Handler serves a step sequence as an NDJSON stream, the format HTTPSource
// reads. seq is called once per request; the last value is marked done and
// an empty sequence produces a single done line with the zero value.
//
// Example:
//
//	http.Handle("/sort", source.Handler(func(r *http.Request) iter.Seq2[Frame, error] {
//	    return bubbleSort(parseInput(r))
//	}))
func Handler[T any](seq func(r *http.Request) iter.Seq2[T, error]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		enc := json.NewEncoder(w)

		write := func(line Line[T]) bool {
			if err := enc.Encode(line); err != nil {
				return false
			}
			if flusher != nil {
				flusher.Flush()
			}
			return true
		}

		next, stop := iter.Pull2(seq(r))
		defer stop()

		cur, err, ok := next()
		if !ok {
			var zero T
			write(Line[T]{Value: zero, Done: true})
			return
		}
		for ok {
			if err != nil {
				write(Line[T]{Error: err.Error()})
				return
			}
			peek, peekErr, more := next()
			if !write(Line[T]{Value: cur, Done: !more}) {
				return
			}
			if r.Context().Err() != nil {
				return
			}
			cur, err, ok = peek, peekErr, more
		}
	})
}
