package emit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// A run_started event opens a "playback.run" span for that run; every later
// event of the run becomes a short child span named "playback." + event.Msg,
// and the run span ends with the run's completed, failed or cancelled event,
// or with a reset that names it in MetaPreviousRun. Events of runs without an open span are parented to the emitter's
// context instead.
//
// Child spans carry playback.run_id, playback.seq, playback.state and every
// Meta field. A Meta["error"] string marks the span (and the ending run span)
// as failed.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//
//	emitter := emit.NewOTelEmitter(otel.Tracer("playback"))
//	ctrl, _ := playback.New[Frame](playback.WithEmitter(emitter))
type OTelEmitter struct {
	tracer trace.Tracer
	ctx    context.Context

	mu   sync.Mutex
	runs map[string]trace.Span
}

// NewOTelEmitter creates a new OTelEmitter. A nil tracer uses the global
// provider's "playback" tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	if tracer == nil {
		tracer = otel.Tracer("playback")
	}
	return &OTelEmitter{
		tracer: tracer,
		ctx:    context.Background(),
		runs:   make(map[string]trace.Span),
	}
}

// WithContext returns a new emitter whose run spans are children of the span
// carried by ctx. Use it to nest playback under a request span.
func (o *OTelEmitter) WithContext(ctx context.Context) *OTelEmitter {
	return &OTelEmitter{tracer: o.tracer, ctx: ctx, runs: make(map[string]trace.Span)}
}

// endsRun reports whether msg closes the run span.
func endsRun(msg string) bool {
	switch msg {
	case MsgRunCompleted, MsgRunFailed, MsgRunCancelled, MsgRunReset:
		return true
	}
	return false
}

// Emit records the event as a span.
func (o *OTelEmitter) Emit(event Event) {
	run, ending := o.runSpan(event)

	parent := o.ctx
	if run != nil {
		parent = trace.ContextWithSpan(o.ctx, run)
	}

	_, span := o.tracer.Start(parent, "playback."+event.Msg)
	span.SetAttributes(
		attribute.String("playback.run_id", event.RunID),
		attribute.Int("playback.seq", event.Seq),
		attribute.String("playback.state", event.State),
	)
	addMetadataAttributes(span, event.Meta)

	msg, failed := event.Meta["error"].(string)
	if failed {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
	span.End()

	if ending {
		run.SetAttributes(attribute.String("playback.outcome", event.Msg), attribute.Int("playback.seq", event.Seq))
		if failed {
			run.SetStatus(codes.Error, msg)
		}
		run.End()
	}
}

// runSpan returns the open span of the event's run, opening one on
// run_started. ending is true when the event closes it.
func (o *OTelEmitter) runSpan(event Event) (run trace.Span, ending bool) {
	if event.RunID == "" {
		return nil, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if event.Msg == MsgRunStarted {
		if prev, ok := o.runs[event.RunID]; ok {
			prev.End()
		}
		_, run = o.tracer.Start(o.ctx, "playback.run",
			trace.WithAttributes(attribute.String("playback.run_id", event.RunID)))
		o.runs[event.RunID] = run
		return run, false
	}

	id := event.RunID
	if event.Msg == MsgRunReset {
		if prev, ok := event.Meta[MetaPreviousRun].(string); ok {
			id = prev
		}
	}

	run, ok := o.runs[id]
	if !ok {
		return nil, false
	}
	if endsRun(event.Msg) {
		delete(o.runs, id)
		return run, true
	}
	return run, false
}

// OpenRuns returns the number of runs whose span has not ended yet.
func (o *OTelEmitter) OpenRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

// Flush forces export of pending spans when the global provider supports it.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addMetadataAttributes converts event metadata to span attributes.
func addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "playback." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
