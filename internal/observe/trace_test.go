package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer swaps the global TracerProvider for one backed by an
// in-memory exporter and restores it when the test ends.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSessionSpan(t *testing.T) {
	exp := installTestTracer(t)

	ctx, span := StartSessionSpan(context.Background(), "abc-123", "10.0.0.7:50000")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("correlation ID = %q, want 32 hex chars", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != SpanPeerSession {
		t.Errorf("span name = %q, want %q", spans[0].Name, SpanPeerSession)
	}
	found := false
	for _, kv := range spans[0].Attributes {
		if string(kv.Key) == "session.id" && kv.Value.AsString() == "abc-123" {
			found = true
		}
	}
	if !found {
		t.Errorf("session.id attribute missing: %v", spans[0].Attributes)
	}
}

func TestLogger_IncludesTraceID(t *testing.T) {
	installTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()

	Logger(ctx).Info("frame relayed")

	logged := buf.String()
	if !bytes.Contains([]byte(logged), []byte("trace_id=")) {
		t.Errorf("log output missing trace_id, got: %s", logged)
	}
	if !bytes.Contains([]byte(logged), []byte("span_id=")) {
		t.Errorf("log output missing span_id, got: %s", logged)
	}
}

func TestLogger_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("frame relayed")

	if bytes.Contains(buf.Bytes(), []byte("trace_id")) {
		t.Errorf("log output should not contain trace_id, got: %s", buf.String())
	}
}

func TestEndSpan_MarksFailedDial(t *testing.T) {
	exp := installTestTracer(t)

	_, ok := StartDialSpan(context.Background(), "ws://10.0.0.2:8765")
	EndSpan(ok, nil)
	_, failed := StartDialSpan(context.Background(), "ws://10.0.0.2:8765")
	EndSpan(failed, errors.New("connection refused"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != SpanDial || spans[0].Status.Code != codes.Unset {
		t.Errorf("ok span = %s/%v, want %s/Unset", spans[0].Name, spans[0].Status.Code, SpanDial)
	}
	if spans[1].Status.Code != codes.Error || len(spans[1].Events) == 0 {
		t.Errorf("failed span status = %v events = %d, want Error with a recorded error", spans[1].Status.Code, len(spans[1].Events))
	}
}
