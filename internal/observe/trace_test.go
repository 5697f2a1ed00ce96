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

// useInMemoryTracer installs a synchronous in-memory span exporter as the
// global tracer provider for the duration of the test.
func useInMemoryTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLog redirects slog.Default into a buffer for the duration of the
// test.
func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestEndSpan(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantEvents bool
	}{
		{name: "store.delete_patient", err: errors.New("FOREIGN KEY constraint failed"), wantCode: codes.Error, wantEvents: true},
		{name: "store.backup", wantCode: codes.Unset},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exp := useInMemoryTracer(t)

			_, span := StartSpan(context.Background(), tc.name)
			EndSpan(span, tc.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name != tc.name {
				t.Errorf("span name = %q, want %q", spans[0].Name, tc.name)
			}
			if spans[0].Status.Code != tc.wantCode {
				t.Errorf("status = %v, want %v", spans[0].Status.Code, tc.wantCode)
			}
			if got := len(spans[0].Events) > 0; got != tc.wantEvents {
				t.Errorf("has events = %v, want %v", got, tc.wantEvents)
			}
		})
	}
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}

	useInMemoryTracer(t)
	ctx, span := StartSpan(context.Background(), "speech.transcribe")
	defer span.End()
	if got := TraceID(ctx); len(got) != 32 {
		t.Errorf("TraceID = %q, want 32 hex digits", got)
	}
}

func TestLogger(t *testing.T) {
	buf := captureLog(t, slog.LevelInfo)

	Logger(context.Background()).Info("no span")
	if bytes.Contains(buf.Bytes(), []byte("trace_id=")) {
		t.Errorf("log without span has trace_id: %s", buf.String())
	}
	buf.Reset()

	useInMemoryTracer(t)
	ctx, span := StartSpan(context.Background(), "store.get_patient")
	defer span.End()

	Logger(ctx).Info("with span")
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("trace_id="+TraceID(ctx))) {
		t.Errorf("log output missing trace_id, got: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("span_id=")) {
		t.Errorf("log output missing span_id, got: %s", out)
	}
}
