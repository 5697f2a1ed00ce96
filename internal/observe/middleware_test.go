package observe

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		code     int
		wantWarn bool
	}{
		{name: "passing liveness check", path: "/healthz", code: http.StatusOK},
		{name: "failing readiness check", path: "/readyz", code: http.StatusServiceUnavailable, wantWarn: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, reader := newTestMetrics(t)
			exp := useInMemoryTracer(t)
			logs := captureLog(t, slog.LevelWarn)

			handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if TraceID(r.Context()) == "" {
					t.Error("handler context has no active span")
				}
				w.WriteHeader(tc.code)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))

			if rec.Code != tc.code {
				t.Errorf("status = %d, want %d", rec.Code, tc.code)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 || spans[0].Name != "GET "+tc.path {
				t.Fatalf("spans = %+v, want one named %q", spans, "GET "+tc.path)
			}
			if got, want := rec.Header().Get(TraceHeader), spans[0].SpanContext.TraceID().String(); got != want {
				t.Errorf("%s = %q, want %q", TraceHeader, got, want)
			}

			met := findMetric(collect(t, reader), "doctorapp.http.request.duration")
			if met == nil {
				t.Fatal("doctorapp.http.request.duration not found")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Fatalf("histogram = %+v, want one observation", hist.DataPoints)
			}
			status, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("status"))
			if want := strconv.Itoa(tc.code); status.AsString() != want {
				t.Errorf("status attribute = %q, want %q", status.AsString(), want)
			}

			warned := strings.Contains(logs.String(), "diagnostics request failed")
			if warned != tc.wantWarn {
				t.Errorf("warned = %v, want %v (log: %s)", warned, tc.wantWarn, logs.String())
			}
		})
	}
}
