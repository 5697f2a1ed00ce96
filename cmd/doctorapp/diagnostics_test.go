package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/MrWong99/doctorapp/internal/errlog"
	"github.com/MrWong99/doctorapp/internal/health"
	"github.com/MrWong99/doctorapp/internal/observe"
	"github.com/MrWong99/doctorapp/internal/store"
)

func TestDiagnosticsHandler(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})
	ctx := context.Background()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "data", "database.db"), store.WithSink(errlog.Nop{}))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := tel.Registry.Register(st.StatsCollector()); err != nil {
		t.Fatalf("register stats collector: %v", err)
	}

	srv := httptest.NewServer(diagnosticsHandler(tel, health.Database(st)))
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		return resp.StatusCode, string(body)
	}

	tests := []struct {
		path     string
		wantCode int
		contains []string
	}{
		{path: "/healthz", wantCode: http.StatusOK, contains: []string{`"status":"ok"`}},
		{path: "/readyz", wantCode: http.StatusOK, contains: []string{`"database":"ok"`}},
		{path: "/metrics", wantCode: http.StatusOK, contains: []string{"go_goroutines", `go_sql_max_open_connections{db_name="doctorapp"} 1`}},
		{path: "/nope", wantCode: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			code, body := get(tc.path)
			if code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body: %s)", code, tc.wantCode, body)
			}
			for _, want := range tc.contains {
				if !strings.Contains(body, want) {
					t.Errorf("body is missing %q:\n%s", want, body)
				}
			}
		})
	}

	// A closed store fails readiness but not liveness.
	_ = st.Close()
	if code, _ := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after Close = %d, want 503", code)
	}
	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz after Close = %d, want 200", code)
	}
}
