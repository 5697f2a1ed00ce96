// Command doctorapp is the command-line front end of the DoctorApp clinical
// record keeper. It manages patients and appointments, rotates database
// backups, records and transcribes dictation and prints the day sheet.
//
// Usage:
//
//	doctorapp [-config path] <command> [flags] [args]
//
// Run "doctorapp help" for the command list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/doctorapp/internal/config"
	"github.com/MrWong99/doctorapp/internal/errlog"
	"github.com/MrWong99/doctorapp/internal/health"
	"github.com/MrWong99/doctorapp/internal/observe"
	"github.com/MrWong99/doctorapp/internal/store"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is main without the process exit so it can be driven from tests.
// It returns 0 on success, 1 when a command fails and 2 on usage errors.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("doctorapp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML configuration file")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, rest, ok := lookup(fs.Args())
	if !ok {
		fmt.Fprintf(stderr, "doctorapp: unknown command %q\n", fs.Arg(0))
		fs.Usage()
		return 2
	}
	if cmd.name == "help" {
		printUsage(stdout, fs)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "doctorapp: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	slog.Debug("doctorapp starting",
		"version", version,
		"config", *configPath,
		"data_dir", cfg.DataDir,
		"command", cmd.name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// The Prometheus exporter is only useful behind the diagnostics listener.
	var tel *observe.Telemetry
	if cfg.Metrics.ListenAddr != "" {
		tel, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(sctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	sink := errlog.Multi(
		errlog.NewFileSink(cfg.ErrorLogPath()),
		errlog.SlogSink{Logger: logger},
	)
	st, err := store.Open(ctx, cfg.DatabasePath(),
		store.WithSink(sink),
		store.WithBackupRetention(cfg.Backup.Keep),
	)
	if err != nil {
		sink.Record(fmt.Sprintf("Database initialization error: %v", err))
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	e := &env{
		cfg:    cfg,
		store:  st,
		sink:   sink,
		stdin:  stdin,
		stdout: stdout,
		probe:  &modelProbe{},
	}

	// ── Command + diagnostics listener ────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		if err := tel.Registry.Register(st.StatsCollector()); err != nil {
			slog.Warn("database stats unavailable", "err", err)
		}
		checkers := []health.Checker{health.Database(st)}
		if cmd.speech {
			checkers = append(checkers, health.SpeechModel(e.probe))
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           diagnosticsHandler(tel, checkers...),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("diagnostics listener started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("diagnostics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		e.ctx = gctx
		return cmd.run(e, rest)
	})

	if err := g.Wait(); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			fmt.Fprintf(stderr, "doctorapp %s: %v\nusage: doctorapp %s\n", cmd.name, err, cmd.usage)
			return 2
		}
		fmt.Fprintf(stderr, "doctorapp %s: %v\n", cmd.name, err)
		return 1
	}
	return 0
}

// diagnosticsHandler serves /metrics, /healthz and /readyz.
func diagnosticsHandler(tel *observe.Telemetry, checkers ...health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", tel.Handler())
	health.New(checkers...).Register(mux)
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// defaultConfigPath is config.yaml inside the per-user data root.
func defaultConfigPath() string {
	return filepath.Join(config.DefaultDataRoot(), "config.yaml")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
