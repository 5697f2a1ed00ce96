// Package store is the DoctorApp persistence layer: patients, appointments,
// the day sheet and rotating database backups, all kept in a single SQLite
// file.
//
// Public operations never return storage errors. A failure is recorded
// through the injected [errlog.Sink] and surfaced as a sentinel: 0 for
// inserts, false for updates and deletes, ok=false for lookups and an empty
// slice for listings. Callers treat the sentinel as the only failure signal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/doctorapp/internal/errlog"
	"github.com/MrWong99/doctorapp/internal/observe"

	_ "modernc.org/sqlite"
)

const (
	audioDirName  = "audio"
	backupDirName = "backup"

	// DefaultBackupRetention is the number of backups kept by [Store.Backup].
	DefaultBackupRetention = 5
)

// Store is a SQLite-backed patient and appointment repository.
// It is safe for concurrent use; the underlying pool holds a single
// connection so every statement is serialised.
type Store struct {
	db        *sql.DB
	path      string
	audioDir  string
	backupDir string

	sink    errlog.Sink
	metrics *observe.Metrics
	keep    int
	now     func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithSink sets the failure sink. Default: [errlog.Nop].
func WithSink(s errlog.Sink) Option {
	return func(st *Store) {
		if s != nil {
			st.sink = s
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(st *Store) {
		if m != nil {
			st.metrics = m
		}
	}
}

// WithBackupRetention sets how many backups survive rotation. Values below 1
// are ignored.
func WithBackupRetention(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.keep = n
		}
	}
}

// WithClock overrides the time source used for backup names.
func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// Open creates the data directory with its audio/ and backup/ siblings,
// opens the database at dbPath and applies the schema. Unlike the
// operations, a failure here is returned so the caller can decide whether
// to continue.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	s := &Store{
		path:      dbPath,
		audioDir:  filepath.Join(dir, audioDirName),
		backupDir: filepath.Join(dir, backupDirName),
		sink:      errlog.Nop{},
		keep:      DefaultBackupRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	for _, d := range []string{dir, s.audioDir, s.backupDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %q: %w", d, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	s.db = db
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// AudioDir returns the directory recordings are expected to live in.
func (s *Store) AudioDir() string { return s.audioDir }

// BackupDir returns the directory backups are written to.
func (s *Store) BackupDir() string { return s.backupDir }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// StatsCollector exports the connection pool statistics of the database
// as Prometheus metrics labelled db="doctorapp".
func (s *Store) StatsCollector() prometheus.Collector {
	return collectors.NewDBStatsCollector(s.db, "doctorapp")
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// track starts a span and a timer for op. The returned function must be
// called exactly once with the operation's outcome; a non-nil error is
// recorded on the sink as "<Op> failed: <err>".
func (s *Store) track(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := observe.StartSpan(ctx, "store."+op)
	start := time.Now()
	return ctx, func(err error) {
		observe.EndSpan(span, err)
		s.metrics.RecordStoreOp(ctx, op, observe.Status(err == nil), time.Since(start).Seconds())
		if err != nil {
			s.sink.Record(fmt.Sprintf("%s failed: %v", opLabel(op), err))
		}
	}
}

// opLabel turns "add_patient" into "Add patient".
func opLabel(op string) string {
	label := strings.ReplaceAll(op, "_", " ")
	if label == "" {
		return label
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// removeAudio deletes recording files, ignoring paths that are empty or
// already gone. Other failures are logged and otherwise ignored.
func (s *Store) removeAudio(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.sink.Record(fmt.Sprintf("Remove audio %q failed: %v", p, err))
		}
	}
}

// nullString maps the empty string to SQL NULL.
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func formatDate(t time.Time) string     { return t.Format(DateLayout) }
func formatDateTime(t time.Time) string { return t.Format(DateTimeLayout) }

// parseStored converts a DATE/DATETIME column value into a time.Time. The
// driver hands back either text or an already-parsed time depending on the
// declared column type, so both are accepted.
func parseStored(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return time.Date(x.Year(), x.Month(), x.Day(), x.Hour(), x.Minute(), x.Second(), 0, time.Local), nil
	case string:
		return parseStoredText(x)
	case []byte:
		return parseStoredText(string(x))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected date value of type %T", v)
	}
}

var storedLayouts = []string{DateTimeLayout, DateLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"}

func parseStoredText(s string) (time.Time, error) {
	for _, layout := range storedLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
