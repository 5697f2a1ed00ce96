// Package errlog provides the failure-logging capability injected into the
// persistence and speech layers.
//
// Every caught failure is forwarded to a [Sink] as a plain message. The
// production sink is [FileSink], an append-only JSON-lines file that a user
// can attach to a support request; [SlogSink] routes the same messages
// through structured logging and [Multi] fans out to several sinks.
package errlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink records a single failure message. Implementations must be safe for
// concurrent use and must never panic or block for long: callers invoke
// Record from error paths where there is nothing left to do with a failure.
type Sink interface {
	Record(msg string)
}

// Entry is a single line in the error log file.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// FileSink appends failures as JSON lines to a local file.
// Thread-safe for concurrent use.
type FileSink struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	mirror *slog.Logger
}

// Compile-time interface check.
var _ Sink = (*FileSink)(nil)

// FileOption configures a [FileSink].
type FileOption func(*FileSink)

// WithMirror additionally logs every recorded failure at error level on l.
func WithMirror(l *slog.Logger) FileOption {
	return func(s *FileSink) { s.mirror = l }
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileSink) { s.now = now }
}

// NewFileSink creates a FileSink that writes to path. The parent directory
// is created on first write if it does not exist.
func NewFileSink(path string, opts ...FileOption) *FileSink {
	s := &FileSink{path: path, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the log file location.
func (s *FileSink) Path() string { return s.path }

// Record appends msg to the log file. Write failures are reported on stderr
// through slog since there is no further place to send them.
func (s *FileSink) Record(msg string) {
	if s.mirror != nil {
		s.mirror.Error(msg)
	}
	if err := s.append(msg); err != nil {
		slog.Warn("errlog: failed to append to error log", "path", s.path, "err", err)
	}
}

func (s *FileSink) append(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(Entry{Timestamp: s.now(), Error: msg})
	if err != nil {
		return fmt.Errorf("errlog: marshal: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("errlog: create log dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("errlog: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("errlog: write: %w", err)
	}
	return nil
}

// SlogSink records failures on a structured logger at error level.
type SlogSink struct {
	Logger *slog.Logger
}

// Record implements [Sink].
func (s SlogSink) Record(msg string) {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Error(msg)
}

// Nop discards every message.
type Nop struct{}

// Record implements [Sink].
func (Nop) Record(string) {}

// Multi fans a message out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Record(msg string) {
	for _, s := range m {
		s.Record(msg)
	}
}

// Recorder is an in-memory [Sink] that keeps every message. It is intended
// for tests that assert on logged failures.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

// Record implements [Sink].
func (r *Recorder) Record(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// Messages returns a copy of every recorded message.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}
