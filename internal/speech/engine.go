// Package speech implements dictation: capturing the microphone into memory,
// saving the take as a WAV file, recognising it offline and transliterating
// the Serbian Cyrillic output to Latin script.
//
// An [Engine] alternates between two states. [Engine.StartRecording] moves it
// from Idle to Recording and spawns a single capture goroutine;
// [Engine.StopRecording] joins that goroutine, returns to Idle and runs the
// save/recognise/transliterate pipeline. Every start/stop cycle produces
// exactly one [Result], delivered on [Engine.Notifications], to callbacks
// registered with [Engine.OnComplete], and as the return value of the stop
// call. Failures never escape as panics or bare errors; they are logged to
// the injected sink and carried in Result.Err.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/doctorapp/internal/errlog"
	"github.com/MrWong99/doctorapp/internal/observe"
	"github.com/MrWong99/doctorapp/internal/translit"
	"github.com/MrWong99/doctorapp/pkg/audio"
	"github.com/MrWong99/doctorapp/pkg/provider/stt"
)

// Sentinel errors carried in [Result.Err].
var (
	ErrNothingToStop    = errors.New("speech: no recording to stop")
	ErrAlreadyRecording = errors.New("speech: a recording is already in progress")
	ErrModelUnavailable = errors.New("speech: speech model unavailable")
)

const (
	// DefaultLanguage is the recognition language.
	DefaultLanguage = "sr"

	// DefaultFramesPerBuffer is the number of samples captured per read.
	DefaultFramesPerBuffer = 1024

	defaultNotificationBuffer = 16
	recordingTimeLayout       = "20060102_150405"
)

// State is the recording state of an [Engine].
type State int

const (
	Idle State = iota
	Recording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Result is the outcome of one dictation cycle, or of a model load failure.
type Result struct {
	// Text is the transliterated transcription. Empty on failure.
	Text string

	// AudioPath is the saved WAV file. Set whenever the audio was written,
	// even if recognition failed afterwards.
	AudioPath string

	// Duration is the length of the captured audio.
	Duration time.Duration

	// Err is nil on success.
	Err error

	// Message is a short description suitable for showing to the user.
	Message string
}

// OK reports whether the cycle produced a transcription.
func (r Result) OK() bool { return r.Err == nil }

// Option configures an [Engine].
type Option func(*Engine)

// WithLanguage sets the recognition language. Default: "sr".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithFramesPerBuffer sets the capture read size. Values below 1 are ignored.
func WithFramesPerBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.framesPerBuffer = n
		}
	}
}

// WithSink sets the failure sink. Default: [errlog.Nop].
func WithSink(s errlog.Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides the time source used for recording file names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithNotificationBuffer sets the capacity of the notification channel.
// Results that do not fit are dropped from the channel (callbacks still
// run). Default: 16.
func WithNotificationBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.notifyCap = n
		}
	}
}

// recording is the state shared between one capture goroutine and the stop
// path. frames and err are owned by the goroutine until done is closed.
type recording struct {
	stop    chan struct{}
	done    chan struct{}
	started time.Time
	frames  [][]int16
	err     error
}

// Engine is the dictation state machine. All exported methods are safe for
// concurrent use.
type Engine struct {
	audioDir        string
	capturer        audio.Capturer
	recognizer      stt.Recognizer
	loadErr         error
	language        string
	framesPerBuffer int
	format          audio.Format

	sink      errlog.Sink
	metrics   *observe.Metrics
	now       func() time.Time
	notifyCap int
	notify    chan Result

	mu        sync.Mutex
	state     State
	active    *recording
	callbacks []func(Result)
	closed    bool

	// stopping counts cycles between leaving Recording and delivering their
	// Result. Close waits for it before releasing the recogniser.
	stopping sync.WaitGroup
}

// New creates an Engine that saves recordings under audioDir and captures
// from capturer. The recogniser is loaded immediately with load; if that
// fails the failure is logged and sent as a notification, and
// StartRecording will refuse to run for the lifetime of the Engine.
func New(audioDir string, load stt.Loader, capturer audio.Capturer, opts ...Option) *Engine {
	e := &Engine{
		audioDir:        audioDir,
		capturer:        capturer,
		language:        DefaultLanguage,
		framesPerBuffer: DefaultFramesPerBuffer,
		format:          audio.SpeechFormat,
		sink:            errlog.Nop{},
		now:             time.Now,
		notifyCap:       defaultNotificationBuffer,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.notify = make(chan Result, e.notifyCap)

	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		e.sink.Record(fmt.Sprintf("Failed to create audio directory: %v", err))
	}

	switch {
	case load == nil:
		e.loadErr = errors.New("no recognizer configured")
	case capturer == nil:
		e.loadErr = errors.New("no capture device configured")
	default:
		r, err := load()
		if err != nil {
			e.loadErr = err
		} else if r == nil {
			e.loadErr = errors.New("loader returned no recognizer")
		} else {
			e.recognizer = r
		}
	}
	if e.loadErr != nil {
		msg := fmt.Sprintf("Failed to load speech model: %v", e.loadErr)
		e.sink.Record(msg)
		e.send(Result{Err: fmt.Errorf("%w: %w", ErrModelUnavailable, e.loadErr), Message: msg})
	} else {
		slog.Info("speech model loaded", "language", e.language)
	}
	return e
}

// Notifications returns the completion channel. It is never closed.
func (e *Engine) Notifications() <-chan Result { return e.notify }

// OnComplete registers cb to run after every cycle, on the goroutine that
// finished it. Callbacks must not call StopRecording.
func (e *Engine) OnComplete(cb func(Result)) {
	if cb == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ModelReady reports whether the recogniser loaded successfully.
func (e *Engine) ModelReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr == nil && !e.closed
}

// StartRecording begins capturing. It returns false, leaving the state
// unchanged, when a recording is already running, when the model is
// unavailable or after Close.
func (e *Engine) StartRecording() bool {
	ok, err := e.start()
	if err != nil {
		slog.Debug("speech: start refused", "error", err)
	}
	return ok
}

func (e *Engine) start() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return false, errors.New("speech: engine is closed")
	case e.loadErr != nil:
		return false, ErrModelUnavailable
	case e.state != Idle:
		return false, ErrAlreadyRecording
	}

	rec := &recording{
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		started: e.now(),
	}
	e.state = Recording
	e.active = rec
	e.metrics.ActiveRecordings.Add(context.Background(), 1)
	go e.capture(rec)

	slog.Info("recording started")
	return true, nil
}

// capture is the body of the capture goroutine. If the device fails before
// the cycle is stopped, the goroutine ends the cycle itself and delivers the
// failure as that cycle's only notification.
func (e *Engine) capture(rec *recording) {
	defer close(rec.done)

	err := e.captureLoop(rec)
	if err == nil {
		return
	}
	rec.err = err
	msg := fmt.Sprintf("Recording failed: %v", err)
	e.sink.Record(msg)

	e.mu.Lock()
	claimed := e.active == rec
	if claimed {
		e.active = nil
		e.state = Idle
	}
	e.mu.Unlock()

	if claimed {
		e.metrics.ActiveRecordings.Add(context.Background(), -1)
		e.complete(context.Background(), Result{Err: err, Message: msg})
	}
}

func (e *Engine) captureLoop(rec *recording) error {
	stream, err := e.capturer.Open(context.Background(), e.format, e.framesPerBuffer)
	if err != nil {
		return fmt.Errorf("open input device: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Warn("speech: close input stream", "error", err)
		}
	}()

	n := e.framesPerBuffer * e.format.Channels
	for {
		select {
		case <-rec.stop:
			return nil
		default:
		}
		buf := make([]int16, n)
		if err := stream.Read(buf); err != nil {
			return fmt.Errorf("read input device: %w", err)
		}
		rec.frames = append(rec.frames, buf)
	}
}

// StopRecording ends the current cycle: it signals the capture goroutine,
// waits for it to exit, returns to Idle, then saves the audio as
// recording_YYYYMMDD_HHMMSS.wav, recognises and transliterates it. The
// Result is delivered as a notification and returned.
//
// Without an active recording it returns a Result with ErrNothingToStop,
// touches no files and sends no notification.
func (e *Engine) StopRecording(ctx context.Context) Result {
	e.mu.Lock()
	rec := e.active
	if rec == nil {
		e.mu.Unlock()
		return Result{Err: ErrNothingToStop, Message: "No recording to stop."}
	}
	e.active = nil
	e.stopping.Add(1)
	e.mu.Unlock()
	defer e.stopping.Done()

	return e.stop(ctx, rec)
}

// stop joins the capture goroutine of rec and completes its cycle.
func (e *Engine) stop(ctx context.Context, rec *recording) Result {
	close(rec.stop)
	<-rec.done

	e.mu.Lock()
	e.state = Idle
	e.mu.Unlock()
	e.metrics.ActiveRecordings.Add(ctx, -1)

	res := e.finish(ctx, rec)
	e.complete(ctx, res)
	return res
}

// StopRecordingAsync runs StopRecording on a new goroutine. The returned
// channel yields its Result and is then closed.
func (e *Engine) StopRecordingAsync(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- e.StopRecording(ctx)
	}()
	return out
}

// finish turns a joined recording into a Result.
func (e *Engine) finish(ctx context.Context, rec *recording) Result {
	samples := join(rec.frames)
	dur := e.format.Duration(len(samples))
	e.metrics.RecordedSeconds.Record(ctx, dur.Seconds())

	if rec.err != nil {
		return Result{Duration: dur, Err: rec.err, Message: fmt.Sprintf("Recording failed: %v", rec.err)}
	}

	path := filepath.Join(e.audioDir, "recording_"+e.now().Format(recordingTimeLayout)+".wav")
	if err := audio.SaveWAV(path, samples, e.format); err != nil {
		msg := fmt.Sprintf("Failed to save audio: %v", err)
		e.sink.Record(msg)
		return Result{Duration: dur, Err: err, Message: msg}
	}
	slog.Info("audio saved", "path", path, "duration", dur, "rms", audio.RMS(samples))

	text, err := e.transcribe(ctx, samples)
	if err != nil {
		msg := fmt.Sprintf("Transcription failed: %v", err)
		e.sink.Record(msg)
		return Result{AudioPath: path, Duration: dur, Err: err, Message: msg}
	}
	slog.Info("transcription complete", "path", path, "chars", len(text))
	return Result{Text: text, AudioPath: path, Duration: dur, Message: "Transcription complete."}
}

func (e *Engine) transcribe(ctx context.Context, samples []int16) (text string, err error) {
	ctx, span := observe.StartSpan(ctx, "speech.transcribe")
	start := time.Now()
	defer func() {
		observe.EndSpan(span, err)
		e.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	}()

	e.mu.Lock()
	r := e.recognizer
	e.mu.Unlock()
	if r == nil {
		return "", ErrModelUnavailable
	}

	raw, err := r.Transcribe(ctx, audio.Int16ToFloat32(samples), e.language)
	if err != nil {
		return "", err
	}
	return translit.ToLatin(strings.TrimSpace(raw)), nil
}

// complete delivers the Result of a finished cycle.
func (e *Engine) complete(ctx context.Context, res Result) {
	e.metrics.RecordRecording(ctx, observe.Status(res.Err == nil))
	e.send(res)
}

// send publishes res on the channel without blocking and runs callbacks.
func (e *Engine) send(res Result) {
	select {
	case e.notify <- res:
	default:
		slog.Warn("speech: notification channel full, result dropped from channel", "message", res.Message)
	}

	e.mu.Lock()
	cbs := append([]func(Result){}, e.callbacks...)
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(res)
	}
}

// Close ends a recording in progress exactly as StopRecording would, so the
// audio is saved and its Result delivered. It then waits for every other
// cycle still being transcribed and releases the recogniser. Calling Close
// more than once is safe.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	rec := e.active
	e.active = nil
	e.mu.Unlock()

	if rec != nil {
		slog.Info("speech: finishing recording on close")
		e.stop(context.Background(), rec)
	}
	e.stopping.Wait()

	e.mu.Lock()
	r := e.recognizer
	e.recognizer = nil
	e.mu.Unlock()
	if r != nil {
		if err := r.Close(); err != nil {
			return fmt.Errorf("speech: close recognizer: %w", err)
		}
	}
	return nil
}

func join(frames [][]int16) []int16 {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]int16, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
