// Package whisper implements [stt.Recognizer] using the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/doctorapp/pkg/provider/stt"
)

// Compile-time assertion that NativeRecognizer satisfies stt.Recognizer.
var _ stt.Recognizer = (*NativeRecognizer)(nil)

// NativeRecognizer implements stt.Recognizer on a whisper.cpp model that is
// loaded once and shared by every call.
type NativeRecognizer struct {
	mu      sync.Mutex
	model   whisperlib.Model
	threads uint
}

// NativeOption is a functional option for configuring a NativeRecognizer.
type NativeOption func(*NativeRecognizer)

// WithThreads sets the number of CPU threads used per inference. Zero keeps
// the whisper.cpp default.
func WithThreads(n uint) NativeOption {
	return func(r *NativeRecognizer) { r.threads = n }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the recognizer is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeRecognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r := &NativeRecognizer{model: model}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Loader returns an [stt.Loader] that loads the model at modelPath.
func Loader(modelPath string, opts ...NativeOption) stt.Loader {
	return func() (stt.Recognizer, error) {
		r, err := NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// Close releases the whisper model.
func (r *NativeRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model == nil {
		return nil
	}
	err := r.model.Close()
	r.model = nil
	return err
}

// Transcribe runs whisper.cpp inference on samples using a fresh context and
// returns the concatenated segment text.
func (r *NativeRecognizer) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if len(samples) == 0 {
		return "", stt.ErrNoAudio
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	r.mu.Lock()
	model := r.model
	r.mu.Unlock()
	if model == nil {
		return "", errors.New("whisper: recognizer is closed")
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
		}
	}
	if r.threads > 0 {
		wctx.SetThreads(r.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
