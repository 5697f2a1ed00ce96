// Package stt defines the Recognizer interface for offline speech-to-text
// backends.
//
// A Recognizer turns one complete recording into text. It is a batch
// interface: the dictation pipeline records first and transcribes after the
// microphone has been released, so there is no streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned by Transcribe when samples is empty.
var ErrNoAudio = errors.New("stt: no audio samples")

// Recognizer is the abstraction over any offline STT backend.
type Recognizer interface {
	// Transcribe recognises speech in samples, which must be 16 kHz mono
	// normalised to [-1.0, 1.0]. language is an ISO 639-1 code such as "sr";
	// an empty string lets the backend auto-detect. The returned text is
	// trimmed; silence yields "" and a nil error.
	//
	// ctx is checked before and after inference; backends that run inference
	// in native code cannot be interrupted mid-way.
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}

// Loader constructs a Recognizer, typically by loading a model from disk.
type Loader func() (Recognizer, error)
