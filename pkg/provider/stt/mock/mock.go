// Package mock provides a test double for the stt.Recognizer interface.
//
// Set Text/Err to control the result and inspect Calls afterwards:
//
//	r := &mock.Recognizer{Text: "Pacijent se žali na glavobolju"}
//	text, _ := r.Transcribe(ctx, samples, "sr")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/doctorapp/pkg/provider/stt"
)

// Compile-time interface check.
var _ stt.Recognizer = (*Recognizer)(nil)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	Samples  int
	Language string
}

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or ctx is
	// done.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Transcribe records the call and returns Text, Err.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, TranscribeCall{Samples: len(samples), Language: language})
	block := r.Block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// Close records the call.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCount++
	return nil
}

// TranscribeCalls returns a snapshot of the recorded calls.
func (r *Recognizer) TranscribeCalls() []TranscribeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscribeCall(nil), r.Calls...)
}

// Closed returns how many times Close was called.
func (r *Recognizer) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CloseCount
}
