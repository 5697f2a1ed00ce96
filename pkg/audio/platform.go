// Package audio defines the capture-device abstraction and the PCM and WAV
// helpers used by the dictation pipeline.
//
// The two primary abstractions are:
//
//   - [Capturer] opens an input device and returns a [Stream].
//   - [Stream] is a blocking source of fixed-size int16 sample buffers.
//
// Implementations are provided by adapter packages (audio/portaudio for real
// microphones, audio/mock for tests). The interfaces are intentionally narrow
// so the speech engine stays decoupled from the device library.
package audio

import "context"

// Stream is an open input stream.
//
// Read blocks until len(buf) samples have been captured and copies them into
// buf. Close stops the device and releases it; calling Close more than once
// returns nil. A Stream is used by a single goroutine.
type Stream interface {
	Read(buf []int16) error
	Close() error
}

// Capturer opens input streams on the default recording device.
//
// Implementations must be safe for concurrent use.
type Capturer interface {
	// Open starts capturing in format f, delivering framesPerBuffer samples per
	// Read. ctx governs the open attempt only.
	Open(ctx context.Context, f Format, framesPerBuffer int) (Stream, error)
}
