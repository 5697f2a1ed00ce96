package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
// Samples are always signed 16-bit.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is 16 kHz mono, the input format expected by the recogniser
// and the format of every stored dictation.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// BitDepth is the sample width used throughout this package.
const BitDepth = 16

// Duration returns the playback time of n interleaved samples.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / f.Channels)
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
