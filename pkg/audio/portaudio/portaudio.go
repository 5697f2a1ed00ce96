// Package portaudio implements [audio.Capturer] on top of the PortAudio
// library via github.com/gordonklaus/portaudio.
//
// PortAudio must be initialised once per process. [New] does so and
// [Capturer.Close] terminates it; streams opened in between capture from the
// system default input device. The PortAudio shared library must be present
// at runtime.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/doctorapp/pkg/audio"
)

// Compile-time interface check.
var _ audio.Capturer = (*Capturer)(nil)

// Capturer opens microphone streams on the default input device.
type Capturer struct {
	mu     sync.Mutex
	closed bool
}

// New initialises PortAudio. The caller must call Close when capture is no
// longer needed.
func New() (*Capturer, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	if dev, err := pa.DefaultInputDevice(); err == nil {
		slog.Debug("portaudio: default input device", "name", dev.Name, "default_sample_rate", dev.DefaultSampleRate)
	}
	return &Capturer{}, nil
}

// Open implements [audio.Capturer]. The stream is started before Open
// returns.
func (c *Capturer) Open(ctx context.Context, f audio.Format, framesPerBuffer int) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: open: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("portaudio: capturer is closed")
	}
	if framesPerBuffer <= 0 {
		return nil, fmt.Errorf("portaudio: invalid frames per buffer %d", framesPerBuffer)
	}

	buf := make([]int16, framesPerBuffer*f.Channels)
	st, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open default stream (%s): %w", f, err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	return &stream{st: st, buf: buf}, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// stream adapts *pa.Stream, which reads into the buffer bound at open time,
// to the copy-out [audio.Stream] contract.
type stream struct {
	st   *pa.Stream
	buf  []int16
	once sync.Once
}

func (s *stream) Read(buf []int16) error {
	if err := s.st.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
		return fmt.Errorf("portaudio: read: %w", err)
	}
	copy(buf, s.buf)
	return nil
}

func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		err = errors.Join(s.st.Stop(), s.st.Close())
	})
	if err != nil {
		return fmt.Errorf("portaudio: close stream: %w", err)
	}
	return nil
}
