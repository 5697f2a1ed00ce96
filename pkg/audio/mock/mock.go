// Package mock provides an in-memory implementation of [audio.Capturer] for
// use in unit tests.
//
// The mock records every Open call and tracks how many streams are open at
// once, so tests can assert that exactly one capture loop is running. Reads
// replay the scripted Frames in order and then deliver silence, paced by
// Interval, until the stream is closed.
//
// Typical usage:
//
//	dev := &mock.Capturer{Frames: [][]int16{{100, 200}, {300, 400}}}
//	s, _ := dev.Open(ctx, audio.SpeechFormat, 2)
//	buf := make([]int16, 2)
//	_ = s.Read(buf) // buf == {100, 200}
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/doctorapp/pkg/audio"
)

// ErrClosed is returned by Read after the stream has been closed.
var ErrClosed = errors.New("mock: stream closed")

// OpenCall records a single invocation of [Capturer.Open].
type OpenCall struct {
	Format          audio.Format
	FramesPerBuffer int
}

// Capturer is a mock implementation of [audio.Capturer].
// Set the exported fields before use; inspect the recorded calls after.
type Capturer struct {
	mu sync.Mutex

	// Frames are replayed by Read, one per call, shared across streams.
	Frames [][]int16

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// ReadErr, if non-nil, is returned by the first Read after Frames are
	// exhausted.
	ReadErr error

	// Interval paces reads once Frames are exhausted. Default: 1ms.
	Interval time.Duration

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall

	next       int
	open       int
	maxOpen    int
	readsTotal int
}

// Open implements [audio.Capturer].
func (c *Capturer) Open(_ context.Context, f audio.Format, framesPerBuffer int) (audio.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCalls = append(c.OpenCalls, OpenCall{Format: f, FramesPerBuffer: framesPerBuffer})
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	c.open++
	c.maxOpen = max(c.maxOpen, c.open)
	return &Stream{dev: c}, nil
}

// OpenStreams returns the number of streams currently open.
func (c *Capturer) OpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// MaxOpenStreams returns the highest number of simultaneously open streams.
func (c *Capturer) MaxOpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxOpen
}

// Reads returns the total number of successful Read calls across streams.
func (c *Capturer) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readsTotal
}

// OpenCount returns the number of times Open was called.
func (c *Capturer) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.OpenCalls)
}

// Stream is the [audio.Stream] returned by [Capturer.Open].
type Stream struct {
	dev    *Capturer
	once   sync.Once
	closed bool
}

// Read implements [audio.Stream].
func (s *Stream) Read(buf []int16) error {
	c := s.dev
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.next < len(c.Frames) {
		clear(buf)
		copy(buf, c.Frames[c.next])
		c.next++
		c.readsTotal++
		c.mu.Unlock()
		return nil
	}
	if err := c.ReadErr; err != nil {
		c.ReadErr = nil
		c.mu.Unlock()
		return err
	}
	interval := c.Interval
	c.mu.Unlock()

	if interval <= 0 {
		interval = time.Millisecond
	}
	time.Sleep(interval)
	clear(buf)

	c.mu.Lock()
	c.readsTotal++
	c.mu.Unlock()
	return nil
}

// Close implements [audio.Stream]. Calling it more than once is safe.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.dev.mu.Lock()
		s.closed = true
		s.dev.open--
		s.dev.mu.Unlock()
	})
	return nil
}

// Compile-time interface checks.
var (
	_ audio.Capturer = (*Capturer)(nil)
	_ audio.Stream   = (*Stream)(nil)
)
