package sim

import (
	"context"
	"sync"

	"github.com/opd-ai/roomcall/recording"
)

// Stream is an in-memory recording.Stream fed by the test.
type Stream struct {
	format  recording.Format
	chunks  chan []byte
	ended   chan struct{}
	endOnce sync.Once

	mu     sync.Mutex
	final  []byte
	closed bool
	stops  int
}

// NewStream creates a stream buffering up to 256 chunks.
func NewStream(format recording.Format) *Stream {
	return &Stream{
		format: format,
		chunks: make(chan []byte, 256),
		ended:  make(chan struct{}),
	}
}

// Push delivers one chunk. It reports false when the buffer is full or the
// stream was stopped.
func (s *Stream) Push(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.chunks <- chunk:
		return true
	default:
		return false
	}
}

// SetFinal sets data the recorder still holds and delivers on Stop.
func (s *Stream) SetFinal(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = chunk
}

// End simulates the environment stopping the capture.
func (s *Stream) End() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Chunks implements recording.Stream.
func (s *Stream) Chunks() <-chan []byte { return s.chunks }

// Ended implements recording.Stream.
func (s *Stream) Ended() <-chan struct{} { return s.ended }

// Format implements recording.Stream.
func (s *Stream) Format() recording.Format { return s.format }

// Stop implements recording.Stream. The final chunk, if any, is delivered
// before Chunks is closed.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.closed {
		return
	}
	s.closed = true
	if s.final != nil {
		select {
		case s.chunks <- s.final:
		default:
		}
	}
	close(s.chunks)
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops > 0
}

// Capturer is an in-memory recording.Capturer.
type Capturer struct {
	mu          sync.Mutex
	displayFmt  recording.Format
	audioFmt    recording.Format
	err         error
	streams     []*Stream
	displayReqs int
	audioReqs   int
}

// NewCapturer grants WebM display capture and PCM16 microphone capture.
func NewCapturer() *Capturer {
	return &Capturer{
		displayFmt: recording.Format{Codec: recording.CodecWebM},
		audioFmt:   recording.Format{Codec: recording.CodecPCM16, SampleRate: 48000, Channels: 1},
	}
}

// Deny makes capture requests fail with err. Nil restores success.
func (c *Capturer) Deny(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// SetAudioFormat changes the format of future microphone streams.
func (c *Capturer) SetAudioFormat(f recording.Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioFmt = f
}

// CaptureDisplay implements recording.Capturer.
func (c *Capturer) CaptureDisplay(ctx context.Context) (recording.Stream, error) {
	c.mu.Lock()
	c.displayReqs++
	c.mu.Unlock()
	return c.grant(ctx, c.displayFmt)
}

// CaptureMicrophone implements recording.Capturer.
func (c *Capturer) CaptureMicrophone(ctx context.Context) (recording.Stream, error) {
	c.mu.Lock()
	c.audioReqs++
	format := c.audioFmt
	c.mu.Unlock()
	return c.grant(ctx, format)
}

func (c *Capturer) grant(ctx context.Context, format recording.Format) (recording.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	stream := NewStream(format)
	c.streams = append(c.streams, stream)
	return stream, nil
}

// Latest returns the most recently granted stream, or nil.
func (c *Capturer) Latest() *Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

// Requests returns how often each capture kind was requested.
func (c *Capturer) Requests() (display, microphone int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayReqs, c.audioReqs
}
