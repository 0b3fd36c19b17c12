package recording

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// mockStream delivers final, if set, when stopped and then closes its chunk
// channel, as a recorder flushing on stop does. A stalled stream never
// closes it.
type mockStream struct {
	chunks   chan []byte
	ended    chan struct{}
	format   Format
	final    []byte
	stalled  bool
	stopped  atomic.Int32
	endOnce  sync.Once
	stopOnce sync.Once
}

func newMockStream(format Format) *mockStream {
	return &mockStream{
		chunks: make(chan []byte, 64),
		ended:  make(chan struct{}),
		format: format,
	}
}

func (s *mockStream) Chunks() <-chan []byte  { return s.chunks }
func (s *mockStream) Ended() <-chan struct{} { return s.ended }
func (s *mockStream) Format() Format         { return s.format }

func (s *mockStream) Stop() {
	s.stopped.Add(1)
	if s.stalled {
		return
	}
	s.stopOnce.Do(func() {
		if s.final != nil {
			s.chunks <- s.final
		}
		close(s.chunks)
	})
}

func (s *mockStream) endExternally() {
	s.endOnce.Do(func() { close(s.ended) })
}

type mockCapturer struct {
	mu           sync.Mutex
	displayCalls int
	micCalls     int
	stream       *mockStream
	err          error
	gate         chan struct{}
}

func (c *mockCapturer) capture(ctx context.Context, counter *int) (Stream, error) {
	c.mu.Lock()
	*counter++
	gate, stream, err := c.gate, c.stream, c.err
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *mockCapturer) CaptureDisplay(ctx context.Context) (Stream, error) {
	return c.capture(ctx, &c.displayCalls)
}

func (c *mockCapturer) CaptureMicrophone(ctx context.Context) (Stream, error) {
	return c.capture(ctx, &c.micCalls)
}

func (c *mockCapturer) calls() (display, mic int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayCalls, c.micCalls
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

var errUserCancelled = errors.New("user cancelled the share dialog")
