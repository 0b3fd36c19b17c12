package call

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/opd-ai/roomcall/participant"
	"github.com/opd-ai/roomcall/speaker"
)

// envelope is a transport event stamped with the generation it arrived under.
type envelope struct {
	generation uint64
	event      any
}

type volumeTick struct {
	samples []speaker.VolumeSample
}

type remoteJoined struct {
	participant participant.Participant
}

type remoteLeft struct {
	id participant.ID
}

// mailbox is an unbounded FIFO. Producers never block; a single consumer
// drains it in arrival order.
type mailbox struct {
	mu     sync.Mutex
	queue  deque.Deque[envelope]
	wake   chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

// push enqueues e. It reports false once the mailbox is closed.
func (m *mailbox) push(e envelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue.PushBack(e)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// pop dequeues the oldest envelope.
func (m *mailbox) pop() (envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue.Len() == 0 {
		return envelope{}, false
	}
	return m.queue.PopFront(), true
}

func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// close rejects further pushes and wakes the consumer.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run drains the mailbox into apply until it is closed and empty.
func (m *mailbox) run(apply func(envelope)) {
	for {
		for {
			e, ok := m.pop()
			if !ok {
				break
			}
			apply(e)
		}

		m.mu.Lock()
		done := m.closed && m.queue.Len() == 0
		m.mu.Unlock()
		if done {
			return
		}
		<-m.wake
	}
}

// handler adapts transport callbacks for one connection generation.
type handler struct {
	box        *mailbox
	generation uint64
}

func (h *handler) OnVolumeIndicator(samples []speaker.VolumeSample) {
	tick := make([]speaker.VolumeSample, len(samples))
	copy(tick, samples)
	h.box.push(envelope{generation: h.generation, event: volumeTick{samples: tick}})
}

func (h *handler) OnParticipantJoined(p participant.Participant) {
	h.box.push(envelope{generation: h.generation, event: remoteJoined{participant: p}})
}

func (h *handler) OnParticipantLeft(id participant.ID) {
	h.box.push(envelope{generation: h.generation, event: remoteLeft{id: id}})
}
