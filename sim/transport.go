package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/roomcall/call"
	"github.com/opd-ai/roomcall/media"
	"github.com/opd-ai/roomcall/participant"
	"github.com/opd-ai/roomcall/speaker"
)

// ErrNotJoined is returned by operations that need a joined transport.
var ErrNotJoined = errors.New("simulated transport not joined")

// PublishRecord is one Publish call.
type PublishRecord struct {
	Channel  string
	TrackIDs []string
	Tracks   []media.Track
}

// Transport is an in-memory call.Transport.
type Transport struct {
	localID participant.ID

	mu           sync.Mutex
	joined       bool
	channel      string
	joinErr      error
	publishErr   error
	joinGate     chan struct{}
	publishGate  chan struct{}
	joinCalls    int
	publishCalls int
	leaveCalls   int
	indicatorOn  bool
	publishes    []PublishRecord
	remotes      []participant.Participant
	handlers     map[int]call.EventHandler
	nextHandler  int
	joinedTokens []string
}

// NewTransport creates a transport that assigns localID on join.
func NewTransport(localID participant.ID) *Transport {
	logrus.WithFields(logrus.Fields{
		"function": "NewTransport",
		"local_id": localID,
	}).Debug("Creating simulated transport")

	return &Transport{
		localID:  localID,
		handlers: make(map[int]call.EventHandler),
	}
}

// FailJoin makes the next joins fail with err. Nil restores success.
func (t *Transport) FailJoin(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joinErr = err
}

// FailPublish makes publishes fail with err. Nil restores success.
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishErr = err
}

// HoldJoin makes joins block until the returned function is called.
func (t *Transport) HoldJoin() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.joinGate = gate
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.joinGate == gate {
				t.joinGate = nil
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

// HoldPublish makes publishes block until the returned function is called
// or their context is done.
func (t *Transport) HoldPublish() (release func()) {
	gate := make(chan struct{})
	t.mu.Lock()
	t.publishGate = gate
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.publishGate == gate {
				t.publishGate = nil
			}
			t.mu.Unlock()
			close(gate)
		})
	}
}

// Join implements call.Transport.
func (t *Transport) Join(ctx context.Context, appID, channelID, token string) (participant.ID, error) {
	t.mu.Lock()
	t.joinCalls++
	gate := t.joinGate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.joinErr != nil {
		return "", t.joinErr
	}
	t.joined = true
	t.channel = channelID
	t.joinedTokens = append(t.joinedTokens, token)

	logrus.WithFields(logrus.Fields{
		"function":   "Transport.Join",
		"app_id":     appID,
		"channel_id": channelID,
		"local_id":   t.localID,
	}).Debug("Simulated join completed")

	return t.localID, nil
}

// Leave implements call.Transport.
func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaveCalls++
	t.joined = false
	t.indicatorOn = false
	return nil
}

// Publish implements call.Transport.
func (t *Transport) Publish(ctx context.Context, tracks []media.Track) error {
	t.mu.Lock()
	t.publishCalls++
	gate := t.publishGate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.joined {
		return ErrNotJoined
	}
	if t.publishErr != nil {
		return t.publishErr
	}

	record := PublishRecord{Channel: t.channel, Tracks: append([]media.Track(nil), tracks...)}
	for _, track := range tracks {
		record.TrackIDs = append(record.TrackIDs, track.ID())
	}
	t.publishes = append(t.publishes, record)
	return nil
}

// EnableVolumeIndicator implements call.Transport.
func (t *Transport) EnableVolumeIndicator() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.joined {
		return ErrNotJoined
	}
	t.indicatorOn = true
	return nil
}

// Subscribe implements call.Transport.
func (t *Transport) Subscribe(h call.EventHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextHandler
	t.nextHandler++
	t.handlers[id] = h

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

// RemoteParticipants implements call.Transport.
func (t *Transport) RemoteParticipants() []participant.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]participant.Participant(nil), t.remotes...)
}

func (t *Transport) subscribers() []call.EventHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]call.EventHandler, 0, len(t.handlers))
	for i := 0; i < t.nextHandler; i++ {
		if h, ok := t.handlers[i]; ok {
			out = append(out, h)
		}
	}
	return out
}

// AddRemote puts a remote participant in the channel and announces it.
func (t *Transport) AddRemote(id participant.ID) {
	p := participant.Participant{ID: id, AudioEnabled: true, VideoEnabled: true}

	t.mu.Lock()
	t.remotes = append(t.remotes, p)
	t.mu.Unlock()

	for _, h := range t.subscribers() {
		h.OnParticipantJoined(p)
	}
}

// RemoveRemote takes a remote participant out of the channel and announces
// the departure.
func (t *Transport) RemoveRemote(id participant.ID) {
	t.mu.Lock()
	for i, p := range t.remotes {
		if p.ID == id {
			t.remotes = append(t.remotes[:i], t.remotes[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	for _, h := range t.subscribers() {
		h.OnParticipantLeft(id)
	}
}

// EmitVolume delivers one volume-indicator tick.
func (t *Transport) EmitVolume(samples ...speaker.VolumeSample) {
	for _, h := range t.subscribers() {
		h.OnVolumeIndicator(samples)
	}
}

// Joined reports whether the transport holds a channel.
func (t *Transport) Joined() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joined
}

// IndicatorEnabled reports whether volume ticks were enabled.
func (t *Transport) IndicatorEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indicatorOn
}

// Publishes returns every successful publish in order.
func (t *Transport) Publishes() []PublishRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PublishRecord(nil), t.publishes...)
}

// Subscribers returns the number of attached event handlers.
func (t *Transport) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Calls returns how often Join and Leave were invoked.
func (t *Transport) Calls() (joins, leaves int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joinCalls, t.leaveCalls
}

// PublishCalls returns how many publishes were started, including ones
// still blocked or failed.
func (t *Transport) PublishCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.publishCalls
}

// Tokens returns the token of every successful join.
func (t *Transport) Tokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.joinedTokens...)
}
