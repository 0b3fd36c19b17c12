package sim

import (
	"context"
	"sync"
)

// Presence is an in-memory call.Presence keyed by channel.
type Presence struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	err     error
}

// NewPresence creates an empty membership store.
func NewPresence() *Presence {
	return &Presence{members: make(map[string]map[string]bool)}
}

// Fail makes updates fail with err. Nil restores success.
func (p *Presence) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Enter implements call.Presence.
func (p *Presence) Enter(ctx context.Context, channelID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.members[channelID] == nil {
		p.members[channelID] = make(map[string]bool)
	}
	p.members[channelID][userID] = true
	return nil
}

// Exit implements call.Presence.
func (p *Presence) Exit(ctx context.Context, channelID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	delete(p.members[channelID], userID)
	return nil
}

// Present reports whether userID is a member of channelID.
func (p *Presence) Present(channelID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.members[channelID][userID]
}
