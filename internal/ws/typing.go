package ws

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingStaleness is how long a typing signal stays valid without a refresh.
const DefaultTypingStaleness = 3 * time.Second

type typingState struct {
	isTyping    bool
	lastUpdated time.Time
}

// Typing tracks who is typing. A state older than the staleness window reads as
// idle whatever its flag says; expiry is evaluated lazily on each read.
type Typing struct {
	mu         sync.Mutex
	states     map[string]typingState
	reg        *Registry
	staleAfter time.Duration
	now        func() time.Time
}

// NewTyping creates a coordinator bound to reg. State of users whose last
// connection closes is discarded.
func NewTyping(reg *Registry, staleAfter time.Duration) *Typing {
	if staleAfter <= 0 {
		staleAfter = DefaultTypingStaleness
	}
	t := &Typing{
		states:     make(map[string]typingState),
		reg:        reg,
		staleAfter: staleAfter,
		now:        time.Now,
	}
	reg.OnOffline(t.discard)
	return t
}

// SetTyping records userID's signal, tells receiverID's connections, then
// broadcasts the aggregate typing list to everyone. The lock is held across the
// sends so broadcasts leave in mutation order.
func (t *Typing) SetTyping(userID, receiverID string, isTyping bool) {
	if !TrackableUserID(userID) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.states[userID] = typingState{isTyping: isTyping, lastUpdated: now}
	t.sweepLocked(now)

	if receiverID != "" {
		t.reg.SendToUser(receiverID, OutgoingMessage{
			Type:    EventUserTyping,
			Payload: UserTypingPayload{UserID: userID, IsTyping: isTyping},
		})
	}
	t.reg.Broadcast(OutgoingMessage{Type: EventTypingUsers, Payload: t.activeLocked(now)})
}

// TypingUsers returns users currently typing, sorted. It does not mutate state.
func (t *Typing) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(t.now())
}

// IsTyping reports whether userID is typing right now.
func (t *Typing) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[userID]
	return ok && t.activeState(s, t.now())
}

func (t *Typing) activeState(s typingState, now time.Time) bool {
	return s.isTyping && now.Sub(s.lastUpdated) <= t.staleAfter
}

func (t *Typing) activeLocked(now time.Time) []string {
	ids := make([]string, 0, len(t.states))
	for id, s := range t.states {
		if t.activeState(s, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// sweepLocked drops idle and stale entries so the map stays small.
func (t *Typing) sweepLocked(now time.Time) {
	for id, s := range t.states {
		if !t.activeState(s, now) {
			delete(t.states, id)
		}
	}
}

func (t *Typing) discard(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[userID]
	if !ok {
		return
	}
	delete(t.states, userID)
	now := t.now()
	if t.activeState(s, now) {
		t.reg.Broadcast(OutgoingMessage{Type: EventTypingUsers, Payload: t.activeLocked(now)})
	}
}
