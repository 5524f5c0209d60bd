package ws

import (
	"sort"
	"sync"

	"github.com/pulse/internal/logger"
)

// UnknownUserID is what browsers send when the page builds the socket URL before
// the session is known.
const UnknownUserID = "undefined"

// TrackableUserID reports whether a connection claiming userID may enter the registry.
func TrackableUserID(userID string) bool {
	return userID != "" && userID != UnknownUserID
}

// Conn is one live connection handle as the registry sees it.
// Send must not block; it reports whether the event was queued.
type Conn interface {
	ID() string
	Send(msg OutgoingMessage) bool
}

// Registry maps each user to the set of connections they currently hold.
// Every change to the set of online users is announced to all connections
// while the registry lock is still held, so no client sees a connection change
// without the matching presence update.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]map[string]Conn
	owners map[string]string

	hooksMu sync.Mutex
	offline []func(userID string)
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]map[string]Conn),
		owners: make(map[string]string),
	}
}

// OnOffline registers fn to run after the last connection of a user is removed.
// Hooks run outside the registry lock.
func (r *Registry) OnOffline(fn func(userID string)) {
	r.hooksMu.Lock()
	r.offline = append(r.offline, fn)
	r.hooksMu.Unlock()
}

func (r *Registry) fireOffline(userID string) {
	r.hooksMu.Lock()
	hooks := make([]func(string), len(r.offline))
	copy(hooks, r.offline)
	r.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(userID)
	}
}

// Register adds c to userID's set and reports whether the connection is tracked.
// Untrackable identities are logged and ignored.
func (r *Registry) Register(userID string, c Conn) bool {
	if !TrackableUserID(userID) {
		logger.Warnf("ws register conn=%s without a user id, not tracked", c.ID())
		return false
	}

	r.mu.Lock()
	var displaced string
	changed := false
	if owner, ok := r.owners[c.ID()]; ok {
		if owner == userID {
			r.mu.Unlock()
			return true
		}
		// A handle belongs to one user at a time.
		if r.removeLocked(c.ID()) {
			displaced = owner
			changed = true
		}
	}
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]Conn, 2)
		r.users[userID] = conns
		changed = true
	}
	conns[c.ID()] = c
	r.owners[c.ID()] = userID
	logger.Debugf("ws user=%s connected conn=%s devices=%d", userID, c.ID(), len(conns))
	if changed {
		r.announceLocked()
	}
	r.mu.Unlock()

	if displaced != "" {
		r.fireOffline(displaced)
	}
	return true
}

// Unregister removes c from whichever user owns it. The owner is looked up by
// handle, never by a claimed user id. It returns the owner and whether that user
// just went offline.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	userID, ok := r.owners[c.ID()]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	offline := r.removeLocked(c.ID())
	if offline {
		r.announceLocked()
	}
	r.mu.Unlock()

	if offline {
		logger.Debugf("ws user=%s offline", userID)
		r.fireOffline(userID)
	}
	return userID, offline
}

// removeLocked drops a handle and reports whether its owner has no handles left.
func (r *Registry) removeLocked(connID string) bool {
	userID := r.owners[connID]
	delete(r.owners, connID)
	conns := r.users[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// ConnectionsFor returns a snapshot of userID's live connections; empty when unknown.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// OnlineUserIDs returns every user with at least one live connection, sorted.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Len is the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}

func (r *Registry) onlineLocked() []string {
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) allLocked() []Conn {
	out := make([]Conn, 0, len(r.owners))
	for _, conns := range r.users {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

// SendToUser fans msg out to every live connection of userID and returns how many
// accepted it. Connections that died since lookup are skipped.
func (r *Registry) SendToUser(userID string, msg OutgoingMessage) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sendAll(r.users[userID], msg)
}

// Broadcast sends msg to every tracked connection.
func (r *Registry) Broadcast(msg OutgoingMessage) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.users {
		n += sendAll(conns, msg)
	}
	return n
}

func sendAll(conns map[string]Conn, msg OutgoingMessage) int {
	n := 0
	for _, c := range conns {
		if c.Send(msg) {
			n++
		}
	}
	return n
}
