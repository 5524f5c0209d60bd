package ws

import (
	"context"
	"sync"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/storage"
)

const defaultMaxConns = 10000

// LastSeenRecorder persists the moment a user's last connection closed. Optional.
type LastSeenRecorder interface {
	SetLastSeen(ctx context.Context, userID string, t time.Time) error
}

// HubConfig groups the Hub's tunables.
type HubConfig struct {
	MaxConns      int
	TypingPerMin  int
	ClientOptions ClientOptions
}

// Hub owns the socket lifecycle: it admits clients into the Registry, removes
// them on disconnect and dispatches inbound frames.
type Hub struct {
	registry   *Registry
	typing     *Typing
	limiter    storage.RateLimiter
	typingRate int
	maxConns   int
	clientOpts ClientOptions

	mu      sync.Mutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(registry *Registry, typing *Typing, limiter storage.RateLimiter, seen LastSeenRecorder, cfg HubConfig) *Hub {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	h := &Hub{
		registry:   registry,
		typing:     typing,
		limiter:    limiter,
		typingRate: cfg.TypingPerMin,
		maxConns:   cfg.MaxConns,
		clientOpts: cfg.ClientOptions,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
	if seen != nil {
		// Offline hooks run on the Run goroutine; the write must not hold it up.
		registry.OnOffline(func(userID string) {
			at := time.Now().UTC()
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := seen.SetLastSeen(ctx, userID, at); err != nil {
					logger.Errorf("ws set last seen user=%s: %v", userID, err)
				}
			}()
		})
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Typing() *Typing     { return h.typing }

// Run serves register and unregister requests until ctx is done, then closes
// every client and waits for their pumps to exit.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
drain:
	for {
		select {
		case c := <-h.register:
			c.Close()
		default:
			break drain
		}
	}

	// Collect under the lock, close outside it.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		h.registry.Unregister(c)
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	// Register and Unregister travel on separate channels, so the unregister of
	// a socket that died early can be served first. It closed the client.
	select {
	case <-c.done:
		logger.Debugf("ws drop closed client user=%s conn=%s", c.userID, c.id)
		return
	default:
	}

	h.mu.Lock()
	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.registry.Register(c.userID, c)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		h.registry.Unregister(c)
	}
	c.Close()
}

// HandleMessage dispatches one inbound frame. A panic while handling it is
// logged and contained to this frame.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("ws panic handling %s user=%s: %v", msg.Type, c.userID, rec)
		}
	}()
	switch msg.Type {
	case EventTyping:
		h.handleTyping(ctx, c, msg)
	default:
		c.Send(OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) {
	if !c.Tracked() {
		return
	}
	if msg.ReceiverID == "" {
		c.Send(OutgoingMessage{Type: EventError, Payload: "receiverId required"})
		return
	}
	// Only "started typing" is throttled; a stop must always get through.
	if msg.IsTyping && !h.allow(ctx, "typing:"+c.userID, h.typingRate) {
		logger.Debugf("ws typing throttled user=%s", c.userID)
		return
	}
	h.typing.SetTyping(c.userID, msg.ReceiverID, msg.IsTyping)
}

func (h *Hub) allow(ctx context.Context, key string, max int) bool {
	if h.limiter == nil || max <= 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ok, err := h.limiter.Allow(ctx, key, max, time.Minute)
	if err != nil {
		logger.Errorf("ws rate limit key=%s: %v", key, err)
		return true
	}
	return ok
}

// Register hands c to the Run loop. After shutdown c is closed instead.
func (h *Hub) Register(c *Client) {
	select {
	case <-h.done:
		c.Close()
		return
	default:
	}
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
