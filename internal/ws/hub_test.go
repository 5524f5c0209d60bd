package ws

import (
	"context"
	"testing"
	"time"

	"github.com/pulse/internal/storage/memory"
)

// testClient builds a Client with no socket; only Send is exercised.
func testClient(h *Hub, id, userID string) *Client {
	return &Client{
		hub:    h,
		send:   make(chan OutgoingMessage, 16),
		id:     id,
		userID: userID,
		done:   make(chan struct{}),
	}
}

func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHubUnknownEventGetsError(t *testing.T) {
	reg := NewRegistry()
	h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{})
	c := testClient(h, "c1", "alice")

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: "sendMessage"})

	got := drain(c)
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("events = %+v, want one error", got)
	}
}

func TestHubTypingFromUntrackedClientIsIgnored(t *testing.T) {
	reg := NewRegistry()
	h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{})
	receiver := newFakeConn("r")
	reg.Register("bob", receiver)
	receiver.reset()

	anon := testClient(h, "anon", UnknownUserID)
	h.HandleMessage(context.Background(), anon, IncomingMessage{Type: EventTyping, ReceiverID: "bob", IsTyping: true})

	if evs := receiver.all(); len(evs) != 0 {
		t.Fatalf("receiver got %v from an untracked client", evs)
	}
	if evs := drain(anon); len(evs) != 0 {
		t.Fatalf("untracked client got %v", evs)
	}
}

func TestHubTypingRequiresReceiver(t *testing.T) {
	reg := NewRegistry()
	h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{})
	c := testClient(h, "c1", "alice")

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventTyping, IsTyping: true})

	got := drain(c)
	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("events = %+v, want one error", got)
	}
}

func TestHubThrottlesTypingStartsOnly(t *testing.T) {
	reg := NewRegistry()
	typing := NewTyping(reg, 0)
	h := NewHub(reg, typing, memory.NewLimiter(), nil, HubConfig{TypingPerMin: 2})
	receiver := newFakeConn("r")
	reg.Register("bob", receiver)
	c := testClient(h, "c1", "alice")

	for i := 0; i < 5; i++ {
		h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventTyping, ReceiverID: "bob", IsTyping: true})
	}
	if n := len(receiver.ofType(EventUserTyping)); n != 2 {
		t.Fatalf("userTyping delivered %d times, want 2", n)
	}

	h.HandleMessage(context.Background(), c, IncomingMessage{Type: EventTyping, ReceiverID: "bob", IsTyping: false})
	ev, _ := receiver.last(EventUserTyping)
	if ev.Payload != (UserTypingPayload{UserID: "alice", IsTyping: false}) {
		t.Fatalf("stop signal was throttled: last = %+v", ev.Payload)
	}
}

type recordingSeen struct {
	ch chan string
}

func (r *recordingSeen) SetLastSeen(ctx context.Context, userID string, t time.Time) error {
	r.ch <- userID
	return nil
}

func TestHubRecordsLastSeenWhenUserGoesOffline(t *testing.T) {
	reg := NewRegistry()
	seen := &recordingSeen{ch: make(chan string, 1)}
	NewHub(reg, NewTyping(reg, 0), nil, seen, HubConfig{})

	c := newFakeConn("c")
	reg.Register("alice", c)
	reg.Unregister(c)

	select {
	case id := <-seen.ch:
		if id != "alice" {
			t.Fatalf("last seen recorded for %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("last seen not recorded")
	}
}
