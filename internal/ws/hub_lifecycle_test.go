package ws

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// socketServer accepts WebSocket connections and hands out the server side.
type socketServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newSocketServer(t *testing.T) *socketServer {
	t.Helper()
	s := &socketServer{conns: make(chan *websocket.Conn, 16)}
	up := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// pair dials the server and returns the server side of the socket and the peer.
func (s *socketServer) pair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { peer.Close() })
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn, peer
	case <-time.After(2 * time.Second):
		t.Fatal("server side of the socket never arrived")
	}
	return nil, nil
}

func (s *socketServer) client(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	conn, _ := s.pair(t)
	return NewClient(h, conn, userID)
}

// runHub starts h.Run and returns a func that stops it and waits for shutdown.
func runHub(t *testing.T, h *Hub) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func liveClients(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestHubUnregisterBeforeRegisterLeavesUserOffline(t *testing.T) {
	sockets := newSocketServer(t)
	for i := 0; i < 30; i++ {
		reg := NewRegistry()
		h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{})

		// The socket dies before Run has admitted it; both requests are queued.
		c := sockets.client(t, h, "alice")
		h.Register(c)
		h.Unregister(c)
		stop := runHub(t, h)

		marker := sockets.client(t, h, "zed")
		h.Register(marker)
		eventually(t, "zed online", func() bool { return reg.IsOnline("zed") })
		eventually(t, "alice offline", func() bool { return !reg.IsOnline("alice") && liveClients(h) == 1 })
		if got := reg.OnlineUserIDs(); len(got) != 1 || got[0] != "zed" {
			t.Fatalf("run %d: online = %v", i, got)
		}
		stop()
	}
}

func TestHubRejectsConnectionsBeyondLimit(t *testing.T) {
	sockets := newSocketServer(t)
	reg := NewRegistry()
	h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{MaxConns: 1})
	runHub(t, h)

	alice := sockets.client(t, h, "alice")
	h.Register(alice)
	eventually(t, "alice online", func() bool { return reg.IsOnline("alice") })

	bob := sockets.client(t, h, "bob")
	h.Register(bob)
	eventually(t, "bob rejected", func() bool { return isClosed(bob) })
	if reg.IsOnline(bob.UserID()) || liveClients(h) != 1 {
		t.Fatalf("online = %v, clients = %d", reg.OnlineUserIDs(), liveClients(h))
	}

	// A freed slot admits the next connection.
	h.Unregister(alice)
	eventually(t, "alice offline", func() bool { return !reg.IsOnline("alice") && liveClients(h) == 0 })
	carol := sockets.client(t, h, "carol")
	h.Register(carol)
	eventually(t, "carol online", func() bool { return reg.IsOnline("carol") })
}

func TestHubClosesSlowClient(t *testing.T) {
	sockets := newSocketServer(t)
	reg := NewRegistry()
	h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{ClientOptions: ClientOptions{SendBufferSize: 1}})
	runHub(t, h)

	// Pumps are not started, so nothing drains the buffer. The presence
	// announcement on register takes its only slot.
	c := sockets.client(t, h, "alice")
	h.Register(c)
	eventually(t, "alice online", func() bool { return reg.IsOnline("alice") })

	if n := reg.SendToUser("alice", OutgoingMessage{Type: EventNewMessage, Payload: "x"}); n != 0 {
		t.Fatalf("delivered to %d connections, want 0", n)
	}
	if !isClosed(c) {
		t.Fatal("slow client was not closed")
	}
	if c.Send(OutgoingMessage{Type: EventNewMessage}) {
		t.Fatal("Send on a closed client reported success")
	}

	// readPump would report the dead socket like this.
	h.Unregister(c)
	eventually(t, "alice offline", func() bool { return !reg.IsOnline("alice") && liveClients(h) == 0 })
}

func TestHubShutdownClosesEveryClient(t *testing.T) {
	sockets := newSocketServer(t)
	reg := NewRegistry()
	h := NewHub(reg, NewTyping(reg, 0), nil, nil, HubConfig{})
	stop := runHub(t, h)

	var peers []*websocket.Conn
	var clients []*Client
	for _, id := range []string{"alice", "bob"} {
		conn, peer := sockets.pair(t)
		c := NewClient(h, conn, id)
		h.Register(c)
		c.Start()
		peers = append(peers, peer)
		clients = append(clients, c)
	}
	eventually(t, "both online", func() bool { return reg.Len() == 2 })

	stop()

	if reg.Len() != 0 || liveClients(h) != 0 {
		t.Fatalf("after shutdown: registry = %d, clients = %d", reg.Len(), liveClients(h))
	}
	for _, c := range clients {
		if !isClosed(c) {
			t.Fatalf("client %s still open", c.UserID())
		}
	}
	for _, peer := range peers {
		_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
		var err error
		for err == nil {
			_, _, err = peer.ReadMessage()
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Fatal("peer socket stayed open after shutdown")
		}
	}

	late := sockets.client(t, h, "carol")
	h.Register(late)
	if !isClosed(late) || reg.IsOnline("carol") {
		t.Fatal("register after shutdown must close the client")
	}
}

type blockingSeen struct {
	release chan struct{}
	calls   chan string
}

func (b *blockingSeen) SetLastSeen(ctx context.Context, userID string, t time.Time) error {
	b.calls <- userID
	<-b.release
	return nil
}

func TestHubSlowLastSeenDoesNotStallOtherUsers(t *testing.T) {
	sockets := newSocketServer(t)
	reg := NewRegistry()
	seen := &blockingSeen{release: make(chan struct{}), calls: make(chan string, 1)}
	defer close(seen.release)
	h := NewHub(reg, NewTyping(reg, 0), nil, seen, HubConfig{})
	runHub(t, h)

	alice := sockets.client(t, h, "alice")
	h.Register(alice)
	eventually(t, "alice online", func() bool { return reg.IsOnline("alice") })
	h.Unregister(alice)
	select {
	case id := <-seen.calls:
		if id != "alice" {
			t.Fatalf("last seen for %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("last seen not recorded")
	}

	// The store is still stuck on alice; bob must get in regardless.
	bob := sockets.client(t, h, "bob")
	h.Register(bob)
	eventually(t, "bob online", func() bool { return reg.IsOnline("bob") })
}
