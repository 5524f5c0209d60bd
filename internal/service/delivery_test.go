package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage/memory"
	"github.com/pulse/internal/ws"
)

type emitted struct {
	userID string
	msg    ws.OutgoingMessage
	// stored is how many messages the store held for the pair when the event left.
	stored int
}

// recordingFanout pretends each user in online has one live connection.
type recordingFanout struct {
	store  *memory.Client
	online map[string]bool

	mu     sync.Mutex
	events []emitted
}

func (f *recordingFanout) SendToUser(userID string, msg ws.OutgoingMessage) int {
	if !f.online[userID] {
		return 0
	}
	var stored int
	if m, ok := msg.Payload.(*model.Message); ok {
		conv, _ := f.store.Conversation(context.Background(), m.SenderID, m.ReceiverID, 0)
		stored = len(conv)
	}
	f.mu.Lock()
	f.events = append(f.events, emitted{userID: userID, msg: msg, stored: stored})
	f.mu.Unlock()
	return 1
}

func (f *recordingFanout) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

type stubMedia struct {
	url   string
	err   error
	calls int
}

func (s *stubMedia) Upload(ctx context.Context, payload string) (string, error) {
	s.calls++
	return s.url, s.err
}

func newTestStore(t *testing.T, ids ...string) *memory.Client {
	t.Helper()
	store := memory.New()
	for _, id := range ids {
		u := &model.User{ID: id, FullName: id, Email: id + "@example.com", UpdatedAt: time.Now()}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestSendPersistsBeforeFanOut(t *testing.T) {
	store := newTestStore(t, "A", "B")
	fan := &recordingFanout{store: store, online: map[string]bool{"B": true}}
	p := NewPipeline(store, store, nil, fan, NewLedger(store, fan))

	msg, err := p.Send(context.Background(), "A", "B", SendInput{Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.IsRead || msg.Text != "hello" || msg.SenderID != "A" || msg.ReceiverID != "B" || msg.ID == "" {
		t.Fatalf("returned message = %+v", msg)
	}

	events := fan.all()
	if len(events) != 2 {
		t.Fatalf("events = %+v, want newMessage then unreadCountUpdate", events)
	}
	if events[0].msg.Type != ws.EventNewMessage || events[0].userID != "B" {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[0].stored != 1 {
		t.Fatal("newMessage left before the message was stored")
	}
	if events[1].msg.Type != ws.EventUnreadCountUpdate {
		t.Fatalf("second event = %+v", events[1])
	}
	if got := events[1].msg.Payload.(ws.UnreadCountPayload); got != (ws.UnreadCountPayload{From: "A", Count: 1}) {
		t.Fatalf("unread payload = %+v", got)
	}
}

func TestSendPersistFailureEmitsNothing(t *testing.T) {
	store := newTestStore(t, "A", "B")
	store.FailCreate(errors.New("disk full"))
	fan := &recordingFanout{store: store, online: map[string]bool{"B": true}}
	p := NewPipeline(store, store, nil, fan, nil)

	msg, err := p.Send(context.Background(), "A", "B", SendInput{Text: "hello"})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if msg != nil {
		t.Fatalf("msg = %+v, want nil", msg)
	}
	if events := fan.all(); len(events) != 0 {
		t.Fatalf("events after failed persist = %+v", events)
	}

	// Nothing was committed, so a retry is safe.
	store.FailCreate(nil)
	if _, err := p.Send(context.Background(), "A", "B", SendInput{Text: "hello"}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n, _ := store.CountUnread(context.Background(), "A", "B"); n != 1 {
		t.Fatalf("unread after retry = %d, want 1", n)
	}
}

func TestSendValidation(t *testing.T) {
	store := newTestStore(t, "A", "B")
	fan := &recordingFanout{store: store, online: map[string]bool{"A": true, "B": true}}
	media := &stubMedia{url: "/api/files/x.png"}
	p := NewPipeline(store, store, media, fan, nil)

	cases := []struct {
		name     string
		receiver string
		in       SendInput
		want     error
	}{
		{"empty", "B", SendInput{}, ErrEmptyContent},
		{"whitespace", "B", SendInput{Text: "   "}, ErrEmptyContent},
		{"self", "A", SendInput{Text: "hi"}, ErrInvalidReceiver},
		{"missing receiver", "", SendInput{Text: "hi"}, ErrInvalidReceiver},
		{"unknown receiver", "Z", SendInput{Text: "hi"}, ErrInvalidReceiver},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Send(context.Background(), "A", tc.receiver, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if media.calls != 0 {
		t.Fatalf("media called %d times for rejected input", media.calls)
	}
	if events := fan.all(); len(events) != 0 {
		t.Fatalf("events = %+v", events)
	}
	if conv, _ := store.Conversation(context.Background(), "A", "B", 0); len(conv) != 0 {
		t.Fatalf("stored %d messages for rejected input", len(conv))
	}
}

func TestSendResolvesImageBeforePersisting(t *testing.T) {
	store := newTestStore(t, "A", "B")
	fan := &recordingFanout{store: store, online: map[string]bool{"B": true}}
	media := &stubMedia{url: "/api/files/abc.png"}
	p := NewPipeline(store, store, media, fan, nil)

	msg, err := p.Send(context.Background(), "A", "B", SendInput{Image: "data:image/png;base64,AAAA"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ImageURL != "/api/files/abc.png" {
		t.Fatalf("image url = %q", msg.ImageURL)
	}
	conv, _ := store.Conversation(context.Background(), "A", "B", 0)
	if len(conv) != 1 || conv[0].ImageURL != "/api/files/abc.png" {
		t.Fatalf("stored = %+v", conv)
	}
}

func TestSendMediaFailureStoresNothing(t *testing.T) {
	store := newTestStore(t, "A", "B")
	fan := &recordingFanout{store: store, online: map[string]bool{"B": true}}
	p := NewPipeline(store, store, &stubMedia{err: errors.New("bucket down")}, fan, nil)

	_, err := p.Send(context.Background(), "A", "B", SendInput{Text: "look", Image: "data:image/png;base64,AAAA"})
	if !errors.Is(err, ErrMedia) {
		t.Fatalf("err = %v, want ErrMedia", err)
	}
	if conv, _ := store.Conversation(context.Background(), "A", "B", 0); len(conv) != 0 {
		t.Fatalf("stored %+v after media failure", conv)
	}
	if events := fan.all(); len(events) != 0 {
		t.Fatalf("events = %+v", events)
	}
}

func TestSendRejectsImageWithoutURL(t *testing.T) {
	store := newTestStore(t, "A", "B")
	fan := &recordingFanout{store: store, online: map[string]bool{"B": true}}
	p := NewPipeline(store, store, &stubMedia{url: ""}, fan, nil)

	_, err := p.Send(context.Background(), "A", "B", SendInput{Image: "data:image/png;base64,AAAA"})
	if !errors.Is(err, ErrMedia) {
		t.Fatalf("err = %v, want ErrMedia", err)
	}
	if conv, _ := store.Conversation(context.Background(), "A", "B", 0); len(conv) != 0 {
		t.Fatalf("stored a message without content: %+v", conv)
	}
	if events := fan.all(); len(events) != 0 {
		t.Fatalf("events = %+v", events)
	}
}

func TestSendToOfflineReceiverStillSucceeds(t *testing.T) {
	store := newTestStore(t, "A", "B")
	fan := &recordingFanout{store: store, online: map[string]bool{}}
	ledger := NewLedger(store, fan)
	p := NewPipeline(store, store, nil, fan, ledger)

	msg, err := p.Send(context.Background(), "A", "B", SendInput{Text: "are you there?"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if events := fan.all(); len(events) != 0 {
		t.Fatalf("events for offline receiver = %+v", events)
	}

	// B comes back and opens the conversation.
	fan.online["B"] = true
	history, err := ledger.OpenConversation(context.Background(), "B", "A", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != msg.ID || !history[0].IsRead {
		t.Fatalf("history = %+v", history)
	}
}

func TestSendCancelledContextStillPersists(t *testing.T) {
	store := newTestStore(t, "A", "B")
	p := NewPipeline(store, store, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Send(ctx, "A", "B", SendInput{Text: "bye"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, _ := store.CountUnread(context.Background(), "A", "B"); n != 1 {
		t.Fatalf("unread = %d, want 1", n)
	}
}
