package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func addUser(t *testing.T, c *Client, id string, updated time.Time) {
	t.Helper()
	u := &model.User{ID: id, FullName: id, Email: id + "@example.com", CreatedAt: updated, UpdatedAt: updated}
	if err := c.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

func addMessage(t *testing.T, c *Client, id, from, to string, at time.Time) {
	t.Helper()
	m := &model.Message{ID: id, SenderID: from, ReceiverID: to, Text: id, CreatedAt: at}
	if err := c.Create(context.Background(), m); err != nil {
		t.Fatal(err)
	}
}

func TestConversationOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	c := New()
	addMessage(t, c, "m3", "a", "b", t0.Add(3*time.Second))
	addMessage(t, c, "m1", "a", "b", t0.Add(1*time.Second))
	addMessage(t, c, "m2", "b", "a", t0.Add(2*time.Second))
	addMessage(t, c, "other", "a", "c", t0.Add(4*time.Second))

	conv, err := c.Conversation(ctx, "b", "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(conv); got != "m1,m2,m3" {
		t.Fatalf("conversation = %s", got)
	}

	latest, _ := c.Conversation(ctx, "a", "b", 2)
	if got := ids(latest); got != "m2,m3" {
		t.Fatalf("limited conversation = %s", got)
	}
}

func ids(ms []model.Message) string {
	s := ""
	for i, m := range ms {
		if i > 0 {
			s += ","
		}
		s += m.ID
	}
	return s
}

func TestUnreadCountIsDirectional(t *testing.T) {
	ctx := context.Background()
	c := New()
	addMessage(t, c, "m1", "a", "b", t0)
	addMessage(t, c, "m2", "a", "b", t0.Add(time.Second))
	addMessage(t, c, "m3", "b", "a", t0.Add(2*time.Second))

	if n, _ := c.CountUnread(ctx, "a", "b"); n != 2 {
		t.Fatalf("a->b unread = %d", n)
	}
	if n, _ := c.MarkRead(ctx, "a", "b"); n != 2 {
		t.Fatalf("mark read changed %d", n)
	}
	if n, _ := c.MarkRead(ctx, "a", "b"); n != 0 {
		t.Fatalf("second mark read changed %d", n)
	}
	if n, _ := c.CountUnread(ctx, "b", "a"); n != 1 {
		t.Fatalf("b->a unread = %d", n)
	}
}

func TestListContactsOrdering(t *testing.T) {
	ctx := context.Background()
	c := New()
	addUser(t, c, "me", t0)
	addUser(t, c, "quiet-old", t0)
	addUser(t, c, "quiet-new", t0.Add(time.Hour))
	addUser(t, c, "chatty", t0)
	addUser(t, c, "recent", t0)

	addMessage(t, c, "m1", "chatty", "me", t0.Add(1*time.Minute))
	addMessage(t, c, "m2", "chatty", "me", t0.Add(2*time.Minute))
	addMessage(t, c, "m3", "me", "recent", t0.Add(3*time.Minute))
	addMessage(t, c, "m4", "recent", "quiet-old", t0.Add(4*time.Minute))

	contacts, err := c.ListContacts(ctx, "me")
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, ct := range contacts {
		order = append(order, ct.ID)
	}
	want := []string{"recent", "chatty", "quiet-new", "quiet-old"}
	if len(order) != len(want) {
		t.Fatalf("contacts = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("contacts = %v, want %v", order, want)
		}
	}

	byID := map[string]model.Contact{}
	for _, ct := range contacts {
		byID[ct.ID] = ct
	}
	if byID["chatty"].UnreadCount != 2 {
		t.Fatalf("chatty unread = %d", byID["chatty"].UnreadCount)
	}
	if byID["recent"].UnreadCount != 0 {
		t.Fatalf("recent unread = %d", byID["recent"].UnreadCount)
	}
	if !byID["quiet-old"].LastMessageAt.Equal(model.Epoch) {
		t.Fatalf("quiet-old last message = %v, want epoch", byID["quiet-old"].LastMessageAt)
	}
}

func TestCreateUserIgnoresDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	c := New()
	addUser(t, c, "a", t0)
	dup := &model.User{ID: "b", Email: "A@example.com"}
	if err := c.CreateUser(ctx, dup); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetByID(ctx, "b"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("duplicate email created a user: %v", err)
	}
}

func TestFailCreate(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	c.FailCreate(boom)
	err := c.Create(context.Background(), &model.Message{ID: "m", SenderID: "a", ReceiverID: "b", Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if conv, _ := c.Conversation(context.Background(), "a", "b", 0); len(conv) != 0 {
		t.Fatal("failed create stored a message")
	}
}

func TestUpdateProfilePic(t *testing.T) {
	ctx := context.Background()
	c := New()
	addUser(t, c, "a", t0)
	u, err := c.UpdateProfilePic(ctx, "a", "/api/files/p.png")
	if err != nil {
		t.Fatal(err)
	}
	if u.ProfilePic != "/api/files/p.png" || !u.UpdatedAt.After(t0) {
		t.Fatalf("updated = %+v", u)
	}
	if _, err := c.UpdateProfilePic(ctx, "missing", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
}
