// Package memory keeps users and messages in process memory. It backs the -memory
// run mode and the service/handler tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage"
)

type Client struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	messages []model.Message
	// lastAt holds the newest message time per conversation, keyed by Conversation.Key.
	lastAt map[string]time.Time
	// failCreate makes Create return the given error; tests use it to simulate an outage.
	failCreate error
}

func New() *Client {
	return &Client{users: make(map[string]*model.User), lastAt: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

// FailCreate makes subsequent Create calls fail with err (nil restores normal behaviour).
func (c *Client) FailCreate(err error) {
	c.mu.Lock()
	c.failCreate = err
	c.mu.Unlock()
}

func (c *Client) Create(ctx context.Context, m *model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCreate != nil {
		return c.failCreate
	}
	c.messages = append(c.messages, *m)
	key := model.Conversation{A: m.SenderID, B: m.ReceiverID}.Key()
	if m.CreatedAt.After(c.lastAt[key]) {
		c.lastAt[key] = m.CreatedAt
	}
	return nil
}

func (c *Client) Conversation(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	c.mu.RLock()
	conv := model.Conversation{A: a, B: b}
	out := make([]model.Message, 0, 16)
	for i := range c.messages {
		if conv.Includes(&c.messages[i]) {
			out = append(out, c.messages[i])
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (c *Client) CountUnread(ctx context.Context, from, to string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countUnreadLocked(from, to), nil
}

func (c *Client) countUnreadLocked(from, to string) int {
	n := 0
	for i := range c.messages {
		m := &c.messages[i]
		if m.SenderID == from && m.ReceiverID == to && !m.IsRead {
			n++
		}
	}
	return n
}

func (c *Client) MarkRead(ctx context.Context, from, to string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for i := range c.messages {
		m := &c.messages[i]
		if m.SenderID == from && m.ReceiverID == to && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (c *Client) GetByID(ctx context.Context, id string) (*model.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateUser ignores a duplicate email, like the Postgres ON CONFLICT path.
func (c *Client) CreateUser(ctx context.Context, u *model.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil
		}
	}
	cp := *u
	c.users[u.ID] = &cp
	return nil
}

func (c *Client) ListContacts(ctx context.Context, viewerID string) ([]model.Contact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	contacts := make([]model.Contact, 0, len(c.users))
	for id, u := range c.users {
		if id == viewerID {
			continue
		}
		at, ok := c.lastAt[model.Conversation{A: viewerID, B: id}.Key()]
		if !ok {
			at = model.Epoch
		}
		contacts = append(contacts, model.Contact{
			UserPublic:    u.ToPublic(),
			LastMessageAt: at,
			UnreadCount:   c.countUnreadLocked(id, viewerID),
			UpdatedAt:     u.UpdatedAt,
		})
	}
	sort.Slice(contacts, func(i, j int) bool {
		if !contacts[i].LastMessageAt.Equal(contacts[j].LastMessageAt) {
			return contacts[i].LastMessageAt.After(contacts[j].LastMessageAt)
		}
		return contacts[i].UpdatedAt.After(contacts[j].UpdatedAt)
	})
	return contacts, nil
}

func (c *Client) UpdateProfilePic(ctx context.Context, id, url string) (*model.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u.ProfilePic = url
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (c *Client) SetLastSeen(ctx context.Context, id string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.users[id]; ok {
		u.LastSeenAt = t
	}
	return nil
}
