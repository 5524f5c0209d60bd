package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pulse/internal/model"
)

var ErrNotFound = errors.New("not found")

// MessageStore is the durable home of direct messages.
// Implementations: repository.MessageRepository (Postgres), memory.Client.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	// Conversation returns messages exchanged between a and b in either direction,
	// oldest first. limit > 0 keeps only the most recent limit messages.
	Conversation(ctx context.Context, a, b string, limit int) ([]model.Message, error)
	// CountUnread counts messages from -> to with is_read = false.
	CountUnread(ctx context.Context, from, to string) (int, error)
	// MarkRead flips is_read for every unread from -> to message and reports how many changed.
	MarkRead(ctx context.Context, from, to string) (int64, error)
}

// Directory resolves users and builds the contact list.
// Implementations: repository.UserRepository (Postgres), memory.Client.
type Directory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// CreateUser inserts u unless its email is already taken.
	CreateUser(ctx context.Context, u *model.User) error
	// ListContacts returns every user except viewerID, most recent conversation first.
	ListContacts(ctx context.Context, viewerID string) ([]model.Contact, error)
	UpdateProfilePic(ctx context.Context, id, url string) (*model.User, error)
	SetLastSeen(ctx context.Context, id string, t time.Time) error
}

// RateLimiter counts events per key inside a fixed window.
// Implementations: redis.Client, memory.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error)
	Close() error
}
