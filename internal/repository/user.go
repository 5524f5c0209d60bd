package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage"
)

// ErrNotFound is shared with the in-memory store so callers can test a single sentinel.
var ErrNotFound = storage.ErrNotFound

const userCols = `id, full_name, email, profile_pic, last_seen_at, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.FullName, &u.Email, &u.ProfilePic, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.CreateUser", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, full_name, email, profile_pic, last_seen_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (email) DO NOTHING`,
		u.ID, u.FullName, u.Email, u.ProfilePic, u.LastSeenAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.CreateUser: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// ListContacts builds the sidebar in one query. The unread subquery uses the same
// predicate as MessageRepository.CountUnread.
func (r *UserRepository) ListContacts(ctx context.Context, viewerID string) ([]model.Contact, error) {
	defer logger.DeferLogDuration("user.ListContacts", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.full_name, u.email, u.profile_pic, u.last_seen_at, u.created_at, u.updated_at,
		        COALESCE(lm.created_at, to_timestamp(0)) AS last_message_at,
		        uc.cnt
		 FROM users u
		 LEFT JOIN LATERAL (
		     SELECT m.created_at FROM messages m
		     WHERE (m.sender_id = u.id AND m.receiver_id = $1)
		        OR (m.sender_id = $1 AND m.receiver_id = u.id)
		     ORDER BY m.created_at DESC
		     LIMIT 1
		 ) lm ON true
		 CROSS JOIN LATERAL (
		     SELECT COUNT(*) AS cnt FROM messages m
		     WHERE m.sender_id = u.id AND m.receiver_id = $1 AND m.is_read = false
		 ) uc
		 WHERE u.id <> $1
		 ORDER BY last_message_at DESC, u.updated_at DESC`, viewerID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListContacts query: %w", err)
	}
	defer rows.Close()

	contacts := make([]model.Contact, 0, 32)
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.FullName, &c.Email, &c.ProfilePic, &c.LastSeenAt, &c.CreatedAt, &c.UpdatedAt,
			&c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("userRepo.ListContacts scan: %w", err)
		}
		c.LastMessageAt = c.LastMessageAt.UTC()
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListContacts rows: %w", err)
	}
	return contacts, nil
}

func (r *UserRepository) UpdateProfilePic(ctx context.Context, id, url string) (*model.User, error) {
	defer logger.DeferLogDuration("user.UpdateProfilePic", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET profile_pic = $1, updated_at = NOW() WHERE id = $2 RETURNING `+userCols,
		url, id,
	)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.UpdateProfilePic: %w", err)
	}
	return u, nil
}

func (r *UserRepository) SetLastSeen(ctx context.Context, id string, t time.Time) error {
	defer logger.DeferLogDuration("user.SetLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_seen_at = $1 WHERE id = $2`, t, id)
	if err != nil {
		return fmt.Errorf("userRepo.SetLastSeen: %w", err)
	}
	return nil
}
