package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/storage"
)

var demoUsers = []struct{ name, email string }{
	{"Alice Martin", "alice@example.com"},
	{"Bob Keller", "bob@example.com"},
	{"Carol Diaz", "carol@example.com"},
}

// DemoUserID derives a stable id from the email so reseeding is a no-op.
func DemoUserID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
}

// Seed creates the demo users if they are missing and returns them.
func Seed(ctx context.Context, users storage.Directory) ([]model.User, error) {
	now := time.Now().UTC()
	out := make([]model.User, 0, len(demoUsers))
	for _, d := range demoUsers {
		u := model.User{
			ID:         DemoUserID(d.email),
			FullName:   d.name,
			Email:      d.email,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := users.CreateUser(ctx, &u); err != nil {
			return nil, fmt.Errorf("seed %s: %w", d.email, err)
		}
		out = append(out, u)
	}
	logger.Infof("seeded %d demo users", len(out))
	return out, nil
}
