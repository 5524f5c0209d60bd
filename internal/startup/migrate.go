package startup

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pulse/internal/logger"
)

// RunMigrations executes every .sql file in files in name order. Scripts must
// be idempotent: they run on every start.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, files fs.FS) error {
	defer logger.DeferLogDuration("startup.RunMigrations", time.Now())()
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("run migration %s: %w", name, err)
		}
		logger.Debugf("migration %s applied", name)
	}
	logger.Infof("migrations applied (%d files)", len(names))
	return nil
}
