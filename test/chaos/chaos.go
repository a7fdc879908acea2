package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend periodically kills one backend whose application_name
// matches appLike (a LIKE pattern), never the connection issuing the kill.
// It returns the number of backends terminated.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appLike string, stop <-chan struct{}) int {
	if appLike == "" {
		appLike = "skillbarter-%"
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	killed := 0
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var ok bool
			err := pool.QueryRow(ctx, `SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false) FROM (
				SELECT pid FROM pg_stat_activity
				WHERE datname = current_database() AND pid <> pg_backend_pid() AND application_name LIKE $1
				ORDER BY random() LIMIT 1) victim`, appLike).Scan(&ok)
			if err == nil && ok {
				killed++
			}
		}
	}
}
