package startup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не роняет процесс сразу.
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	return withRetry(ctx, "db", maxWait, logPrefix, func(ctx context.Context) (*pgxpool.Pool, error) {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
		cancel()
		if err != nil {
			return nil, err
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		pingCancel()
		if err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	})
}
