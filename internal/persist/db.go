package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/oilytop/server/internal/config"
)

// DB owns the PostgreSQL connection pool backing player persistence.
// The pool is shared by the player repo and the migration runner. The
// server runs memory-only when the database is disabled or unreachable,
// so every caller must tolerate a nil *DB.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// NewDB opens and pings the pool. A failed ping closes the pool and
// reports the error; the caller decides whether to degrade or abort.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log.Info("資料庫連線成功",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Duration("conn_lifetime", poolCfg.MaxConnLifetime),
	)
	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
