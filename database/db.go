package database

import (
	"context"
	"fmt"
	"time"

	"stash/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the subset of *pgxpool.Pool the Postgres backend uses.
// pgxmock.PgxPoolIface satisfies it too.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// DB is the Postgres implementation of Store. Each mutation is a single
// statement, so row-level atomicity takes the place of the file lock.
type DB struct {
	Pool Pool
	log  logger.Logger
}

type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

func Connect(ctx context.Context, databaseURL string, poolCfg PoolConfig, log logger.Logger) (*DB, error) {
	if log == nil {
		log = logger.FromContext(ctx)
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	if poolCfg.MaxConns > 0 {
		config.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		config.MinConns = poolCfg.MinConns
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established")
	return NewDB(pool, log), nil
}

// NewDB wraps an existing pool.
func NewDB(pool Pool, log logger.Logger) *DB {
	if log == nil {
		log = logger.FromContext(context.Background())
	}
	return &DB{Pool: pool, log: log}
}

func (db *DB) Close() {
	db.Pool.Close()
	db.log.Info("Database connection closed")
}
