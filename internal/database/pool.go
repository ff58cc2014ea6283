package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/pricepulse/internal/config"
)

// Schema creates the archive tables. Safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS price_ticks (
	received_at     BIGINT           NOT NULL,
	asset_id        TEXT             NOT NULL,
	price_micros    BIGINT           NOT NULL,
	prior_micros    BIGINT           NOT NULL,
	change_pct      DOUBLE PRECISION NOT NULL,
	instance_id     TEXT             NOT NULL,
	PRIMARY KEY (asset_id, received_at)
);

CREATE TABLE IF NOT EXISTS notifications (
	id          UUID        PRIMARY KEY,
	kind        TEXT        NOT NULL,
	title       TEXT        NOT NULL,
	message     TEXT        NOT NULL,
	created_at  BIGINT      NOT NULL,
	instance_id TEXT        NOT NULL
);
`

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Open connects to the archive database and ensures the schema exists.
func Open(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect timescale: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}
