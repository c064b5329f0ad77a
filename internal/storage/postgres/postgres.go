// Package postgres stores boss states in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/encounter/internal/config"
)

// connectTimeout bounds the ping NewPool issues before returning.
const connectTimeout = 5 * time.Second

// Pool is the connection pool behind the boss state backend.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool opens a pool sized by cfg and verifies the database answers.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error; no
// connections are left open on error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Pool{pool: pool}, nil
}

// BossStates returns the boss state repository served by p.
func (p *Pool) BossStates() *BossStateRepository {
	return NewBossStateRepository(p.pool)
}

// Health reports whether the database answers a ping before ctx expires.
// It backs the daemon's /healthz store check.
func (p *Pool) Health(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

// Conns returns the total and in-use connection counts of the pool.
func (p *Pool) Conns() (total, acquired int32) {
	s := p.pool.Stat()
	return s.TotalConns(), s.AcquiredConns()
}

// Close releases all pool resources.
func (p *Pool) Close() { p.pool.Close() }

// DB returns the underlying pgxpool.Pool.
func (p *Pool) DB() *pgxpool.Pool { return p.pool }
