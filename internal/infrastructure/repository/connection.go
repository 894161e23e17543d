package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/infrastructure/config"
)

// Pool wraps the pgx connection pool with health checking.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	stop   chan struct{}
}

// NewPool creates a connection pool and verifies connectivity.
func NewPool(cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pgxCfg.MaxConns = int32(cfg.MaxOpenConns)
	pgxCfg.MinConns = int32(cfg.MaxIdleConns)
	pgxCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	pgxCfg.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Pool{
		pool:   pool,
		logger: logger,
		stop:   make(chan struct{}),
	}
	go p.monitor()

	logger.Info("database pool ready",
		zap.Int("max_conns", cfg.MaxOpenConns),
		zap.Int("min_conns", cfg.MaxIdleConns))

	return p, nil
}

// Pgx exposes the underlying pgx pool for repository construction.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// Close stops monitoring and releases all connections.
func (p *Pool) Close() {
	close(p.stop)
	p.pool.Close()
	p.logger.Info("database pool closed")
}

// monitor periodically logs pool saturation. Acquire stalls show up here
// before they show up as latency.
func (p *Pool) monitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			s := p.pool.Stat()
			p.logger.Debug("pool stats",
				zap.Int32("total", s.TotalConns()),
				zap.Int32("idle", s.IdleConns()),
				zap.Int64("empty_acquire", s.EmptyAcquireCount()))
		}
	}
}
