// Package journal persists detected structure signals in PostgreSQL.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Config holds database configuration
type Config struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns"`
}

// DSN renders the libpq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// querier is the part of pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := NewStore(pool, logger)
	s.closer = pool.Close
	s.logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS structure_signals (
		id UUID PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		timeframe VARCHAR(8) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		direction VARCHAR(8) NOT NULL,
		level DECIMAL(24, 10) NOT NULL,
		bar_time TIMESTAMPTZ NOT NULL,
		confirmed BOOLEAN NOT NULL DEFAULT TRUE,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (symbol, timeframe, kind, bar_time, level)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_structure_signals_symbol ON structure_signals(symbol, created_at DESC)`,
}

// Migrate creates the journal schema.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	s.logger.Info().Int("statements", len(migrations)).Msg("Journal migrations applied")
	return nil
}
