// Package storage implements the Bulk Writer: a pgx-backed Postgres
// connection pool and the bulk upsert/lookup operations the batch
// processor's storage phase drives against the address/chain_info/
// address_chain/api_call_failure_log tables, plus an optional
// Redis-backed dedup-ahead cache in front of it.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/address-scanner/internal/config"
	"github.com/address-scanner/internal/logging"
)

// PostgresDB wraps the pgxpool connection the Bulk Writer's batched
// upserts run against.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB opens a pool sized for the batch processor's storage
// phase: short-lived bursts of batched upserts rather than a steady
// trickle of single-row queries, so the pool stays warm between batches
// instead of reconnecting every run.
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	connString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.MaxConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections) // #nosec G115 - MaxConnections comes from POSTGRES_MAX_CONNECTIONS (default 20)
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.WithFields(map[string]interface{}{
		"host":     cfg.Host,
		"database": cfg.Database,
		"maxConns": cfg.MaxConnections,
	}).Info("Postgres connection pool established")

	return &PostgresDB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying pgxpool, for Store and migration wiring.
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks that the database is reachable.
func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}
