package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"krx-trading-bot/config"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB opens a connection pool against the signal store.
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
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
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations creates the schema in place. Statements are idempotent so a
// restart never fails on an existing schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			company VARCHAR(100) NOT NULL DEFAULT '',
			signal_type VARCHAR(20) NOT NULL,
			strength INT NOT NULL DEFAULT 0,
			confidence DECIMAL(5, 4) NOT NULL DEFAULT 0,
			source_agent VARCHAR(50) NOT NULL DEFAULT '',
			reason VARCHAR(1000) NOT NULL DEFAULT '',
			target_price BIGINT NOT NULL DEFAULT 0,
			stop_loss BIGINT NOT NULL DEFAULT 0,
			current_price BIGINT NOT NULL DEFAULT 0,
			quantity BIGINT NOT NULL DEFAULT 0,
			signal_status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			trigger_details JSONB,
			holding_deadline DATE,
			quant_score INT NOT NULL DEFAULT 0,
			fundamental_score INT NOT NULL DEFAULT 0,
			allocation_percent DECIMAL(6, 2) NOT NULL DEFAULT 0,
			suggested_amount BIGINT NOT NULL DEFAULT 0,
			is_executed BOOLEAN NOT NULL DEFAULT FALSE,
			executed_at TIMESTAMPTZ,
			order_no VARCHAR(40),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(signal_status)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		`CREATE TABLE IF NOT EXISTS meetings (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			company VARCHAR(100) NOT NULL DEFAULT '',
			trigger_source VARCHAR(20) NOT NULL,
			depth VARCHAR(20) NOT NULL,
			signal_id UUID REFERENCES signals(id),
			transcript JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_symbol ON meetings(symbol)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed")
	return nil
}
