// Package journal is the write-only audit sink for closed positions and
// decision envelopes: a pgxpool-backed mirror of the two in-memory
// histories (position.Manager's closed list, strategy.EnvelopeRing) that
// operators can query after the process restarts. Nothing in
// internal/strategy or internal/execution ever reads these tables back —
// it is a sink, not a source, so the decision path never depends on
// journaled history.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool backing the journal tables.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Config holds the journal database's connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB opens a pooled connection to the journal database and verifies it
// with a ping.
func NewDB(cfg Config, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing journal database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating journal connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging journal database: %w", err)
	}

	db := &DB{Pool: pool, log: log.With().Str("component", "journal.DB").Logger()}
	db.log.Info().Str("database", cfg.Database).Msg("connected to journal database")
	return db, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations creates the two journal tables if absent.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS closed_positions (
			id TEXT PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			close_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			realized_pnl DECIMAL(20, 8) NOT NULL,
			close_reason VARCHAR(64) NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_positions_symbol ON closed_positions(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_closed_positions_closed_at ON closed_positions(closed_at)`,

		`CREATE TABLE IF NOT EXISTS decision_envelopes (
			id TEXT PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			strategy_name VARCHAR(100) NOT NULL,
			final_decision VARCHAR(8) NOT NULL,
			blocking_layer VARCHAR(64),
			reason TEXT,
			layers JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_envelopes_symbol ON decision_envelopes(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_decision_envelopes_created_at ON decision_envelopes(created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("journal migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// ClosedPositionRecord is the row shape appended on every position close.
type ClosedPositionRecord struct {
	ID          string
	Symbol      string
	Side        string
	EntryPrice  float64
	ClosePrice  float64
	Quantity    float64
	RealizedPnL float64
	CloseReason string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// InsertClosedPosition appends one closed-position record. Write-only: no
// code path in this repo ever selects it back for decisioning.
func (db *DB) InsertClosedPosition(ctx context.Context, r ClosedPositionRecord) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO closed_positions
			(id, symbol, side, entry_price, close_price, quantity, realized_pnl, close_reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Symbol, r.Side, r.EntryPrice, r.ClosePrice, r.Quantity, r.RealizedPnL, r.CloseReason, r.OpenedAt, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("inserting closed position %s: %w", r.ID, err)
	}
	return nil
}

// DecisionEnvelopeRecord is the row shape mirrored from a strategy.Envelope.
type DecisionEnvelopeRecord struct {
	ID            string
	Symbol        string
	Side          string
	StrategyName  string
	FinalDecision string
	BlockingLayer string
	Reason        string
	LayersJSON    []byte
	CreatedAt     time.Time
}

// InsertDecisionEnvelope mirrors one decision envelope into the audit table.
func (db *DB) InsertDecisionEnvelope(ctx context.Context, r DecisionEnvelopeRecord) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO decision_envelopes
			(id, symbol, side, strategy_name, final_decision, blocking_layer, reason, layers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Symbol, r.Side, r.StrategyName, r.FinalDecision, r.BlockingLayer, r.Reason, r.LayersJSON, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting decision envelope %s: %w", r.ID, err)
	}
	return nil
}

// HealthCheck pings the journal database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
