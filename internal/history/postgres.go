package history

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/batchpush/internal/config"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submission_history (
	id            UUID PRIMARY KEY,
	batch_id      TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	target_table  TEXT NOT NULL DEFAULT '',
	records       INTEGER NOT NULL DEFAULT 0,
	inserted      INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	kind          TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	schema_hash   TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submission_history_created_at_idx
	ON submission_history (created_at DESC);
`

const insertSQL = `
INSERT INTO submission_history (
	id, batch_id, source, target_table, records, inserted, failed, kind,
	error_message, schema_hash, attempts, duration_ms, ip_address, user_agent, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

const recentSQL = `
SELECT id::text AS id, batch_id, source, target_table, records, inserted, failed, kind,
	error_message, schema_hash, attempts, duration_ms, ip_address, user_agent, created_at
FROM submission_history
ORDER BY created_at DESC
LIMIT $1`

const purgeSQL = `DELETE FROM submission_history WHERE created_at < $1`

// PGStore keeps history in the submission_history table.
type PGStore struct {
	db   DBTX
	pool *pgxpool.Pool // nil when db is not owned by the store
	now  func() time.Time
}

// NewPGStore wraps an existing connection. The caller owns db.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// Open connects to PostgreSQL using the pool settings in cfg, verifies the
// connection and creates the history table if needed. The returned store
// owns the pool and closes it in Close.
func Open(ctx context.Context, cfg config.HistoryConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("connected to history database",
		"database", databaseName(cfg.DatabaseURL),
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)

	s := NewPGStore(pool)
	s.pool = pool
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the history table and index when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

func (s *PGStore) Record(ctx context.Context, e Entry) error {
	e = prepare(e, s.now())
	_, err := s.db.Exec(ctx, insertSQL,
		e.ID, e.BatchID, e.Source, e.TargetTable, e.Records, e.Inserted, e.Failed, e.Kind,
		e.ErrorMessage, e.SchemaHash, e.Attempts, e.DurationMS, e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record submission %s: %w", e.BatchID, err)
	}
	return nil
}

func (s *PGStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, recentSQL, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[Entry])
	if err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	return entries, nil
}

func (s *PGStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// databaseName returns the database name from a connection URL for logging,
// without credentials.
func databaseName(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}
	return strings.TrimPrefix(u.Path, "/")
}
