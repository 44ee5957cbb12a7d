package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when an audit record does not exist.
var ErrNotFound = errors.New("execution not found")

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	toolchain    TEXT NOT NULL,
	code_hash    TEXT NOT NULL,
	status       TEXT NOT NULL,
	elapsed_ms   BIGINT NOT NULL DEFAULT 0,
	output_bytes BIGINT NOT NULL DEFAULT 0,
	cached       BOOLEAN NOT NULL DEFAULT FALSE,
	request_ip   TEXT NOT NULL DEFAULT '',
	api_key_hash TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_created_at_idx ON executions (created_at DESC);`

// Options tunes the connection pool.
type Options struct {
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool and ensures the audit table
// exists.
func New(ctx context.Context, dsn string, opts Options) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 10
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	if opts.ConnMaxLifetime > 0 {
		config.MaxConnLifetime = opts.ConnMaxLifetime
	}
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

const insertExecution = `
		INSERT INTO executions (id, kind, toolchain, code_hash, status,
			elapsed_ms, output_bytes, cached, request_ip, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

// LogExecution inserts an execution record into the audit log.
func (db *DB) LogExecution(ctx context.Context, exec *Execution) error {
	return db.LogExecutions(ctx, []*Execution{exec})
}

// LogExecutions inserts records in a single batch round trip. Records whose
// id already exists are skipped, so a retried batch is idempotent.
func (db *DB) LogExecutions(ctx context.Context, recs []*Execution) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, exec := range recs {
		batch.Queue(insertExecution,
			exec.ID, exec.Kind, exec.Toolchain, exec.CodeHash, exec.Status,
			exec.ElapsedMS, exec.OutputBytes, exec.Cached,
			exec.RequestIP, exec.APIKeyHash, exec.CreatedAt,
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	for range recs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("inserting executions: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("inserting executions: %w", err)
	}
	return nil
}

const selectColumns = `id, kind, toolchain, code_hash, status,
			elapsed_ms, output_bytes, cached, request_ip, api_key_hash, created_at`

func scanExecution(row pgx.Row) (*Execution, error) {
	var exec Execution
	err := row.Scan(
		&exec.ID, &exec.Kind, &exec.Toolchain, &exec.CodeHash, &exec.Status,
		&exec.ElapsedMS, &exec.OutputBytes, &exec.Cached,
		&exec.RequestIP, &exec.APIKeyHash, &exec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// GetExecution retrieves a single execution by ID.
func (db *DB) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT ` + selectColumns + ` FROM executions WHERE id = $1`

	exec, err := scanExecution(db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions queries executions with optional filters, newest first.
func (db *DB) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	query := `SELECT ` + selectColumns + `
		FROM executions
		WHERE ($1 = '' OR toolchain = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := db.pool.Query(ctx, query,
		filter.Toolchain, filter.Status, filter.Since, clampLimit(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	results := []Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, *exec)
	}

	return results, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
