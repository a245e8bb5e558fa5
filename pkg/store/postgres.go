package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPgTable is the table PgStore uses when none is configured.
const DefaultPgTable = "stepq_tasks"

const pgUniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// PgTransactionContext opens a database transaction per Execute and makes it
// visible to PgStore through the context.
type PgTransactionContext struct {
	pool *pgxpool.Pool
}

// NewPgTransactionContext creates a transaction boundary on the pool.
func NewPgTransactionContext(pool *pgxpool.Pool) *PgTransactionContext {
	return &PgTransactionContext{pool: pool}
}

func (p *PgTransactionContext) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, pgTxKey{}, tx))
	})
}

// PgStore is a PostgreSQL-backed task store. Calls made inside a
// PgTransactionContext run on that transaction; FetchForUpdate then holds
// row locks until it ends and skips rows locked by other pollers.
type PgStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgStore creates a PgStore. An empty table selects DefaultPgTable.
func NewPgStore(pool *pgxpool.Pool, table string) *PgStore {
	if table == "" {
		table = DefaultPgTable
	}
	return &PgStore{pool: pool, table: table}
}

func (s *PgStore) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// EnsureTable creates the task table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id           TEXT PRIMARY KEY,
			at           BIGINT NOT NULL,
			retry_count  INTEGER NOT NULL DEFAULT 0,
			name         TEXT NOT NULL,
			task_group   TEXT NOT NULL,
			payload_type TEXT NOT NULL,
			payload      JSONB NOT NULL
		)`, s.table))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_at ON %s(at)`, s.table, s.table))
	return err
}

func (s *PgStore) Create(ctx context.Context, t tasks.Task) error {
	if err := t.Normalize(); err != nil {
		return err
	}
	wireType, payload, err := tasks.EncodePayload(t.Payload)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}

	_, err = s.db(ctx).Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, at, retry_count, name, task_group, payload_type, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`, s.table),
		t.ID, t.At, t.RetryCount, t.Name, t.Group, wireType, string(payload))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("create task %s: %w", t.ID, tasks.ErrDuplicate)
		}
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PgStore) FetchForUpdate(ctx context.Context, q tasks.Query) ([]tasks.Task, error) {
	return s.query(ctx, q, true)
}

// List returns the tasks matching q in due order without locking rows.
func (s *PgStore) List(ctx context.Context, q tasks.Query) ([]tasks.Task, error) {
	return s.query(ctx, q, false)
}

func (s *PgStore) query(ctx context.Context, q tasks.Query, lock bool) ([]tasks.Task, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 1
	}

	query := fmt.Sprintf(`SELECT id, at, retry_count, name, task_group, payload_type, payload FROM %s`, s.table)
	args := []any{limit}
	if q.DueBefore != 0 {
		query += ` WHERE at <= $2`
		args = append(args, q.DueBefore)
	}
	query += ` ORDER BY at ASC LIMIT $1`
	if lock {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch due tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (s *PgStore) Update(ctx context.Context, t tasks.Task) error {
	if err := t.Normalize(); err != nil {
		return err
	}
	wireType, payload, err := tasks.EncodePayload(t.Payload)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}

	tag, err := s.db(ctx).Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET at = $2, retry_count = $3, name = $4, task_group = $5, payload_type = $6, payload = $7::jsonb
		WHERE id = $1`, s.table),
		t.ID, t.At, t.RetryCount, t.Name, t.Group, wireType, string(payload))
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, tasks.ErrNotFound)
	}
	return nil
}

func (s *PgStore) Delete(ctx context.Context, id string) error {
	_, err := s.db(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *PgStore) FindByID(ctx context.Context, id string) (*tasks.Task, error) {
	rows, err := s.db(ctx).Query(ctx, fmt.Sprintf(
		`SELECT id, at, retry_count, name, task_group, payload_type, payload FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}
	defer rows.Close()
	found, err := scanTaskRows(rows)
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// Backlog returns the number of stored tasks.
func (s *PgStore) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := s.db(ctx).QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n)
	return n, err
}

func scanTaskRows(rows pgx.Rows) ([]tasks.Task, error) {
	var out []tasks.Task
	for rows.Next() {
		var (
			t        tasks.Task
			wireType string
			payload  []byte
		)
		if err := rows.Scan(&t.ID, &t.At, &t.RetryCount, &t.Name, &t.Group, &wireType, &payload); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		p, err := tasks.DecodePayload(wireType, payload)
		if err != nil {
			return nil, fmt.Errorf("decode task %s: %w", t.ID, err)
		}
		t.Payload = p
		out = append(out, t)
	}
	return out, rows.Err()
}
