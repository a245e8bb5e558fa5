package store

import (
	"context"
	"fmt"

	"github.com/guido-cesarano/stepq/pkg/config"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// TaskStore is a task store that can report its size and be listed
// without claiming tasks.
type TaskStore interface {
	tasks.Store
	Backlog(ctx context.Context) (int64, error)
	List(ctx context.Context, q tasks.Query) ([]tasks.Task, error)
}

// Backend bundles a task store with its transaction boundary.
type Backend struct {
	Tasks TaskStore
	Tx    TransactionContext
	close func()
}

// Close releases the backend's connections.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open connects the store selected by cfg.Store.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return &Backend{Tasks: tasks.NewMemoryStore(), Tx: NewLocalTransactionContext()}, nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return &Backend{
			Tasks: NewRedisStore(rdb, ""),
			Tx:    NewLocalTransactionContext(),
			close: func() { rdb.Close() },
		}, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s := NewPgStore(pool, "")
		if err := s.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("prepare task table: %w", err)
		}
		return &Backend{Tasks: s, Tx: NewPgTransactionContext(pool), close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalid, cfg.Store)
	}
}
