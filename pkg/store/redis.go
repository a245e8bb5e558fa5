package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the task keys.
const DefaultRedisPrefix = "stepq:tasks"

// Lua scripts keep the hash and the due index consistent.
//
// Due index members are "{seq}:{id}" with seq a zero-padded counter taken on
// every create and update, so tasks sharing an At come back in write order.
//
// KEYS[1]: data hash (id -> task JSON)
// KEYS[2]: due index (ZSET scored by At)
// KEYS[3]: member hash (id -> due index member)
// KEYS[4]: sequence counter
// ARGV[1]: id, ARGV[2]: task JSON, ARGV[3]: At
var (
	createScript = redis.NewScript(`
		if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
			return 0
		end
		local seq = tostring(redis.call('INCR', KEYS[4]))
		local member = string.rep('0', 20 - string.len(seq)) .. seq .. ':' .. ARGV[1]
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		redis.call('HSET', KEYS[3], ARGV[1], member)
		redis.call('ZADD', KEYS[2], ARGV[3], member)
		return 1
	`)

	updateScript = redis.NewScript(`
		if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
			return 0
		end
		local old = redis.call('HGET', KEYS[3], ARGV[1])
		if old then
			redis.call('ZREM', KEYS[2], old)
		end
		local seq = tostring(redis.call('INCR', KEYS[4]))
		local member = string.rep('0', 20 - string.len(seq)) .. seq .. ':' .. ARGV[1]
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		redis.call('HSET', KEYS[3], ARGV[1], member)
		redis.call('ZADD', KEYS[2], ARGV[3], member)
		return 1
	`)

	deleteScript = redis.NewScript(`
		local old = redis.call('HGET', KEYS[3], ARGV[1])
		if old then
			redis.call('ZREM', KEYS[2], old)
		end
		redis.call('HDEL', KEYS[3], ARGV[1])
		redis.call('HDEL', KEYS[1], ARGV[1])
		return 1
	`)
)

// RedisStore persists tasks in Redis.
//
// Key layout:
//   - {prefix}:data: hash holding the serialized task per id
//   - {prefix}:due:     sorted set of "{seq}:{id}" members scored by At
//   - {prefix}:members: hash holding the current due member per id
//   - {prefix}:seq:     counter ordering writes that share an At
//
// Redis offers no row locks, so FetchForUpdate relies on a single poller per
// store.
type RedisStore struct {
	rdb        redis.UniversalClient
	dataKey    string
	dueKey     string
	membersKey string
	seqKey     string
}

// NewRedisStore creates a store on an existing connection. An empty prefix
// selects DefaultRedisPrefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		rdb:        rdb,
		dataKey:    prefix + ":data",
		dueKey:     prefix + ":due",
		membersKey: prefix + ":members",
		seqKey:     prefix + ":seq",
	}
}

func (s *RedisStore) Create(ctx context.Context, t tasks.Task) error {
	if err := t.Normalize(); err != nil {
		return err
	}
	ok, err := s.write(ctx, createScript, t)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	if !ok {
		return fmt.Errorf("create task %s: %w", t.ID, tasks.ErrDuplicate)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, t tasks.Task) error {
	if err := t.Normalize(); err != nil {
		return err
	}
	ok, err := s.write(ctx, updateScript, t)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if !ok {
		return fmt.Errorf("update task %s: %w", t.ID, tasks.ErrNotFound)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, script *redis.Script, t tasks.Task) (bool, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return false, err
	}
	n, err := script.Run(ctx, s.rdb, s.keys(), t.ID, data, t.At).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) keys() []string {
	return []string{s.dataKey, s.dueKey, s.membersKey, s.seqKey}
}

func (s *RedisStore) FetchForUpdate(ctx context.Context, q tasks.Query) ([]tasks.Task, error) {
	return s.List(ctx, q)
}

// List returns the tasks matching q in due order without claiming them.
func (s *RedisStore) List(ctx context.Context, q tasks.Query) ([]tasks.Task, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 1
	}
	upper := "+inf"
	if q.DueBefore != 0 {
		upper = strconv.FormatInt(q.DueBefore, 10)
	}

	members, err := s.rdb.ZRangeByScore(ctx, s.dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch due tasks: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]string, len(members))
	for i, m := range members {
		_, id, _ := strings.Cut(m, ":")
		ids[i] = id
	}

	values, err := s.rdb.HMGet(ctx, s.dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load due tasks: %w", err)
	}

	out := make([]tasks.Task, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Deleted between the two reads.
			continue
		}
		var t tasks.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", ids[i], err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := deleteScript.Run(ctx, s.rdb, s.keys(), id).Err(); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (*tasks.Task, error) {
	raw, err := s.rdb.HGet(ctx, s.dataKey, id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", id, err)
	}
	var t tasks.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

// Backlog returns the number of stored tasks.
func (s *RedisStore) Backlog(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.dueKey).Result()
}
