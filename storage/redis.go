package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

const maxWatchRetries = 5

// RedisStore persists tasks in a Redis hash and the counter in a plain key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore whose keys start with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if client == nil {
		panic("storage.NewRedisStore: client is nil")
	}
	if prefix == "" {
		prefix = "todo"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) tasksKey() string {
	return s.prefix + ":tasks"
}

func (s *RedisStore) counterKey() string {
	return s.prefix + ":" + domain.CounterKey
}

func taskField(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ScanTasks reads every task from the tasks hash.
func (s *RedisStore) ScanTasks(ctx context.Context) ([]domain.Task, error) {
	raw, err := s.client.HGetAll(ctx, s.tasksKey()).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(raw))
	for field, data := range raw {
		var t domain.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", field, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ScanCounter reads the counter key.
func (s *RedisStore) ScanCounter(ctx context.Context) (int64, bool, error) {
	v, err := s.client.Get(ctx, s.counterKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return v, true, nil
}

// InsertTask writes the task into the hash.
func (s *RedisStore) InsertTask(ctx context.Context, t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.tasksKey(), taskField(t.ID), data).Err()
}

// UpdateTask merges the patch into the stored task using an optimistic
// WATCH transaction.
func (s *RedisStore) UpdateTask(ctx context.Context, id int64, p domain.Patch) error {
	key := s.tasksKey()
	field := taskField(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, key, field).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		var t domain.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		p.Apply(&t)
		updated, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, updated)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update task %d: %w", id, redis.TxFailedErr)
}

// DeleteTask removes the task from the hash.
func (s *RedisStore) DeleteTask(ctx context.Context, id int64) error {
	return s.client.HDel(ctx, s.tasksKey(), taskField(id)).Err()
}

// UpsertCounter sets the counter key.
func (s *RedisStore) UpsertCounter(ctx context.Context, value int64) error {
	return s.client.Set(ctx, s.counterKey(), value, 0).Err()
}
