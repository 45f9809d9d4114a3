package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

// Backend names accepted by Open.
const (
	BackendTables = "tables"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// Config selects and parameterizes a store backend.
type Config struct {
	Backend          string
	ConnectionString string
	TasksTable       string
	CounterTable     string
	DSN              string
	Redis            *redis.Client
	RedisPrefix      string
}

// Open returns the store for cfg.Backend and a function releasing its resources.
func Open(ctx context.Context, cfg Config) (domain.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case BackendTables, "":
		if cfg.ConnectionString == "" || cfg.TasksTable == "" || cfg.CounterTable == "" {
			return nil, nil, fmt.Errorf("tables backend requires a connection string and table names")
		}
		s, err := NewTableStore(cfg.ConnectionString, cfg.TasksTable, cfg.CounterTable)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case BackendRedis:
		if cfg.Redis == nil {
			return nil, nil, fmt.Errorf("redis backend requires a redis connection")
		}
		return NewRedisStore(cfg.Redis, cfg.RedisPrefix), noop, nil
	case BackendSQLite:
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("sqlite backend requires a database path")
		}
		s, err := NewSQLiteStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendMySQL:
		if cfg.DSN == "" {
			return nil, nil, fmt.Errorf("mysql backend requires a dsn")
		}
		s, err := NewMySQLStore(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

var (
	_ domain.Store = (*TableStore)(nil)
	_ domain.Store = (*RedisStore)(nil)
	_ domain.Store = (*SQLStore)(nil)
)
