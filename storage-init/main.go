package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = storage.BackendTables
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")

	switch backend {
	case storage.BackendTables:
		if connStr == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		tables, err := storage.NewTableStore(connStr, envOr("TASKS_TABLE", "todos"), envOr("COUNTER_TABLE", "counters"))
		if err != nil {
			log.Fatalf("tables: %v", err)
		}
		if err := tables.CreateTables(ctx); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	case storage.BackendSQLite, storage.BackendMySQL:
		// Opening a SQL store applies the schema.
		_, closeStore, err := storage.Open(ctx, storage.Config{Backend: backend, DSN: os.Getenv("SQL_DSN")})
		if err != nil {
			log.Fatalf("create schema: %v", err)
		}
		if err := closeStore(); err != nil {
			log.Warnf("close store: %v", err)
		}
	default:
		log.Infof("nothing to provision for %s backend", backend)
	}

	if queueName := os.Getenv("EVENTS_QUEUE"); queueName != "" {
		if connStr == "" {
			log.Fatal("missing STORAGE_CONNECTION_STRING")
		}
		queue, err := storage.NewEventQueue(connStr, queueName)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		if err := queue.CreateQueue(ctx); err != nil {
			log.Fatalf("create queue: %v", err)
		}
	}

	log.Info("storage init complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
