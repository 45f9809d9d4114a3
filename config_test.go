package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"todo-api/api"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(envLookup(map[string]string{
		"STORAGE_CONNECTION_STRING": "UseDevelopmentStorage=true",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.Store.Backend != "tables" || cfg.Store.TasksTable != "todos" || cfg.Store.CounterTable != "counters" {
		t.Fatalf("unexpected store defaults: %#v", cfg.Store)
	}
	if cfg.Events.Workers != 4 || cfg.Events.Buffer != 1024 {
		t.Fatalf("unexpected event defaults: %#v", cfg.Events)
	}
	if cfg.Events.Timeout.Duration != 10*time.Second || cfg.Events.HandoffTimeout.Duration != 15*time.Millisecond {
		t.Fatalf("unexpected event timeouts: %#v", cfg.Events)
	}
	if cfg.Redis.DedupeTTL.Duration != 24*time.Hour {
		t.Fatalf("unexpected dedupe ttl: %v", cfg.Redis.DedupeTTL)
	}
	if cfg.Auth.Mode != authNone {
		t.Fatalf("unexpected auth mode: %s", cfg.Auth.Mode)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	cfg, err := loadConfig(envLookup(map[string]string{
		"FUNCTIONS_CUSTOMHANDLER_PORT": "7071",
		"STORE_BACKEND":                "SQLite",
		"SQL_DSN":                      "/tmp/todos.db",
		"EVENT_WORKERS":                "8",
		"EVENT_HANDOFF_TIMEOUT":        "5ms",
		"DEDUPER_TTL":                  "1h",
		"PPROF_ENABLED":                "true",
		"AUTH_MODE":                    "hs256",
		"AUTH_SHARED_SECRET":           "s3cret",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":7071" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.DSN != "/tmp/todos.db" {
		t.Fatalf("unexpected store config: %#v", cfg.Store)
	}
	if cfg.Events.Workers != 8 || cfg.Events.HandoffTimeout.Duration != 5*time.Millisecond {
		t.Fatalf("unexpected events config: %#v", cfg.Events)
	}
	if cfg.Redis.DedupeTTL.Duration != time.Hour || !cfg.Pprof {
		t.Fatalf("unexpected overrides: %#v", cfg)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todo.toml")
	content := `
listen_addr = ":9000"
shutdown_timeout = "3s"

[store]
backend = "mysql"
dsn = "user:pass@tcp(db:3306)/todos"

[events]
workers = 2
timeout = "2s"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(envLookup(map[string]string{
		"CONFIG_FILE": path,
		"LISTEN_ADDR": ":9100",
	}))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Fatalf("expected env to override file, got %s", cfg.ListenAddr)
	}
	if cfg.Store.Backend != "mysql" || cfg.Store.DSN != "user:pass@tcp(db:3306)/todos" {
		t.Fatalf("unexpected store config: %#v", cfg.Store)
	}
	if cfg.Events.Workers != 2 || cfg.Events.Timeout.Duration != 2*time.Second {
		t.Fatalf("unexpected events config: %#v", cfg.Events)
	}
	if cfg.Events.Buffer != 1024 {
		t.Fatalf("expected untouched default buffer, got %d", cfg.Events.Buffer)
	}
	if cfg.ShutdownTimeout.Duration != 3*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.ShutdownTimeout)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing connection": {},
		"unknown backend":    {"STORE_BACKEND": "mongo"},
		"sqlite without dsn": {"STORE_BACKEND": "sqlite"},
		"redis without conn": {"STORE_BACKEND": "redis"},
		"bad workers":        {"STORAGE_CONNECTION_STRING": "x", "EVENT_WORKERS": "many"},
		"zero workers":       {"STORAGE_CONNECTION_STRING": "x", "EVENT_WORKERS": "0"},
		"bad duration":       {"STORAGE_CONNECTION_STRING": "x", "EVENT_TIMEOUT": "soon"},
		"bad bool":           {"STORAGE_CONNECTION_STRING": "x", "DEBUG": "maybe"},
		"hs256 no secret":    {"STORAGE_CONNECTION_STRING": "x", "AUTH_MODE": "hs256"},
		"jwks no domain":     {"STORAGE_CONNECTION_STRING": "x", "AUTH_MODE": "jwks"},
		"unknown auth":       {"STORAGE_CONNECTION_STRING": "x", "AUTH_MODE": "basic"},
		"queue without conn": {"STORE_BACKEND": "sqlite", "SQL_DSN": "db", "EVENTS_QUEUE": "events"},
		"missing file":       {"CONFIG_FILE": "/nonexistent/todo.toml"},
	}
	for name, env := range cases {
		if _, err := loadConfig(envLookup(env)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("redis://:pw@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %#v", opts)
	}

	opts, err = redisOptions("cache.example.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure string: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %#v", opts)
	}

	if _, err := redisOptions(""); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}

func TestNewAuthenticator(t *testing.T) {
	auth, err := newAuthenticator(authConfig{Mode: authNone})
	if err != nil || auth != nil {
		t.Fatalf("expected no authenticator, got %v, %v", auth, err)
	}

	auth, err = newAuthenticator(authConfig{Mode: authHS256, SharedSecret: "s"})
	if err != nil {
		t.Fatalf("hs256: %v", err)
	}
	if _, ok := auth.(*api.Auth); !ok {
		t.Fatalf("expected *api.Auth, got %T", auth)
	}
}
