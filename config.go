package main

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"

	"todo-api/storage"
)

// duration lets TOML files spell durations as "15ms" or "24h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type storeConfig struct {
	Backend          string `toml:"backend"`
	ConnectionString string `toml:"connection_string"`
	TasksTable       string `toml:"tasks_table"`
	CounterTable     string `toml:"counter_table"`
	DSN              string `toml:"dsn"`
}

type redisConfig struct {
	ConnectionString string   `toml:"connection_string"`
	DedupeTTL        duration `toml:"dedupe_ttl"`
}

type eventsConfig struct {
	Queue          string   `toml:"queue"`
	Workers        int      `toml:"workers"`
	Buffer         int      `toml:"buffer"`
	Timeout        duration `toml:"timeout"`
	HandoffTimeout duration `toml:"handoff_timeout"`
}

type authConfig struct {
	Mode         string `toml:"mode"`
	SharedSecret string `toml:"shared_secret"`
	Domain       string `toml:"domain"`
	Audience     string `toml:"audience"`
	Issuer       string `toml:"issuer"`
}

type config struct {
	ListenAddr      string       `toml:"listen_addr"`
	Store           storeConfig  `toml:"store"`
	Redis           redisConfig  `toml:"redis"`
	Events          eventsConfig `toml:"events"`
	Auth            authConfig   `toml:"auth"`
	Pprof           bool         `toml:"pprof"`
	ShutdownTimeout duration     `toml:"shutdown_timeout"`
	Debug           bool         `toml:"debug"`
	LogFormat       string       `toml:"log_format"`
}

const (
	authNone  = "none"
	authHS256 = "hs256"
	authJWKS  = "jwks"
)

func defaultConfig() config {
	return config{
		ListenAddr: ":8080",
		Store: storeConfig{
			Backend:      storage.BackendTables,
			TasksTable:   "todos",
			CounterTable: "counters",
		},
		Redis: redisConfig{DedupeTTL: duration{24 * time.Hour}},
		Events: eventsConfig{
			Workers:        4,
			Buffer:         1024,
			Timeout:        duration{10 * time.Second},
			HandoffTimeout: duration{15 * time.Millisecond},
		},
		Auth:            authConfig{Mode: authNone},
		ShutdownTimeout: duration{10 * time.Second},
		LogFormat:       "text",
	}
}

// loadConfig builds the configuration from defaults, the optional TOML file
// named by CONFIG_FILE, and finally the environment.
func loadConfig(lookup func(string) (string, bool)) (config, error) {
	cfg := defaultConfig()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	env.setString("LISTEN_ADDR", &cfg.ListenAddr)
	if port, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && port != "" {
		cfg.ListenAddr = ":" + port
	}
	env.setString("STORE_BACKEND", &cfg.Store.Backend)
	env.setString("STORAGE_CONNECTION_STRING", &cfg.Store.ConnectionString)
	env.setString("TASKS_TABLE", &cfg.Store.TasksTable)
	env.setString("COUNTER_TABLE", &cfg.Store.CounterTable)
	env.setString("SQL_DSN", &cfg.Store.DSN)
	env.setString("REDIS_CONNECTION_STRING", &cfg.Redis.ConnectionString)
	env.setDuration("DEDUPER_TTL", &cfg.Redis.DedupeTTL.Duration)
	env.setString("EVENTS_QUEUE", &cfg.Events.Queue)
	env.setInt("EVENT_WORKERS", &cfg.Events.Workers)
	env.setInt("EVENT_BUFFER", &cfg.Events.Buffer)
	env.setDuration("EVENT_TIMEOUT", &cfg.Events.Timeout.Duration)
	env.setDuration("EVENT_HANDOFF_TIMEOUT", &cfg.Events.HandoffTimeout.Duration)
	env.setString("AUTH_MODE", &cfg.Auth.Mode)
	env.setString("AUTH_SHARED_SECRET", &cfg.Auth.SharedSecret)
	env.setString("AUTH0_DOMAIN", &cfg.Auth.Domain)
	env.setString("AUTH0_AUDIENCE", &cfg.Auth.Audience)
	env.setString("AUTH_ISSUER", &cfg.Auth.Issuer)
	env.setBool("PPROF_ENABLED", &cfg.Pprof)
	env.setDuration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout.Duration)
	env.setBool("DEBUG", &cfg.Debug)
	env.setString("LOG_FORMAT", &cfg.LogFormat)
	if env.err != nil {
		return cfg, env.err
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch c.Store.Backend {
	case storage.BackendTables:
		if c.Store.ConnectionString == "" {
			return fmt.Errorf("missing storage config: STORAGE_CONNECTION_STRING is required for the %s backend", c.Store.Backend)
		}
	case storage.BackendRedis:
		if c.Redis.ConnectionString == "" {
			return fmt.Errorf("missing redis config: REDIS_CONNECTION_STRING is required for the redis backend")
		}
	case storage.BackendSQLite, storage.BackendMySQL:
		if c.Store.DSN == "" {
			return fmt.Errorf("missing storage config: SQL_DSN is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}

	if c.Events.Queue != "" && c.Store.ConnectionString == "" {
		return fmt.Errorf("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	if c.Events.Workers <= 0 {
		return fmt.Errorf("invalid EVENT_WORKERS: must be greater than zero")
	}
	if c.Events.Buffer < 0 {
		return fmt.Errorf("invalid EVENT_BUFFER: must not be negative")
	}
	if c.Redis.DedupeTTL.Duration <= 0 {
		return fmt.Errorf("invalid DEDUPER_TTL: must be greater than zero")
	}

	switch c.Auth.Mode {
	case authNone, "":
	case authHS256:
		if c.Auth.SharedSecret == "" {
			return fmt.Errorf("missing auth config: AUTH_SHARED_SECRET is required for hs256")
		}
	case authJWKS:
		if c.Auth.Domain == "" || c.Auth.Audience == "" {
			return fmt.Errorf("missing Auth0 config: AUTH0_DOMAIN and AUTH0_AUDIENCE are required for jwks")
		}
	default:
		return fmt.Errorf("invalid AUTH_MODE %q", c.Auth.Mode)
	}
	return nil
}

// envReader applies environment overrides and keeps the first parse error.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) setString(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) setInt(key string, dst *int) {
	v, ok := r.get(key)
	if !ok || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = n
}

func (r *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := r.get(key)
	if !ok || r.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = d
}

func (r *envReader) setBool(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok || r.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = b
}

// redisOptions accepts either a redis:// URL or the Azure Cache style
// "host:port,password=...,ssl=True" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
