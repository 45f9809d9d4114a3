package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"todo-api/domain"
)

type dialect struct {
	driver        string
	schema        []string
	upsertCounter string
}

var (
	sqliteDialect = dialect{
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS tasks (
				id INTEGER PRIMARY KEY,
				task TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				complete INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS counters (
				name TEXT PRIMARY KEY,
				count INTEGER NOT NULL
			)`,
		},
		upsertCounter: `INSERT INTO counters (name, count) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET count = excluded.count`,
	}
	mysqlDialect = dialect{
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS tasks (
				id BIGINT PRIMARY KEY,
				task VARCHAR(1024) NOT NULL,
				description TEXT NOT NULL,
				complete BOOLEAN NOT NULL DEFAULT FALSE
			)`,
			`CREATE TABLE IF NOT EXISTS counters (
				name VARCHAR(64) PRIMARY KEY,
				count BIGINT NOT NULL
			)`,
		},
		upsertCounter: `INSERT INTO counters (name, count) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE count = VALUES(count)`,
	}
)

// SQLStore persists tasks in a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	return newSQLStore(ctx, db, sqliteDialect)
}

// NewMySQLStore connects to MySQL using dsn.
func NewMySQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open(mysqlDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return newSQLStore(ctx, db, mysqlDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	log.WithField("driver", d.driver).Info("sql store initialized")
	return s, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// ScanTasks reads every row of the tasks table.
func (s *SQLStore) ScanTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task, description, complete FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Task, &t.Description, &t.Complete); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ScanCounter reads the counter row.
func (s *SQLStore) ScanCounter(ctx context.Context) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT count FROM counters WHERE name = ?`, domain.CounterKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// InsertTask adds a row for the task.
func (s *SQLStore) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, task, description, complete) VALUES (?, ?, ?, ?)`,
		t.ID, t.Task, t.Description, t.Complete)
	return err
}

// UpdateTask sets the columns present in the patch.
func (s *SQLStore) UpdateTask(ctx context.Context, id int64, p domain.Patch) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if p.Task != nil {
		sets = append(sets, "task = ?")
		args = append(args, *p.Task)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Complete != nil {
		sets = append(sets, "complete = ?")
		args = append(args, *p.Complete)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// DeleteTask removes every row with the id.
func (s *SQLStore) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// UpsertCounter writes the counter row.
func (s *SQLStore) UpsertCounter(ctx context.Context, value int64) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsertCounter, domain.CounterKey, value)
	return err
}
