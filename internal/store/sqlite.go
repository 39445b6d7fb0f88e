package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/schedule"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "kmad.db"

// Config holds SQLite store settings.
type Config struct {
	DataDir  string
	FileName string
}

// SQLite is the persistent State Store. Every commit is one transaction that
// checks the version the action validated against before writing.
type SQLite struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks

	// mu serializes commits from this process.
	mu sync.Mutex
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(db execer, query string, args ...any) (sql.Result, error)
	query   func(db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(db execer, query string, args ...any) (sql.Result, error) {
			return db.Exec(query, args...)
		},
		query: func(db queryer, query string, args ...any) (*sql.Rows, error) {
			return db.Query(query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *SQLite) execHook(db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(db, query, args...)
	}
	return db.Exec(query, args...)
}

func (s *SQLite) queryHook(db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(db, query, args...)
	}
	return db.Query(query, args...)
}

func (s *SQLite) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *SQLite) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// NewSQLite opens (creating if needed) the database under cfg.DataDir and
// runs migrations.
func NewSQLite(cfg Config) (*SQLite, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("store: data dir is required")
	}
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(cfg.DataDir, cfg.FileName))
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// One connection keeps the pragmas below in effect for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db, cfg: cfg, hooks: defaultStoreHooks()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLite) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);

		INSERT OR IGNORE INTO meta (key, value) VALUES ('version', 0);

		CREATE TABLE IF NOT EXISTS slots (
			time       TEXT    PRIMARY KEY,
			capacity   INTEGER NOT NULL CHECK (capacity > 0),
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS templates (
			name       TEXT    PRIMARY KEY,
			weight     INTEGER NOT NULL CHECK (weight > 0),
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS tasks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			template     TEXT    NOT NULL REFERENCES templates(name),
			weight       INTEGER NOT NULL CHECK (weight > 0),
			slot         TEXT    NOT NULL REFERENCES slots(time),
			completed    INTEGER NOT NULL DEFAULT 0,
			action_id    TEXT    NOT NULL,
			created_at   TEXT    NOT NULL,
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_slot ON tasks(slot);
	`
	if _, err := s.execHook(s.db, schema); err != nil {
		return err
	}
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Snapshot reads the whole schedule inside one transaction so the version
// and the rows agree.
func (s *SQLite) Snapshot(ctx context.Context) (schedule.Snapshot, error) {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return schedule.Snapshot{}, fmt.Errorf("store: begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := s.version(tx)
	if err != nil {
		return schedule.Snapshot{}, err
	}

	var slots []schedule.TimeSlot
	if err := s.each(tx, "SELECT time, capacity FROM slots", func(rows *sql.Rows) error {
		var ts schedule.TimeSlot
		if err := rows.Scan(&ts.Time, &ts.Capacity); err != nil {
			return err
		}
		slots = append(slots, ts)
		return nil
	}); err != nil {
		return schedule.Snapshot{}, fmt.Errorf("store: read slots: %w", err)
	}

	var templates []schedule.Template
	if err := s.each(tx, "SELECT name, weight FROM templates", func(rows *sql.Rows) error {
		var t schedule.Template
		if err := rows.Scan(&t.Name, &t.Weight); err != nil {
			return err
		}
		templates = append(templates, t)
		return nil
	}); err != nil {
		return schedule.Snapshot{}, fmt.Errorf("store: read templates: %w", err)
	}

	var tasks []schedule.Task
	if err := s.each(tx, "SELECT id, template, weight, slot, completed FROM tasks ORDER BY id", func(rows *sql.Rows) error {
		var t schedule.Task
		var completed int
		if err := rows.Scan(&t.ID, &t.Template, &t.Weight, &t.Slot, &completed); err != nil {
			return err
		}
		t.Completed = completed != 0
		tasks = append(tasks, t)
		return nil
	}); err != nil {
		return schedule.Snapshot{}, fmt.Errorf("store: read tasks: %w", err)
	}

	return schedule.NewSnapshot(version, slots, templates, tasks), nil
}

func (s *SQLite) each(q queryer, query string, scan func(*sql.Rows) error, args ...any) error {
	rows, err := s.queryHook(q, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// scalar reads a single integer. ok is false when the query returned no rows.
func (s *SQLite) scalar(q queryer, query string, args ...any) (v int64, ok bool, err error) {
	err = s.each(q, query, func(rows *sql.Rows) error {
		ok = true
		return rows.Scan(&v)
	}, args...)
	return v, ok, err
}

func (s *SQLite) version(q queryer) (int64, error) {
	v, ok, err := s.scalar(q, "SELECT value FROM meta WHERE key = 'version'")
	if err != nil {
		return 0, fmt.Errorf("store: read version: %w", err)
	}
	if !ok {
		return 0, invariant("version row missing")
	}
	return v, nil
}

// ─── Commit ──────────────────────────────────────────────────────────────────

// Commit redeems tok and applies its claims in a single transaction. A
// version mismatch yields a *StaleStateError and writes nothing.
func (s *SQLite) Commit(ctx context.Context, tok arbiter.CommitToken) (arbiter.CommitResult, error) {
	if err := tok.Redeem(); err != nil {
		return arbiter.CommitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return arbiter.CommitResult{}, fmt.Errorf("store: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.version(tx)
	if err != nil {
		return arbiter.CommitResult{}, err
	}
	if current != tok.BaseVersion() {
		return arbiter.CommitResult{}, &StaleStateError{Base: tok.BaseVersion(), Current: current}
	}

	var res arbiter.CommitResult
	for _, c := range tok.Claims() {
		id, err := s.apply(tx, tok.ActionID(), c)
		if err != nil {
			return arbiter.CommitResult{}, err
		}
		if id > 0 {
			res.TaskIDs = append(res.TaskIDs, id)
		}
	}

	if _, err := s.execHook(tx, "UPDATE meta SET value = ? WHERE key = 'version'", current+1); err != nil {
		return arbiter.CommitResult{}, fmt.Errorf("store: bump version: %w", err)
	}
	if err := s.commitHook(tx); err != nil {
		return arbiter.CommitResult{}, fmt.Errorf("store: commit: %w", err)
	}
	res.Version = current + 1
	return res, nil
}

func (s *SQLite) apply(tx *sql.Tx, actionID string, c arbiter.Claim) (int64, error) {
	switch c.Kind() {
	case arbiter.KindPlace, arbiter.KindReplace:
		p, _ := c.Place()
		return s.insertTask(tx, actionID, p)

	case arbiter.KindCreateTemplate:
		p, _ := c.Template()
		_, err := s.execHook(tx, "INSERT INTO templates (name, weight) VALUES (?, ?)", p.Name, p.Weight)
		if isUniqueViolation(err) {
			return 0, invariant("template %s already exists", p.Name)
		}
		if err != nil {
			return 0, fmt.Errorf("store: insert template: %w", err)
		}
		return 0, nil

	case arbiter.KindCreateSlot:
		p, _ := c.Slot()
		_, err := s.execHook(tx, "INSERT INTO slots (time, capacity) VALUES (?, ?)", p.Time, p.Capacity)
		if isUniqueViolation(err) {
			return 0, invariant("slot %s already exists", p.Time)
		}
		if err != nil {
			return 0, fmt.Errorf("store: insert slot: %w", err)
		}
		return 0, nil

	case arbiter.KindComplete:
		p, _ := c.Complete()
		r, err := s.execHook(tx,
			"UPDATE tasks SET completed = 1, completed_at = ? WHERE id = ? AND completed = 0",
			timeNow().UTC().Format("2006-01-02 15:04:05"), p.TaskID)
		if err != nil {
			return 0, fmt.Errorf("store: complete task: %w", err)
		}
		if n, _ := r.RowsAffected(); n != 1 {
			return 0, invariant("task %d is not open", p.TaskID)
		}
		return 0, nil

	default:
		return 0, invariant("unsupported claim kind %s", c.Kind())
	}
}

func (s *SQLite) insertTask(tx *sql.Tx, actionID string, p arbiter.PlacePayload) (int64, error) {
	capacity, ok, err := s.scalar(tx, "SELECT capacity FROM slots WHERE time = ?", p.Slot)
	if err != nil {
		return 0, fmt.Errorf("store: read slot: %w", err)
	}
	if !ok {
		return 0, invariant("slot %s does not exist", p.Slot)
	}
	if n, _, err := s.scalar(tx, "SELECT COUNT(*) FROM templates WHERE name = ?", p.Template); err != nil {
		return 0, fmt.Errorf("store: read template: %w", err)
	} else if n == 0 {
		return 0, invariant("template %s does not exist", p.Template)
	}
	used, _, err := s.scalar(tx, "SELECT COALESCE(SUM(weight), 0) FROM tasks WHERE slot = ?", p.Slot)
	if err != nil {
		return 0, fmt.Errorf("store: read usage: %w", err)
	}
	if int64(p.Weight) > capacity-used {
		return 0, invariant("slot %s over capacity", p.Slot)
	}

	r, err := s.execHook(tx,
		"INSERT INTO tasks (template, weight, slot, action_id, created_at) VALUES (?, ?, ?, ?, ?)",
		p.Template, p.Weight, p.Slot, actionID, timeNow().UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("store: insert task: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: task id: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
