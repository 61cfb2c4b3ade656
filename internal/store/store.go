// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store persists app definitions in a SQLite database.
package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wingedpig/localdock/internal/proxyclient"
)

// ErrNotFound is returned when no app matches the given id.
var ErrNotFound = errors.New("app not found")

// StringList stores a list of strings in a single TEXT column as JSON.
type StringList []string

// Value implements driver.Valuer. An empty list stores NULL.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	return json.Unmarshal(data, l)
}

// App is one configured app definition.
type App struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Path         string     `db:"path" json:"path"`
	Command      string     `db:"command" json:"command"`
	Port         *int       `db:"port" json:"port,omitempty"`
	RunOnStartup bool       `db:"run_on_startup" json:"run_on_startup"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	Subdomain    *string    `db:"subdomain" json:"subdomain,omitempty"`
	WatchPaths   StringList `db:"watch_paths" json:"watch_paths,omitempty"`
}

// HostLabel returns the app's subdomain, or "" when none is configured.
func (a *App) HostLabel() string {
	if a.Subdomain == nil {
		return ""
	}
	return *a.Subdomain
}

const schema = `
CREATE TABLE IF NOT EXISTS apps (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	command TEXT NOT NULL,
	port INTEGER,
	run_on_startup INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	subdomain TEXT,
	watch_paths TEXT
)`

// Store is the app registry. SQLite serializes writers; this type adds
// no locking of its own.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the registry database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init registry schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns all apps ordered by creation time.
func (s *Store) List() ([]App, error) {
	var apps []App
	err := s.db.Select(&apps, `SELECT * FROM apps ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}

// Get retrieves one app by id.
func (s *Store) Get(id string) (*App, error) {
	var app App
	err := s.db.Get(&app, `SELECT * FROM apps WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get app %s: %w", id, err)
	}
	return &app, nil
}

// GetByName retrieves one app by its display name.
func (s *Store) GetByName(name string) (*App, error) {
	var app App
	err := s.db.Get(&app, `SELECT * FROM apps WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get app %s: %w", name, err)
	}
	return &app, nil
}

// Create inserts a new app. A missing id gets a fresh uuid, a missing
// subdomain defaults to the slugified name, and created_at is set to
// now when zero.
func (s *Store) Create(app *App) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Subdomain == nil {
		if slug := proxyclient.Slugify(app.Name); slug != "" {
			app.Subdomain = &slug
		}
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExec(`
		INSERT INTO apps (id, name, path, command, port, run_on_startup, created_at, subdomain, watch_paths)
		VALUES (:id, :name, :path, :command, :port, :run_on_startup, :created_at, :subdomain, :watch_paths)`,
		app)
	if err != nil {
		return fmt.Errorf("create app %s: %w", app.Name, err)
	}
	return nil
}

// Update rewrites all mutable fields of an existing app.
func (s *Store) Update(app *App) error {
	res, err := s.db.NamedExec(`
		UPDATE apps
		SET name = :name, path = :path, command = :command, port = :port,
		    run_on_startup = :run_on_startup, subdomain = :subdomain,
		    watch_paths = :watch_paths
		WHERE id = :id`,
		app)
	if err != nil {
		return fmt.Errorf("update app %s: %w", app.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, app.ID)
	}
	return nil
}

// Delete removes an app definition.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM apps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete app %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetSubdomain updates just the subdomain column. nil clears it.
func (s *Store) SetSubdomain(id string, subdomain *string) error {
	res, err := s.db.Exec(`UPDATE apps SET subdomain = ? WHERE id = ?`, subdomain, id)
	if err != nil {
		return fmt.Errorf("set subdomain for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// StartupApps returns the apps flagged to launch when the daemon starts.
func (s *Store) StartupApps() ([]App, error) {
	var apps []App
	err := s.db.Select(&apps, `SELECT * FROM apps WHERE run_on_startup = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list startup apps: %w", err)
	}
	return apps, nil
}
