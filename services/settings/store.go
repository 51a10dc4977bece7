// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/apidaemon/lib/sqlitepool"
)

// ErrNotFound is returned by Get for a setting that does not exist.
var ErrNotFound = errors.New("settings: no such setting")

// ErrInvalidDefaults is returned when a defaults file is not a JSON
// object.
var ErrInvalidDefaults = errors.New("settings: defaults must be a JSON object")

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	name          TEXT PRIMARY KEY,
	value         TEXT NOT NULL,
	default_value TEXT
);
`

// SettingInfo is one named setting. Value is JSON text; a JSON null
// passed to Set deletes the setting.
type SettingInfo struct {
	Name  string          `cbor:"name"`
	Value json.RawMessage `cbor:"value"`
}

// Listener receives every committed change.
type Listener func(setting SettingInfo)

// StoreConfig configures OpenStore.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string

	// DefaultsPath, if set, is a JSONC object of default values merged
	// at open. A missing file is logged and ignored.
	DefaultsPath string

	Logger *slog.Logger
}

// Store is the settings database shared by all instances. It is safe
// for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
	observers map[string]map[uint64]Listener
}

// OpenStore opens the database and merges the defaults file.
func OpenStore(ctx context.Context, config StoreConfig) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Schema: schema,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	store := &Store{
		pool:      pool,
		logger:    logger,
		listeners: make(map[uint64]Listener),
		observers: make(map[string]map[uint64]Listener),
	}

	if config.DefaultsPath != "" {
		data, err := os.ReadFile(config.DefaultsPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("settings defaults file missing", "path", config.DefaultsPath)
		case err != nil:
			pool.Close()
			return nil, fmt.Errorf("reading settings defaults: %w", err)
		default:
			count, err := store.MergeDefaults(ctx, data)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("%s: %w", config.DefaultsPath, err)
			}
			logger.Info("settings defaults merged", "path", config.DefaultsPath, "imported", count)
		}
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Get returns one setting.
func (s *Store) Get(ctx context.Context, name string) (SettingInfo, error) {
	var setting SettingInfo
	found := false
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT value FROM settings WHERE name = ?", &sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				setting = SettingInfo{Name: name, Value: json.RawMessage(stmt.ColumnText(0))}
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return SettingInfo{}, fmt.Errorf("settings: get %q: %w", name, err)
	}
	if !found {
		return SettingInfo{}, ErrNotFound
	}
	return setting, nil
}

// GetBatch returns the listed settings that exist, in name order.
func (s *Store) GetBatch(ctx context.Context, names []string) ([]SettingInfo, error) {
	settings := []SettingInfo{}
	if len(names) == 0 {
		return settings, nil
	}
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = name
	}
	query := "SELECT name, value FROM settings WHERE name IN (" +
		strings.Repeat("?, ", len(names)-1) + "?) ORDER BY name"

	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				settings = append(settings, SettingInfo{
					Name:  stmt.ColumnText(0),
					Value: json.RawMessage(stmt.ColumnText(1)),
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("settings: get batch: %w", err)
	}
	return settings, nil
}

// Set writes settings in one transaction, then notifies listeners and
// observers of each change. A null value deletes the setting.
func (s *Store) Set(ctx context.Context, settings []SettingInfo) error {
	written, err := s.write(ctx, settings, false)
	if err != nil {
		return err
	}
	s.notify(written)
	return nil
}

// Clear deletes every setting. Listeners are not notified.
func (s *Store) Clear(ctx context.Context) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "DELETE FROM settings", nil)
	})
	if err != nil {
		return fmt.Errorf("settings: clear: %w", err)
	}
	return nil
}

// MergeDefaults imports a JSONC object of defaults and returns how
// many settings it wrote. A default is written when the setting is
// missing, or when its value still equals the recorded default and the
// new default differs.
func (s *Store) MergeDefaults(ctx context.Context, data []byte) (int, error) {
	var defaults map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &defaults); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDefaults, err)
	}
	if defaults == nil {
		return 0, ErrInvalidDefaults
	}

	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	slices.Sort(names)

	var updates []SettingInfo
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		for _, name := range names {
			value, err := canonical(defaults[name])
			if err != nil {
				return fmt.Errorf("default %q: %w", name, err)
			}
			if value == nil {
				continue
			}
			apply, err := needsDefault(conn, name, value)
			if err != nil {
				return err
			}
			if apply {
				updates = append(updates, SettingInfo{Name: name, Value: value})
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("settings: merging defaults: %w", err)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	written, err := s.write(ctx, updates, true)
	if err != nil {
		return 0, err
	}
	s.notify(written)
	return len(written), nil
}

// needsDefault reports whether def should replace the stored setting.
func needsDefault(conn *sqlite.Conn, name string, def json.RawMessage) (bool, error) {
	var (
		exists  bool
		current string
		recent  string
	)
	err := sqlitex.Execute(conn, "SELECT value, default_value FROM settings WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			exists = true
			current = stmt.ColumnText(0)
			recent = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	if string(def) == recent {
		return false, nil
	}
	return current == recent, nil
}

// write stores settings in one transaction and returns them with
// canonical values, null for deletions.
func (s *Store) write(ctx context.Context, settings []SettingInfo, asDefault bool) (written []SettingInfo, err error) {
	written = make([]SettingInfo, len(settings))
	for i, setting := range settings {
		value, err := canonical(setting.Value)
		if err != nil {
			return nil, fmt.Errorf("settings: value of %q: %w", setting.Name, err)
		}
		written[i] = SettingInfo{Name: setting.Name, Value: value}
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: set: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("settings: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for i := range written {
		name, value := written[i].Name, written[i].Value
		switch {
		case value == nil:
			written[i].Value = json.RawMessage("null")
			err = sqlitex.Execute(conn, "DELETE FROM settings WHERE name = ?", &sqlitex.ExecOptions{
				Args: []any{name},
			})
		case asDefault:
			err = sqlitex.Execute(conn, `INSERT INTO settings (name, value, default_value) VALUES (?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET value = excluded.value, default_value = excluded.default_value`,
				&sqlitex.ExecOptions{Args: []any{name, string(value), string(value)}})
		default:
			err = sqlitex.Execute(conn, `INSERT INTO settings (name, value) VALUES (?, ?)
				ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
				&sqlitex.ExecOptions{Args: []any{name, string(value)}})
		}
		if err != nil {
			return nil, fmt.Errorf("settings: writing %q: %w", name, err)
		}
	}
	return written, nil
}

// canonical re-encodes a JSON value compactly with sorted object keys
// so equal values compare equal as text. It returns nil for null or
// empty input.
func canonical(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if decoder.More() {
		return nil, errors.New("invalid JSON: trailing data")
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// Subscribe registers fn for every change and returns its cancel
// function.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Observe registers fn for changes of one setting and returns the
// registration id.
func (s *Store) Observe(name string, fn Listener) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	byID, ok := s.observers[name]
	if !ok {
		byID = make(map[uint64]Listener)
		s.observers[name] = byID
	}
	byID[s.nextID] = fn
	return s.nextID
}

// Unobserve removes a registration made by Observe.
func (s *Store) Unobserve(name string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.observers[name]
	if !ok {
		return false
	}
	if _, ok := byID[id]; !ok {
		return false
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(s.observers, name)
	}
	return true
}

func (s *Store) notify(settings []SettingInfo) {
	for _, setting := range settings {
		s.mu.Lock()
		targets := make([]Listener, 0, len(s.listeners)+len(s.observers[setting.Name]))
		for _, fn := range s.listeners {
			targets = append(targets, fn)
		}
		for _, fn := range s.observers[setting.Name] {
			targets = append(targets, fn)
		}
		s.mu.Unlock()

		for _, fn := range targets {
			fn(setting)
		}
	}
}

// Status summarizes the store for the daemon's status log.
type Status struct {
	Settings      int
	Listeners     int
	Observers     int
	ObservedNames int
}

// Status counts settings and registrations.
func (s *Store) Status(ctx context.Context) (Status, error) {
	var status Status
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT count(*) FROM settings", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				status.Settings = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	if err != nil {
		return Status{}, fmt.Errorf("settings: status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status.Listeners = len(s.listeners)
	status.ObservedNames = len(s.observers)
	for _, byID := range s.observers {
		status.Observers += len(byID)
	}
	return status, nil
}
