// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// IDBase is added to a service's registrar id to form the uid and gid
// of its child daemon.
const IDBase = 10000

// DaemonExecutable is the file name of a remote service's executable
// inside its directory.
const DaemonExecutable = "daemon"

// rescanDelay coalesces bursts of directory events into one scan.
const rescanDelay = 200 * time.Millisecond

// Registrar assigns stable ids to the remote services installed under
// a root directory. It is safe for concurrent use.
type Registrar struct {
	configPath string
	root       string
	logger     *slog.Logger

	// Chown, when set, hands each service directory and its daemon to
	// the service's uid and gid after every scan. The daemon only does
	// this when running as root.
	Chown bool

	mu  sync.RWMutex
	ids map[string]uint32
}

// NewRegistrar loads configPath and reconciles it with the
// subdirectories of root. Neither needs to exist.
func NewRegistrar(configPath, root string, logger *slog.Logger) (*Registrar, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registrar := &Registrar{
		configPath: configPath,
		root:       root,
		logger:     logger,
		ids:        make(map[string]uint32),
	}
	if err := registrar.Scan(); err != nil {
		return nil, err
	}
	return registrar, nil
}

// Scan rereads the id file and the service directory. Installed
// services keep their recorded id; new ones get one more than the
// highest id in the file. The file is rewritten to list exactly the
// installed services whenever that differs from what it held.
func (r *Registrar) Scan() error {
	recorded, err := r.load()
	if err != nil {
		return err
	}
	var highest uint32
	for _, id := range recorded {
		highest = max(highest, id)
	}

	installed, err := r.installed()
	if err != nil {
		return err
	}
	ids := make(map[string]uint32, len(installed))
	for _, name := range installed {
		if id, ok := recorded[name]; ok {
			ids[name] = id
			continue
		}
		highest++
		ids[name] = highest
		r.logger.Info("remote service discovered", "service", name, "id", highest)
	}

	if !maps.Equal(ids, recorded) {
		if err := r.save(ids); err != nil {
			return err
		}
	}
	if r.Chown {
		r.chown(ids)
	}

	r.mu.Lock()
	r.ids = ids
	r.mu.Unlock()
	return nil
}

func (r *Registrar) load() (map[string]uint32, error) {
	recorded := make(map[string]uint32)
	if r.configPath == "" {
		return recorded, nil
	}
	data, err := os.ReadFile(r.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return recorded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading remote services file: %w", err)
	}
	if err := yaml.Unmarshal(data, &recorded); err != nil {
		return nil, fmt.Errorf("parsing remote services file %s: %w", r.configPath, err)
	}
	if recorded == nil {
		recorded = make(map[string]uint32)
	}
	return recorded, nil
}

func (r *Registrar) save(ids map[string]uint32) error {
	if r.configPath == "" {
		return nil
	}
	data, err := yaml.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding remote services file: %w", err)
	}
	if err := os.WriteFile(r.configPath, data, 0o644); err != nil {
		return fmt.Errorf("writing remote services file: %w", err)
	}
	return nil
}

// installed lists the subdirectories of root in name order.
func (r *Registrar) installed() ([]string, error) {
	if r.root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing remote services in %s: %w", r.root, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (r *Registrar) chown(ids map[string]uint32) {
	for name, id := range ids {
		owner := int(id + IDBase)
		directory := filepath.Join(r.root, name)
		for _, path := range []string{directory, filepath.Join(directory, DaemonExecutable)} {
			if err := unix.Chown(path, owner, owner); err != nil {
				r.logger.Warn("chown remote service", "path", path, "error", err)
			}
		}
		if err := unix.Chmod(directory, 0o755); err != nil {
			r.logger.Warn("chmod remote service", "path", directory, "error", err)
		}
	}
}

// IDFor returns the uid and gid for name's child daemon.
func (r *Registrar) IDFor(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	if !ok {
		return 0, false
	}
	return id + IDBase, true
}

// Has reports whether name is installed.
func (r *Registrar) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[name]
	return ok
}

// Names returns the installed services in sorted order.
func (r *Registrar) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.ids))
}

// Root returns the remote services directory.
func (r *Registrar) Root() string { return r.root }

// Watch rescans whenever the root directory changes, until ctx is
// done. The root must exist.
func (r *Registrar) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating remote services watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(r.root); err != nil {
		return fmt.Errorf("watching %s: %w", r.root, err)
	}

	timer := time.NewTimer(rescanDelay)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				timer.Reset(rescanDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("remote services watcher", "error", err)
		case <-timer.C:
			if err := r.Scan(); err != nil {
				r.logger.Error("rescanning remote services", "error", err)
				continue
			}
			r.logger.Info("remote services rescanned", "services", r.Names())
		}
	}
}
