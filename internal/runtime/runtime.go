// Package runtime holds the process-wide context that every component
// needs but none should reach for as a global: the fleet root, the
// generation string, the open store handle, and the model registry.
// Constructed once at process start and passed explicitly.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"fleetctl/internal/config"
	"fleetctl/internal/events"
	"fleetctl/internal/logging"
	"fleetctl/internal/store"
)

// Context bundles the shared, process-lifetime state. Every long-running
// component (scheduler, watchdog, coordinator, daemons) takes a *Context
// rather than touching package-level globals.
type Context struct {
	Config   *config.Config
	Store    *store.Store
	Writer   *events.Writer
	Registry *events.ModelRegistry
}

// New opens the store read-write, wires the canonical event writer, and
// returns a fully assembled Context. Callers own the Context's lifetime
// and must call Close when done.
func New(cfg *config.Config) (*Context, error) {
	if err := os.MkdirAll(cfg.FleetRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create fleet root %s: %w", cfg.FleetRoot, err)
	}
	if err := logging.Initialize(cfg.FleetRoot); err != nil {
		logging.BootWarn("file logging init failed, continuing: %v", err)
	}

	opts := store.Options{
		Namespace:        cfg.Store.Namespace,
		Generation:       cfg.Generation,
		PriorGenerations: cfg.Store.PriorGenerations,
		RequireVec:       cfg.Store.RequireVec,
	}
	st, err := store.OpenRW(cfg.StorePath(), opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry := events.DefaultModelRegistry()
	writer := events.NewWriter(st, events.WriterOptions{
		Namespace:  cfg.Store.Namespace,
		Generation: cfg.Generation,
	})

	logging.Boot("runtime context ready: root=%s generation=%s db=%s", cfg.FleetRoot, cfg.Generation, cfg.StorePath())
	return &Context{Config: cfg, Store: st, Writer: writer, Registry: registry}, nil
}

// Close releases the store handle and flushes logs.
func (c *Context) Close() error {
	logging.CloseAll()
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// ReadOnly opens a second, read-only connection to the same database for
// components that must never mutate (audit spells, the coordinator's
// read path). Callers should close it independently of the main Context.
func (c *Context) ReadOnly() (*store.Store, error) {
	return store.OpenRO(c.Store.Path())
}

// StateFilePath resolves a named state file against the fleet root,
// matching the daemons' filesystem state file convention.
func (c *Context) StateFilePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Config.FleetRoot, name)
}
