package catalog

import (
	"log"
	"sync"
	"sync/atomic"
)

// Catalog owns the definition tables and the current Registry snapshot.
type Catalog struct {
	tables []Table
	logger *log.Logger

	current   atomic.Pointer[Registry]
	revisions []atomic.Uint64

	mu       sync.Mutex
	loaded   []uint64
	cancels  []func()
	onReload []func(old, new *Registry)
}

// New subscribes to every table and performs the initial load.
func New(tables []Table, logger *log.Logger) (*Catalog, LoadReport) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Catalog{
		tables:    append([]Table(nil), tables...),
		logger:    logger,
		revisions: make([]atomic.Uint64, len(tables)),
		loaded:    make([]uint64, len(tables)),
	}
	for i, t := range c.tables {
		rev := &c.revisions[i]
		c.cancels = append(c.cancels, t.Subscribe(func() { rev.Add(1) }))
	}
	reg, report := Load(c.tables, logger)
	c.current.Store(reg)
	return c, report
}

// Registry returns the current snapshot.
func (c *Catalog) Registry() *Registry {
	return c.current.Load()
}

// Tables returns the tables in load order.
func (c *Catalog) Tables() []Table {
	return append([]Table(nil), c.tables...)
}

// Revision returns the change counter for the named table, or 0 if unknown.
func (c *Catalog) Revision(table string) uint64 {
	for i, t := range c.tables {
		if t.Name() == table {
			return c.revisions[i].Load()
		}
	}
	return 0
}

// Stale reports whether any table changed since the last load.
func (c *Catalog) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tables {
		if c.revisions[i].Load() != c.loaded[i] {
			return true
		}
	}
	return false
}

// OnReload registers fn to run after each successful swap.
func (c *Catalog) OnReload(fn func(old, new *Registry)) {
	c.mu.Lock()
	c.onReload = append(c.onReload, fn)
	c.mu.Unlock()
}

// Reload rebuilds the registry from the tables and swaps it in.
func (c *Catalog) Reload() (*Registry, LoadReport) {
	c.mu.Lock()
	seen := make([]uint64, len(c.tables))
	for i := range c.tables {
		seen[i] = c.revisions[i].Load()
	}
	reg, report := Load(c.tables, c.logger)
	old := c.current.Swap(reg)
	copy(c.loaded, seen)
	hooks := append([]func(old, new *Registry){}, c.onReload...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(old, reg)
	}
	return reg, report
}

// ReloadIfStale reloads only when a table changed.
func (c *Catalog) ReloadIfStale() bool {
	if !c.Stale() {
		return false
	}
	c.Reload()
	return true
}

// Close unsubscribes from every table.
func (c *Catalog) Close() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
