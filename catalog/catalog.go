// Package catalog provides implementations of the launcher.Catalog
// interface: the metadata service that, given a routine identifier, returns
// its declared timeout, required ports, category and display name. This
// package supplies the concrete in-memory store used by cmd/nvtlauncherd
// and by tests.
package catalog

import (
	"fmt"
	"sync"

	"github.com/greenbone/nvt-launcher/launcher"
)

// Entry is one routine's catalog metadata.
type Entry struct {
	RequiredPorts string
	Timeout       int
	Category      launcher.Category
	DisplayName   string
}

// MapCatalog is a thread-safe in-memory launcher.Catalog backed by a plain
// map, keyed by OID.
type MapCatalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMapCatalog returns an empty MapCatalog.
func NewMapCatalog() *MapCatalog {
	return &MapCatalog{entries: make(map[string]Entry)}
}

// Set records or replaces the metadata for oid.
func (c *MapCatalog) Set(oid string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[oid] = e
}

// Replace atomically swaps the entire catalog contents.
func (c *MapCatalog) Replace(entries map[string]Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = entries
}

func (c *MapCatalog) lookup(oid string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[oid]
	if !ok {
		return Entry{}, fmt.Errorf("catalog: unknown oid %q", oid)
	}

	return e, nil
}

// RequiredPorts implements launcher.Catalog.
func (c *MapCatalog) RequiredPorts(oid string) (string, error) {
	e, err := c.lookup(oid)
	if err != nil {
		return "", err
	}

	return e.RequiredPorts, nil
}

// Timeout implements launcher.Catalog.
func (c *MapCatalog) Timeout(oid string) (int, error) {
	e, err := c.lookup(oid)
	if err != nil {
		return 0, err
	}

	return e.Timeout, nil
}

// Category implements launcher.Catalog.
func (c *MapCatalog) Category(oid string) (launcher.Category, error) {
	e, err := c.lookup(oid)
	if err != nil {
		return launcher.CategoryOther, err
	}

	return e.Category, nil
}

// DisplayName implements launcher.Catalog.
func (c *MapCatalog) DisplayName(oid string) (string, error) {
	e, err := c.lookup(oid)
	if err != nil {
		return "", err
	}

	return e.DisplayName, nil
}
