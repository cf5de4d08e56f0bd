// internal/store/memory.go
//
// In-memory registry of live tables.
// Sessions are ephemeral: balances and history live only as long as the process.
//
// Characteristics:
//   - Stores *table.Table values keyed by session id in a map.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - Delete closes the table so its countdown never outlives the entry.
//   - Get returns ErrNotFound for unknown ids.

package store

import (
	"context"
	"errors"
	"sync"

	"github.com/robalobadob/keiba-duel/internal/monitoring"
	"github.com/robalobadob/keiba-duel/internal/table"
)

var ErrNotFound = errors.New("not found")

// Store defines the registry interface for live tables.
type Store interface {
	// Save adds or replaces a table. A replaced table is closed.
	Save(ctx context.Context, t *table.Table) error

	// Get retrieves a table by session id.
	Get(ctx context.Context, id string) (*table.Table, error)

	// Delete closes and removes a table. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error

	// Close tears down every table (server shutdown).
	Close()
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu     sync.RWMutex            // guards tables map
	tables map[string]*table.Table // keyed by session id
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{tables: make(map[string]*table.Table)}
}

func (m *memory) Save(ctx context.Context, t *table.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.tables[t.ID()]; ok && old != t {
		old.Close()
	}
	m.tables[t.ID()] = t
	monitoring.ActiveTables.Set(float64(len(m.tables)))
	return nil
}

func (m *memory) Get(ctx context.Context, id string) (*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[id]; ok {
		return t, nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tables[id]
	delete(m.tables, id)
	monitoring.ActiveTables.Set(float64(len(m.tables)))
	m.mu.Unlock()

	if ok {
		t.Close()
	}
	return nil
}

func (m *memory) Close() {
	m.mu.Lock()
	tables := m.tables
	m.tables = make(map[string]*table.Table)
	monitoring.ActiveTables.Set(0)
	m.mu.Unlock()

	for _, t := range tables {
		t.Close()
	}
}
