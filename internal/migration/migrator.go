package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/registry"
)

// keyApplied holds the applied migration records in the KV.
const keyApplied = "meta/migrations"

// Migration represents a single versioned migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(kv registry.KV) error
}

// Migrator tracks and executes ordered migrations against the registry store.
type Migrator struct {
	kv         registry.KV
	applied    map[int]time.Time // version -> applied time
	migrations []Migration
	mu         sync.Mutex
}

// appliedRecord is the JSON-serialisable form of a single applied migration.
type appliedRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// NewMigrator creates a new Migrator over kv.
func NewMigrator(kv registry.KV) *Migrator {
	return &Migrator{
		kv:      kv,
		applied: make(map[int]time.Time),
	}
}

// Register adds a migration to the migrator. Migrations are sorted by version
// before execution, so registration order does not matter.
func (m *Migrator) Register(migration Migration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrations = append(m.migrations, migration)
}

// LoadApplied reads previously applied migrations from the store.
// A store without a record leaves the applied set empty.
func (m *Migrator) LoadApplied() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.kv.Get(keyApplied)
	if err != nil {
		if errors.Is(err, registry.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("read migrations record: %w", err)
	}

	var records []appliedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse migrations record: %w", err)
	}

	applied := make(map[int]time.Time, len(records))
	for _, r := range records {
		applied[r.Version] = r.AppliedAt
	}
	m.applied = applied
	return nil
}

// saveAppliedLocked writes the applied set; caller must hold m.mu.
func (m *Migrator) saveAppliedLocked() error {
	records := make([]appliedRecord, 0, len(m.applied))
	for v, t := range m.applied {
		records = append(records, appliedRecord{Version: v, AppliedAt: t})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal migrations: %w", err)
	}
	if err := m.kv.Set(keyApplied, data); err != nil {
		return fmt.Errorf("write migrations record: %w", err)
	}
	return nil
}

// Pending returns all registered migrations that have not yet been applied,
// sorted by version ascending.
func (m *Migrator) Pending() []Migration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := m.applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})
	return pending
}

// Run executes all pending migrations in version order.
// After each successful migration the applied state is persisted.
func (m *Migrator) Run() error {
	pending := m.Pending()
	for _, mig := range pending {
		if err := mig.Up(m.kv); err != nil {
			return fmt.Errorf("migration v%d (%s): %w", mig.Version, mig.Description, err)
		}

		m.mu.Lock()
		m.applied[mig.Version] = time.Now()
		if err := m.saveAppliedLocked(); err != nil {
			// Roll back in-memory state to stay consistent with the store
			delete(m.applied, mig.Version)
			m.mu.Unlock()
			return fmt.Errorf("save after migration v%d: %w", mig.Version, err)
		}
		m.mu.Unlock()

		logging.Info("registry migration applied",
			"version", mig.Version,
			"description", mig.Description,
			logging.Component("migration"))
	}
	return nil
}

// CurrentVersion returns the highest applied migration version, or 0 if no
// migrations have been applied.
func (m *Migrator) CurrentVersion() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := 0
	for v := range m.applied {
		if v > max {
			max = v
		}
	}
	return max
}

// Apply loads the applied state, registers the built-in migrations and runs
// whatever is pending.
func Apply(kv registry.KV) (int, error) {
	m := NewMigrator(kv)
	RegisterDefaultMigrations(m)
	if err := m.LoadApplied(); err != nil {
		return 0, err
	}
	if err := m.Run(); err != nil {
		return m.CurrentVersion(), err
	}
	return m.CurrentVersion(), nil
}
