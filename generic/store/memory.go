// Package store provides RowStore implementations.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	regions map[key][][]string

	// Fault injection hooks for retry/throttle tests. When set, the hook
	// runs before the real operation; a non-nil error is returned as-is.
	FailFetch func(storeID, region string) error
	FailWrite func(storeID string, updates []generic.CellUpdate) error
}

type key struct {
	StoreID string
	Region  string
}

func NewMemory() *Memory {
	return &Memory{regions: make(map[key][][]string)}
}

// Seed replaces the contents of a region.
func (m *Memory) Seed(storeID, region string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([][]string, len(rows))
	for i, r := range rows {
		cp[i] = append([]string{}, r...)
	}
	m.regions[key{storeID, region}] = cp
}

func (m *Memory) FetchRows(_ context.Context, storeID, region string) ([]generic.Row, error) {
	if m.FailFetch != nil {
		if err := m.FailFetch(storeID, region); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Absent regions read as empty, matching the SQLite store.
	raw := m.regions[key{storeID, region}]
	rows := make([]generic.Row, len(raw))
	for i, r := range raw {
		rows[i] = generic.Row{Index: i, Cells: append([]string{}, r...)}
	}
	return rows, nil
}

func (m *Memory) BatchWrite(_ context.Context, storeID string, updates []generic.CellUpdate) (int, error) {
	if m.FailWrite != nil {
		if err := m.FailWrite(storeID, updates); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate everything first so the write is all-or-nothing.
	for _, u := range updates {
		if _, ok := m.regions[key{storeID, u.Region}]; !ok {
			return 0, fmt.Errorf("region %s/%s not found", storeID, u.Region)
		}
		if u.Row < 0 || u.Column < 0 {
			return 0, fmt.Errorf("invalid cell location %s[%d][%d]", u.Region, u.Row, u.Column)
		}
	}

	written := 0
	for _, u := range updates {
		k := key{storeID, u.Region}
		rows := m.regions[k]
		for u.Row >= len(rows) {
			rows = append(rows, nil)
		}
		for u.Column >= len(rows[u.Row]) {
			rows[u.Row] = append(rows[u.Row], "")
		}
		rows[u.Row][u.Column] = u.Value
		m.regions[k] = rows
		written++
	}
	return written, nil
}
