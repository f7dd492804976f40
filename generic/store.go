/*
store.go - Boundary interfaces to the backing tabular store

PURPOSE:
  The engine never talks to the real spreadsheet/tabular backend directly.
  Everything it needs from the outside world is expressed here as two
  operations: read all rows of a named region, and apply a batch of cell
  writes. Parsing and validation of raw rows is the engine's job, not the
  store's.

KEY TYPES:
  Row:        One raw row with its position inside its region
  CellUpdate: One (location, new value) pair for a batch write
  RowStore:   The boundary contract implemented by adapters

IMPLEMENTATIONS:
  - store/sqlite: Production-shaped SQLite adapter
  - generic/store: In-memory adapter for tests and development
  - recon/mocks: MockGen mock for usecase tests

CONTRACT NOTES:
  FetchRows returns rows in region order. BatchWrite applies all updates or
  none (adapter responsibility) and returns the number of cells written.
  Adapters wrap quota responses with ErrRateLimited so the retry layer can
  classify them.

SEE ALSO:
  - recon/loader.go: Parses Rows into the domain model
  - recon/apply.go: Bundles cascade output into batch writes
*/
package generic

import "context"

//go:generate mockgen -destination=../recon/mocks/mock_rowstore.go -package=mocks github.com/warp/recon-engine/generic RowStore

// =============================================================================
// RAW ROWS AND UPDATES
// =============================================================================

// Row is one raw row of a named region. Index is the row's position within
// the region (0-based) and doubles as its identity for writes.
type Row struct {
	Index int
	Cells []string
}

// Cell returns the cell at column i, or "" when the row is ragged.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// CellUpdate is one (location, new value) pair of a batch write.
type CellUpdate struct {
	Region string
	Row    int
	Column int
	Value  string
}

// =============================================================================
// ROW STORE - The boundary contract
// =============================================================================

// RowStore is the engine's only window onto the backing store.
type RowStore interface {
	// FetchRows returns all rows of a named region, in order.
	FetchRows(ctx context.Context, storeID, region string) ([]Row, error)

	// BatchWrite applies the updates and returns the number of cells
	// written. All-or-nothing is the adapter's responsibility.
	BatchWrite(ctx context.Context, storeID string, updates []CellUpdate) (int, error)
}
