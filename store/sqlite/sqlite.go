/*
Package sqlite provides a SQLite-backed implementation of the row store.

PURPOSE:
  Implements generic.RowStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

DATA MODEL:
  Rows are stored cell by cell, one database row per spreadsheet cell,
  keyed by (store_id, region, row_idx, col_idx). Reassembling a region is
  one ordered scan; writing a batch of annotations is one transaction.
  Storing cells instead of serialized rows means a BatchWrite touches
  exactly the cells it names and nothing else.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.
  Region-level write coordination is the lock registry's job, not the
  store's.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/recon.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  loader := recon.NewLoader(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definition
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/recon-engine/generic"
)

// Store implements generic.RowStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- One database row per cell
	CREATE TABLE IF NOT EXISTS cells (
		store_id TEXT NOT NULL,
		region TEXT NOT NULL,
		row_idx INTEGER NOT NULL,
		col_idx INTEGER NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (store_id, region, row_idx, col_idx)
	);

	-- Region scans (the read hot path)
	CREATE INDEX IF NOT EXISTS idx_cells_region
		ON cells(store_id, region, row_idx, col_idx);
	`
	_, err := s.db.Exec(schema)
	return err
}

// FetchRows reassembles a region's ordered rows from its cells. Row and
// column indices are preserved exactly as stored: a region whose first
// populated row is index 3 comes back with three leading empty rows, so
// positions line up with what editors see.
func (s *Store) FetchRows(ctx context.Context, storeID, region string) ([]generic.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_idx, col_idx, value
		FROM cells
		WHERE store_id = ? AND region = ?
		ORDER BY row_idx, col_idx
	`, storeID, region)
	if err != nil {
		return nil, fmt.Errorf("failed to query cells: %w", err)
	}
	defer rows.Close()

	maxRow := -1
	type cellPos struct{ row, col int }
	cells := make(map[cellPos]string)
	widths := make(map[int]int)
	for rows.Next() {
		var rowIdx, colIdx int
		var value string
		if err := rows.Scan(&rowIdx, &colIdx, &value); err != nil {
			return nil, fmt.Errorf("failed to scan cell: %w", err)
		}
		cells[cellPos{rowIdx, colIdx}] = value
		if rowIdx > maxRow {
			maxRow = rowIdx
		}
		if colIdx+1 > widths[rowIdx] {
			widths[rowIdx] = colIdx + 1
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cells: %w", err)
	}
	if maxRow < 0 {
		return nil, nil
	}

	out := make([]generic.Row, 0, maxRow+1)
	for r := 0; r <= maxRow; r++ {
		row := generic.Row{Index: r, Cells: make([]string, widths[r])}
		for c := 0; c < widths[r]; c++ {
			row.Cells[c] = cells[cellPos{r, c}]
		}
		out = append(out, row)
	}
	return out, nil
}

// BatchWrite applies all updates in a single transaction: either every
// cell lands or none do. Returns the number of cells written.
func (s *Store) BatchWrite(ctx context.Context, storeID string, updates []generic.CellUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cells (store_id, region, row_idx, col_idx, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, region, row_idx, col_idx)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, storeID, u.Region, u.Row, u.Column, u.Value, now); err != nil {
			return 0, fmt.Errorf("failed to write cell %s[%d,%d]: %w", u.Region, u.Row, u.Column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return len(updates), nil
}

// Seed replaces a region's contents with the given grid. Intended for
// tests and demo data.
func (s *Store) Seed(ctx context.Context, storeID, region string, grid [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cells WHERE store_id = ? AND region = ?
	`, storeID, region); err != nil {
		return fmt.Errorf("failed to clear region: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for r, row := range grid {
		for c, value := range row {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cells (store_id, region, row_idx, col_idx, value, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, storeID, region, r, c, value, now); err != nil {
				return fmt.Errorf("failed to seed cell: %w", err)
			}
		}
	}

	return tx.Commit()
}
