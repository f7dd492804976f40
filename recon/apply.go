/*
apply.go - Safe write-back of cascade updates

PURPOSE:
  Takes the updates a cascade produced and writes them to the row store
  without trampling concurrent editors. Three layers of protection, applied
  in order per region:

  1. Named lock per (storeID, region) - at most one applier writes a
     region at a time; locks auto-expire so a crashed holder cannot wedge
     the system.
  2. Version guard per row - rows are re-read UNDER the lock and their
     content hash compared against the version captured when the cascade
     read them. A mismatch means someone edited the row mid-run: that
     update is skipped and counted, never merged.
  3. Quota-aware write - the single BatchWrite per region goes through the
     process-wide throttle and the dual-schedule retry, so a rate-limited
     backend slows the applier down instead of failing the run.

FAILURE SCOPE:
  A lock timeout abandons ONE region's updates and is recorded in the
  result; other regions still apply. Store errors that survive the retry
  schedule abort the run.

SEE ALSO:
  - generic/lock.go, generic/version.go, generic/retry.go, generic/throttle.go
*/
package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// APPLIER
// =============================================================================

type Applier struct {
	Store    generic.RowStore
	Locks    *generic.LockRegistry
	Throttle *generic.QuotaThrottle

	Std   generic.RetryConfig
	Quota generic.RetryConfig

	LockWait   time.Duration
	LockExpiry time.Duration
}

func NewApplier(store generic.RowStore, locks *generic.LockRegistry, throttle *generic.QuotaThrottle) *Applier {
	return &Applier{
		Store:      store,
		Locks:      locks,
		Throttle:   throttle,
		Std:        generic.DefaultRetryConfig(),
		Quota:      generic.QuotaRetryConfig(),
		LockWait:   10 * time.Second,
		LockExpiry: 60 * time.Second,
	}
}

// =============================================================================
// RESULT
// =============================================================================

type ApplyResult struct {
	CellsWritten int
	Skipped      int
	Conflicts    []RowRef
	LockTimeouts []string
}

// =============================================================================
// APPLY
// =============================================================================

// Apply writes the given updates region by region. Regions are processed in
// sorted order for deterministic behavior under test.
func (a *Applier) Apply(ctx context.Context, storeID string, updates []RowUpdate) (*ApplyResult, error) {
	result := &ApplyResult{}
	if len(updates) == 0 {
		return result, nil
	}

	byRegion := make(map[string][]RowUpdate)
	for _, u := range updates {
		byRegion[u.Row.Region] = append(byRegion[u.Row.Region], u)
	}
	regions := make([]string, 0, len(byRegion))
	for region := range byRegion {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	for _, region := range regions {
		lockID := storeID + "/" + region
		err := a.Locks.WithLock(lockID, a.LockWait, a.LockExpiry, func() error {
			return a.applyRegion(ctx, storeID, region, byRegion[region], result)
		})
		if errors.Is(err, generic.ErrLockTimeout) {
			log.Printf("[Apply] lock timeout on %s: %d update(s) abandoned", lockID, len(byRegion[region]))
			result.LockTimeouts = append(result.LockTimeouts, region)
			result.Skipped += len(byRegion[region])
			continue
		}
		if err != nil {
			return result, fmt.Errorf("apply %s: %w", region, err)
		}
	}

	log.Printf("[Apply] %s: %d cell(s) written, %d update(s) skipped, %d conflict(s), %d lock timeout(s)",
		storeID, result.CellsWritten, result.Skipped, len(result.Conflicts), len(result.LockTimeouts))
	return result, nil
}

// applyRegion runs under the region lock: re-read, version-check, write.
func (a *Applier) applyRegion(ctx context.Context, storeID, region string, updates []RowUpdate, result *ApplyResult) error {
	rows, err := a.Store.FetchRows(ctx, storeID, region)
	if err != nil {
		return fmt.Errorf("re-fetch: %w", err)
	}
	if len(rows) == 0 {
		result.Skipped += len(updates)
		return nil
	}

	cols := newColumnMap(region, rows[0])
	matchedCol, err := cols.require(ColMatchedDoc)
	if err != nil {
		return err
	}
	detailCol, err := cols.require(ColMatchDetail)
	if err != nil {
		return err
	}

	current, err := ParseMovements(rows)
	if err != nil {
		return err
	}
	byRow := make(map[RowRef]BankMovement, len(current))
	for _, mv := range current {
		byRow[mv.Row] = mv
	}

	var cells []generic.CellUpdate
	for _, u := range updates {
		mv, ok := byRow[u.Row]
		if !ok {
			log.Printf("[Apply] %s: row vanished, update skipped", u.Row)
			result.Skipped++
			continue
		}
		if err := generic.CheckVersion(u.Row.String(), mv.Version(), u.Version); err != nil {
			// The row changed between read and write. Skip, never merge.
			log.Printf("[Apply] %v", err)
			result.Conflicts = append(result.Conflicts, u.Row)
			result.Skipped++
			continue
		}
		docID, detail := u.DocID, u.Detail
		if u.Clear {
			docID, detail = "", ""
		}
		cells = append(cells,
			generic.CellUpdate{Region: region, Row: u.Row.Index, Column: matchedCol, Value: docID},
			generic.CellUpdate{Region: region, Row: u.Row.Index, Column: detailCol, Value: detail},
		)
	}
	if len(cells) == 0 {
		return nil
	}

	var written int
	err = generic.WithQuotaRetry(ctx, a.Std, a.Quota, func() error {
		// Clearance is checked per attempt, not once per batch: a quota
		// error reported mid-retry (here or by another caller) must slow
		// the very next request down.
		if cerr := a.Throttle.WaitForClearance(ctx); cerr != nil {
			return cerr
		}
		n, werr := a.Store.BatchWrite(ctx, storeID, cells)
		if werr != nil {
			if generic.IsRateLimited(werr) {
				a.Throttle.ReportQuotaError()
			}
			return werr
		}
		written = n
		return nil
	})
	if err != nil {
		return err
	}
	result.CellsWritten += written
	return nil
}
