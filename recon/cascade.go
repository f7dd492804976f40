/*
cascade.go - Displacement engine: globally consistent best matches

PURPOSE:
  Accepting one match can force another movement to give its document up.
  The cascade engine drives matching across the whole pool to a locally
  stable assignment: a seed pass matches every unmatched movement against
  the full pool (claimed documents included, since a newcomer may simply be
  a better fit), and every displacement re-queues the previous holder for
  another round, bounded by depth, wall-clock time, and cycle detection.

TERMINATION:
  A cascade is, in the worst case, an unbounded alternating-improvement
  chain across a cyclic preference graph. Three guards run before any work
  on each queue entry, in order: depth, timeout, visited-document cycle.
  Guard trips are NOT errors - they are logged early terminations that
  still return every update accumulated so far.

STATE OWNERSHIP:
  All cascade state (claims, visited set, counters) lives in a per-run
  value owned by Run. Concurrent cascades never share a visited set.

SEE ALSO:
  - matcher.go: Produces the candidates
  - compare.go: Decides displacement
  - apply.go: Writes the resulting updates
*/
package recon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// CONFIG
// =============================================================================

type CascadeConfig struct {
	MaxDepth int
	Timeout  time.Duration
}

func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{MaxDepth: 5, Timeout: 30 * time.Second}
}

// =============================================================================
// QUEUE AND STATE
// =============================================================================

// displacementEntry is one pending re-match job. Consumed exactly once;
// depth strictly increases along a chain.
type displacementEntry struct {
	movement      BankMovement
	previousDocID string
	depth         int
}

// claim records who currently holds a document within this run.
type claim struct {
	holder  BankMovement
	quality MatchQuality
}

// cascadeState is the per-run accumulator. Discarded at the end of the run.
type cascadeState struct {
	claims  map[string]claim        // docID -> in-run claim
	prior   map[string]BankMovement // docID -> holder from a previous run
	visited map[string]bool         // displaced doc ids seen this run

	pending  map[RowRef]RowUpdate
	rowOrder []RowRef
	queue    []displacementEntry
	start    time.Time

	processed     int
	displacements int
	maxDepth      int
	cycle         bool
	timedOut      bool
	depthExceeded bool
}

func newCascadeState(movements []BankMovement) *cascadeState {
	st := &cascadeState{
		claims:  make(map[string]claim),
		prior:   make(map[string]BankMovement),
		visited: make(map[string]bool),
		pending: make(map[RowRef]RowUpdate),
		start:   time.Now(),
	}
	for _, mv := range movements {
		if mv.IsMatched() {
			st.prior[mv.MatchedDocID] = mv
		}
	}
	return st
}

// record stores a pending update, last-wins per row.
func (st *cascadeState) record(u RowUpdate) {
	if _, seen := st.pending[u.Row]; !seen {
		st.rowOrder = append(st.rowOrder, u.Row)
	}
	st.pending[u.Row] = u
}

// unmatch clears a displaced movement's former link. A movement that only
// ever held an in-run claim has nothing in the store to clear; its pending
// update is dropped instead.
func (st *cascadeState) unmatch(mv BankMovement) {
	if mv.IsMatched() {
		st.record(RowUpdate{Row: mv.Row, Version: mv.Version(), Clear: true})
		return
	}
	delete(st.pending, mv.Row)
}

func (st *cascadeState) updates() []RowUpdate {
	out := make([]RowUpdate, 0, len(st.pending))
	for _, row := range st.rowOrder {
		if u, ok := st.pending[row]; ok {
			out = append(out, u)
		}
	}
	return out
}

// claimedIDs returns the documents claimed so far in this run.
func (st *cascadeState) claimedIDs() map[string]bool {
	ids := make(map[string]bool, len(st.claims))
	for id := range st.claims {
		ids[id] = true
	}
	return ids
}

// =============================================================================
// RESULT
// =============================================================================

type CascadeResult struct {
	Updates       []RowUpdate
	Processed     int
	Displacements int
	MaxDepth      int
	CycleDetected bool
	TimedOut      bool
	DepthExceeded bool
	Elapsed       time.Duration
}

// =============================================================================
// ENGINE
// =============================================================================

type CascadeEngine struct {
	Matcher *Matcher
	Config  CascadeConfig
}

func NewCascadeEngine(matcher *Matcher, cfg CascadeConfig) *CascadeEngine {
	return &CascadeEngine{Matcher: matcher, Config: cfg}
}

// Run drives matching to a fixed point and returns the accumulated updates.
// Guard trips still return whatever was safely accumulated.
func (e *CascadeEngine) Run(ctx context.Context, movements []BankMovement, pool *DocumentPool) *CascadeResult {
	st := newCascadeState(movements)

	e.seed(ctx, st, movements, pool)
	e.drain(ctx, st, pool)

	res := &CascadeResult{
		Updates:       st.updates(),
		Processed:     st.processed,
		Displacements: st.displacements,
		MaxDepth:      st.maxDepth,
		CycleDetected: st.cycle,
		TimedOut:      st.timedOut,
		DepthExceeded: st.depthExceeded,
		Elapsed:       time.Since(st.start),
	}
	log.Printf("[Cascade] done: %d update(s), %d displacement(s), %d queue entr(ies), max depth %d, elapsed %v",
		len(res.Updates), res.Displacements, res.Processed, res.MaxDepth, res.Elapsed)
	return res
}

// seed matches every currently-unmatched movement against the FULL pool:
// a seed item may be a strictly better fit than whatever currently holds a
// document. Seed items are matched directly, not through the queue.
func (e *CascadeEngine) seed(ctx context.Context, st *cascadeState, movements []BankMovement, pool *DocumentPool) {
	for _, mv := range movements {
		if mv.IsMatched() || !mv.IsMatchable() {
			continue
		}
		result, err := e.Matcher.Match(ctx, mv, pool)
		if err != nil {
			log.Printf("[Cascade] seed: movement %s skipped: %v", mv.Row, err)
			continue
		}
		if !result.Claims() {
			if result.Type == MatchBankFee || result.Type == MatchCardPayment {
				st.record(RowUpdate{Row: mv.Row, Detail: detailFor(result), Version: mv.Version()})
			}
			continue
		}
		e.tryClaim(st, mv, result, pool, 1)
	}
}

// drain processes the displacement queue one entry at a time, FIFO.
func (e *CascadeEngine) drain(ctx context.Context, st *cascadeState, pool *DocumentPool) {
	for len(st.queue) > 0 {
		entry := st.queue[0]
		st.queue = st.queue[1:]

		// Termination guards, in order, before any work on this entry.
		if entry.depth >= e.Config.MaxDepth {
			log.Printf("[Cascade] depth guard: %d >= %d, stopping (remaining queue dropped)",
				entry.depth, e.Config.MaxDepth)
			st.depthExceeded = true
			return
		}
		if time.Since(st.start) >= e.Config.Timeout {
			log.Printf("[Cascade] timeout guard: %v elapsed, stopping", time.Since(st.start))
			st.timedOut = true
			return
		}
		if st.visited[entry.previousDocID] {
			log.Printf("[Cascade] cycle detected on document %s, stopping", entry.previousDocID)
			st.cycle = true
			return
		}
		st.visited[entry.previousDocID] = true

		st.processed++
		if entry.depth > st.maxDepth {
			st.maxDepth = entry.depth
		}

		// Re-match against the pool minus documents claimed by this
		// cascade. Claimed ids are tracked in a running set; the
		// underlying pool is never mutated.
		result, err := e.Matcher.Match(ctx, entry.movement, pool.Without(st.claimedIDs()))
		if err != nil {
			log.Printf("[Cascade] re-match of %s failed: %v", entry.movement.Row, err)
			st.unmatch(entry.movement)
			continue
		}
		if !result.Claims() {
			// Exhausted candidates: clear the former link so no row keeps
			// pointing at a document the cascade reassigned.
			st.unmatch(entry.movement)
			continue
		}
		if !e.tryClaim(st, entry.movement, result, pool, entry.depth+1) {
			st.unmatch(entry.movement)
		}
	}
}

// tryClaim claims result.DocID for mv, displacing the current holder when
// the comparator says the candidate is strictly better. Returns false when
// the claim was blocked by a holder that keeps the document.
func (e *CascadeEngine) tryClaim(st *cascadeState, mv BankMovement, result MatchResult, pool *DocumentPool, nextDepth int) bool {
	docID := result.DocID

	if cur, held := st.claims[docID]; held {
		if !IsBetter(cur.quality, result.Quality) {
			return false
		}
		// Retract the loser's pending claim NOW, not when its queue entry
		// drains: a guard can drop the queue, and a stale claim left in
		// pending would ship two movements annotated with one document.
		// If the loser re-settles later, its new claim overwrites this.
		st.unmatch(cur.holder)
		st.setClaim(mv, result)
		st.displacements++
		st.enqueue(cur.holder, docID, nextDepth)
		return true
	}

	if prior, held := st.prior[docID]; held && prior.Row != mv.Row {
		existing, err := e.existingQuality(prior, docID, pool)
		if err != nil {
			// Lookup miss: cannot compare, keep existing. Never fatal.
			log.Printf("[Cascade] cannot compare against existing match on %s: %v", docID, err)
			return false
		}
		// Historical matches carry no recomputable amount exactness; both
		// sides are compared as exact so the decision rests on
		// confidence, tax id, and date.
		candidate := result.Quality
		candidate.ExactAmount = true
		if !IsBetter(existing, candidate) {
			return false
		}
		delete(st.prior, docID)
		// Same retraction discipline as in-run claims: record the prior
		// holder's Clear immediately so its stored link never coexists with
		// the new claim, even if its queue entry is dropped by a guard.
		st.unmatch(prior)
		st.setClaim(mv, result)
		st.displacements++
		st.enqueue(prior, docID, nextDepth)
		return true
	}

	// First-time claim: nothing further to queue.
	st.setClaim(mv, result)
	return true
}

func (st *cascadeState) setClaim(mv BankMovement, result MatchResult) {
	st.claims[result.DocID] = claim{holder: mv, quality: result.Quality}
	st.record(RowUpdate{
		Row:     mv.Row,
		DocID:   result.DocID,
		Detail:  detailFor(result),
		Version: mv.Version(),
	})
}

func (st *cascadeState) enqueue(mv BankMovement, previousDocID string, depth int) {
	st.queue = append(st.queue, displacementEntry{
		movement:      mv,
		previousDocID: previousDocID,
		depth:         depth,
	})
}

// existingQuality reconstructs the judgment of a match made by a previous
// run from the stored annotation. Amount exactness cannot be recomputed
// from stored data and is assumed true.
func (e *CascadeEngine) existingQuality(holder BankMovement, docID string, pool *DocumentPool) (MatchQuality, error) {
	doc, err := pool.FindByID(docID)
	if err != nil {
		return MatchQuality{}, err
	}
	conf := doc.MatchConfidence()
	if conf == "" {
		conf = ConfidenceMedium
	}
	desc := e.Matcher.Config.StripOriginCode(holder.Description)
	taxID, _ := ExtractTaxID(desc)
	return MatchQuality{
		Confidence:        conf,
		TaxIDMatch:        docTaxIDMatches(doc, taxID),
		DateDistanceDays:  generic.DayDistance(holder.Date, doc.DocDate()),
		ExactAmount:       true,
		HasDownstreamLink: doc.LinkedDocID() != "",
	}, nil
}

func detailFor(result MatchResult) string {
	return fmt.Sprintf("%s [%s] %s", result.Type, result.Confidence, result.Rationale)
}
