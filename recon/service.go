/*
service.go - Run orchestration: load, cascade, apply

PURPOSE:
  One reconciliation run end to end. The service owns nothing clever; it
  sequences the three phases, aggregates their results into a RunSummary,
  and remembers the last run so the API can report it.

SEE ALSO:
  - loader.go, cascade.go, apply.go: The three phases
  - api/: The HTTP surface over this service
*/
package recon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// RUN SUMMARY
// =============================================================================

type RunSummary struct {
	StoreID   string
	StartedAt time.Time
	Duration  time.Duration

	Movements int
	Documents int

	Cascade *CascadeResult
	Apply   *ApplyResult
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Loader  *Loader
	Engine  *CascadeEngine
	Applier *Applier

	mu      sync.RWMutex
	lastRun *RunSummary
}

func NewService(loader *Loader, engine *CascadeEngine, applier *Applier) *Service {
	return &Service{Loader: loader, Engine: engine, Applier: applier}
}

// Reconcile runs one full reconciliation against a store. The summary is
// also returned alongside errors from the apply phase, so callers can see
// what was safely written before the failure.
func (s *Service) Reconcile(ctx context.Context, storeID string) (*RunSummary, error) {
	start := time.Now()
	log.Printf("[Service] reconcile %s: starting", storeID)

	movements, err := s.Loader.LoadMovements(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load movements: %w", err)
	}
	pool, err := s.Loader.LoadDocuments(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	cascade := s.Engine.Run(ctx, movements, pool)

	summary := &RunSummary{
		StoreID:   storeID,
		StartedAt: start,
		Movements: len(movements),
		Documents: pool.Size(),
		Cascade:   cascade,
	}

	applied, err := s.Applier.Apply(ctx, storeID, cascade.Updates)
	summary.Apply = applied
	summary.Duration = time.Since(start)
	s.remember(summary)
	if err != nil {
		return summary, fmt.Errorf("apply updates: %w", err)
	}

	log.Printf("[Service] reconcile %s: %d movement(s), %d document(s), %d update(s), %v",
		storeID, summary.Movements, summary.Documents, len(cascade.Updates), summary.Duration)
	return summary, nil
}

func (s *Service) remember(summary *RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = summary
}

// LastRun returns the most recent run summary, nil when none has happened.
func (s *Service) LastRun() *RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}
