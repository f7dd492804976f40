/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - recon/service.go: The RunSummary these DTOs project
*/
package api

import (
	"time"

	"github.com/warp/recon-engine/recon"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ReconcileRequest is the request to run a reconciliation.
type ReconcileRequest struct {
	StoreID string `json:"store_id"`
}

// RunSummaryDTO represents one reconciliation run in API responses.
type RunSummaryDTO struct {
	StoreID   string `json:"store_id"`
	StartedAt string `json:"started_at"`
	Duration  string `json:"duration"`

	Movements int `json:"movements"`
	Documents int `json:"documents"`

	Cascade CascadeDTO `json:"cascade"`
	Apply   ApplyDTO   `json:"apply"`
}

// CascadeDTO summarizes the matching phase.
type CascadeDTO struct {
	Updates       int    `json:"updates"`
	Displacements int    `json:"displacements"`
	Processed     int    `json:"processed"`
	MaxDepth      int    `json:"max_depth"`
	CycleDetected bool   `json:"cycle_detected"`
	TimedOut      bool   `json:"timed_out"`
	DepthExceeded bool   `json:"depth_exceeded"`
	Elapsed       string `json:"elapsed"`
}

// ApplyDTO summarizes the write-back phase.
type ApplyDTO struct {
	CellsWritten int      `json:"cells_written"`
	Skipped      int      `json:"skipped"`
	Conflicts    []string `json:"conflicts"`
	LockTimeouts []string `json:"lock_timeouts"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRunSummaryDTO(s *recon.RunSummary) RunSummaryDTO {
	dto := RunSummaryDTO{
		StoreID:   s.StoreID,
		StartedAt: s.StartedAt.Format(time.RFC3339),
		Duration:  s.Duration.String(),
		Movements: s.Movements,
		Documents: s.Documents,
	}
	if s.Cascade != nil {
		dto.Cascade = CascadeDTO{
			Updates:       len(s.Cascade.Updates),
			Displacements: s.Cascade.Displacements,
			Processed:     s.Cascade.Processed,
			MaxDepth:      s.Cascade.MaxDepth,
			CycleDetected: s.Cascade.CycleDetected,
			TimedOut:      s.Cascade.TimedOut,
			DepthExceeded: s.Cascade.DepthExceeded,
			Elapsed:       s.Cascade.Elapsed.String(),
		}
	}
	if s.Apply != nil {
		conflicts := make([]string, len(s.Apply.Conflicts))
		for i, ref := range s.Apply.Conflicts {
			conflicts[i] = ref.String()
		}
		dto.Apply = ApplyDTO{
			CellsWritten: s.Apply.CellsWritten,
			Skipped:      s.Apply.Skipped,
			Conflicts:    conflicts,
			LockTimeouts: s.Apply.LockTimeouts,
		}
	}
	return dto
}
