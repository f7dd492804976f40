/*
handlers.go - HTTP API handlers for the reconciliation engine

PURPOSE:
  Exposes the reconciliation service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  POST /api/reconcile   Run a reconciliation for one store
  GET  /api/runs/last   Last run summary
  GET  /api/health      Liveness check

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed input rows
  - 404: Not found
  - 409: Version conflict or lock timeout
  - 429: Backend rate limit exhausted the retry schedule
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/warp/recon-engine/generic"
	"github.com/warp/recon-engine/recon"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *recon.Service
}

// NewHandler creates a new handler over the reconciliation service.
func NewHandler(service *recon.Service) *Handler {
	return &Handler{Service: service}
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// Reconcile runs one reconciliation for the requested store.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StoreID == "" {
		writeError(w, http.StatusBadRequest, "store_id is required", nil)
		return
	}

	summary, err := h.Service.Reconcile(r.Context(), req.StoreID)
	if err != nil {
		writeError(w, statusFor(err), "Reconciliation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunSummaryDTO(summary))
}

// LastRun returns the most recent run summary.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	summary := h.Service.LastRun()
	if summary == nil {
		writeError(w, http.StatusNotFound, "No reconciliation has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunSummaryDTO(summary))
}

// Health is the liveness check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case generic.IsInputShape(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsRateLimited(err):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
