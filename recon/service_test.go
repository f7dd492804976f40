package recon_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/recon-engine/generic"
	genstore "github.com/warp/recon-engine/generic/store"
	"github.com/warp/recon-engine/recon"
)

// =============================================================================
// END-TO-END RUNS (in-memory store)
// =============================================================================

func newService(store generic.RowStore) *recon.Service {
	matcher := recon.NewMatcher(recon.DefaultMatcherConfig(), recon.NewStaticRateProvider())
	engine := recon.NewCascadeEngine(matcher, recon.DefaultCascadeConfig())
	applier := recon.NewApplier(store, generic.NewLockRegistry(), generic.NewQuotaThrottle(generic.DefaultThrottleConfig()))
	return recon.NewService(recon.NewLoader(store), engine, applier)
}

func TestReconcile_EndToEnd(t *testing.T) {
	// GIVEN: A store with one matchable movement, one fee line, and the
	//        matching invoice
	// WHEN: Reconcile runs
	// THEN: The annotation lands in the store and the run is remembered

	mem := genstore.NewMemory()
	mem.Seed("acme", "movements", [][]string{
		{"date", "description", "debit", "credit", "matched_doc_id", "match_detail"},
		{"2025-03-10", "TRANSF ACERO SUR", "125000", "", "", ""},
		{"2025-03-10", "COMISION MANTENIMIENTO", "350", "", "", ""},
	})
	mem.Seed("acme", "invoices_received", [][]string{
		{"id", "date", "tax_id", "counterparty", "total"},
		{"FC-A-1", "2025-03-09", "20123456786", "ACERO SUR", "125000"},
	})

	service := newService(mem)
	summary, err := service.Reconcile(context.Background(), "acme")
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 2, summary.Movements)
	assert.Equal(t, 1, summary.Documents)
	require.NotNil(t, summary.Cascade)
	require.NotNil(t, summary.Apply)
	assert.Greater(t, summary.Apply.CellsWritten, 0)

	// The invoice claim is persisted.
	after, err := recon.NewLoader(mem).LoadMovements(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "FC-A-1", after[0].MatchedDocID)
	assert.Contains(t, after[0].MatchDetail, "HIGH")

	// The fee line is annotated without claiming a document.
	assert.Empty(t, after[1].MatchedDocID)
	assert.Contains(t, after[1].MatchDetail, "bank-fee")

	// The run is remembered for the API.
	require.NotNil(t, service.LastRun())
	assert.Equal(t, "acme", service.LastRun().StoreID)
}

func TestReconcile_SecondRunIsIdempotent(t *testing.T) {
	// Running again over the settled state emits no further updates.

	mem := genstore.NewMemory()
	mem.Seed("acme", "movements", [][]string{
		{"date", "description", "debit", "credit", "matched_doc_id", "match_detail"},
		{"2025-03-10", "TRANSF ACERO SUR", "125000", "", "", ""},
	})
	mem.Seed("acme", "invoices_received", [][]string{
		{"id", "date", "tax_id", "counterparty", "total"},
		{"FC-A-1", "2025-03-09", "20123456786", "ACERO SUR", "125000"},
	})

	service := newService(mem)
	_, err := service.Reconcile(context.Background(), "acme")
	require.NoError(t, err)

	second, err := service.Reconcile(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, second.Cascade.Updates, "a settled store must not churn")
	assert.Zero(t, second.Apply.CellsWritten)
}

func TestReconcile_MissingColumnAbortsBeforeMatching(t *testing.T) {
	mem := genstore.NewMemory()
	mem.Seed("acme", "movements", [][]string{
		{"date", "description"}, // no amount columns
		{"2025-03-10", "TRANSF"},
	})

	_, err := newService(mem).Reconcile(context.Background(), "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrMissingColumn)
}
