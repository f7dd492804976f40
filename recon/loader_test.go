package recon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/warp/recon-engine/generic"
	genstore "github.com/warp/recon-engine/generic/store"
	"github.com/warp/recon-engine/recon"
	"github.com/warp/recon-engine/recon/mocks"
)

// =============================================================================
// MOVEMENT PARSING
// =============================================================================

func TestLoadMovements(t *testing.T) {
	// GIVEN: A movements region with a header and mixed rows
	// THEN: Columns resolve by name; annotations and both sides parse

	mem := genstore.NewMemory()
	mem.Seed("acme", "movements", [][]string{
		{"date", "description", "debit", "credit", "currency", "matched_doc_id", "match_detail"},
		{"2025-03-10", "TRANSF ACERO SUR", "125000", "", "", "", ""},
		{"2025-03-11", "ACRED CLIENTE", "", "70000.50", "ARS", "FC-B-1", "direct-document [HIGH]"},
		{"", "", "", "", "", "", ""}, // blank row, skipped
		{"2025-03-12", "PAGO EXTERIOR", "85000", "", "USD", "", ""},
	})

	movements, err := recon.NewLoader(mem).LoadMovements(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(movements))
	}

	m0 := movements[0]
	if !m0.IsDebit() || m0.Debit.Value.String() != "125000" {
		t.Errorf("row 1: expected debit 125000, got %+v", m0)
	}
	if m0.Row.Index != 1 || m0.Row.Region != "movements" {
		t.Errorf("row 1: wrong row ref %+v", m0.Row)
	}

	m1 := movements[1]
	if m1.IsDebit() || m1.Credit == nil {
		t.Errorf("row 2: expected credit side, got %+v", m1)
	}
	if m1.MatchedDocID != "FC-B-1" || !m1.IsMatched() {
		t.Errorf("row 2: annotation not loaded: %+v", m1)
	}

	m2 := movements[2]
	if m2.Debit.Currency != generic.USD {
		t.Errorf("row 4: expected USD debit, got %s", m2.Debit.Currency)
	}
}

func TestLoadMovements_MissingRequiredColumn(t *testing.T) {
	// GIVEN: A header without the debit column
	// THEN: A hard MissingColumnError - never defaulted

	mem := genstore.NewMemory()
	mem.Seed("acme", "movements", [][]string{
		{"date", "description", "credit"},
		{"2025-03-10", "TRANSF", "100"},
	})

	_, err := recon.NewLoader(mem).LoadMovements(context.Background(), "acme")
	if !errors.Is(err, generic.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	var mce *generic.MissingColumnError
	if !errors.As(err, &mce) || mce.Column != "debit" {
		t.Errorf("expected structured error naming the debit column, got %v", err)
	}
	if !generic.IsInputShape(err) {
		t.Error("missing column should classify as an input-shape error")
	}
}

func TestLoadMovements_BothSidesLoadedButUnmatchable(t *testing.T) {
	mem := genstore.NewMemory()
	mem.Seed("acme", "movements", [][]string{
		{"date", "description", "debit", "credit"},
		{"2025-03-10", "AMBIGUO", "100", "100"},
	})

	movements, err := recon.NewLoader(mem).LoadMovements(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected the row to load, got %d", len(movements))
	}
	if movements[0].IsMatchable() {
		t.Error("a movement with both sides set must not be matchable")
	}
}

// =============================================================================
// DOCUMENT PARSING
// =============================================================================

func TestLoadDocuments(t *testing.T) {
	// GIVEN: Two populated regions, the rest absent
	// THEN: Absent regions load as empty, variants land in their slices

	mem := genstore.NewMemory()
	mem.Seed("acme", "invoices_received", [][]string{
		{"id", "date", "tax_id", "counterparty", "total", "currency", "linked_id", "confidence"},
		{"FC-A-1", "2025-03-09", "20123456786", "ACERO SUR", "125000", "", "", "LOW"},
		{"FC-A-2", "2025-03-10", "", "GAMMA", "notanumber", "", "", ""}, // dropped
	})
	mem.Seed("acme", "withholdings", [][]string{
		{"id", "date", "tax_id", "total"},
		{"RET-1", "2025-03-11", "20123456786", "7000"},
	})

	pool, err := recon.NewLoader(mem).LoadDocuments(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.Size() != 2 {
		t.Fatalf("expected 2 documents (unparsable total dropped), got %d", pool.Size())
	}
	if len(pool.InvoicesReceived) != 1 || len(pool.Withholdings) != 1 {
		t.Errorf("variant slices wrong: %d invoices, %d withholdings",
			len(pool.InvoicesReceived), len(pool.Withholdings))
	}

	doc, err := pool.FindByID("FC-A-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if doc.MatchConfidence() != recon.ConfidenceLow {
		t.Errorf("stored confidence not parsed: %s", doc.MatchConfidence())
	}
	if _, err := pool.FindByID("missing"); !generic.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestLoadDocuments_MissingIDColumn(t *testing.T) {
	mem := genstore.NewMemory()
	mem.Seed("acme", "receipts", [][]string{
		{"date", "total"},
		{"2025-03-10", "500"},
	})

	_, err := recon.NewLoader(mem).LoadDocuments(context.Background(), "acme")
	if !errors.Is(err, generic.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

// =============================================================================
// STORE FAILURES
// =============================================================================

func TestLoadMovements_FetchErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockRowStore(ctrl)
	store.EXPECT().
		FetchRows(gomock.Any(), "acme", "movements").
		Return(nil, errors.New("backend unavailable"))

	_, err := recon.NewLoader(store).LoadMovements(context.Background(), "acme")
	if err == nil {
		t.Fatal("expected the fetch error to propagate")
	}
}

// =============================================================================
// DATE PARSING (shared with the loader)
// =============================================================================

func TestParseDay_Layouts(t *testing.T) {
	want := generic.NewTimePoint(2025, time.March, 10)

	for _, s := range []string{"2025-03-10", "10/03/2025"} {
		got, err := generic.ParseDay(s)
		if err != nil || !got.Equal(want) {
			t.Errorf("ParseDay(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := generic.ParseDay("10 de marzo"); !errors.Is(err, generic.ErrUnparsableDate) {
		t.Error("expected ErrUnparsableDate for free text")
	}
}
