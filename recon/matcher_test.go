package recon_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/warp/recon-engine/generic"
	"github.com/warp/recon-engine/recon"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

func day(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func ars(v float64) generic.Amount { return generic.NewAmount(v, generic.ARS) }
func usd(v float64) generic.Amount { return generic.NewAmount(v, generic.USD) }

func debit(desc string, amount generic.Amount, on generic.TimePoint) recon.BankMovement {
	return recon.BankMovement{
		Row:         recon.RowRef{Region: "movements", Index: 1},
		Date:        on,
		Description: desc,
		Debit:       &amount,
	}
}

func credit(desc string, amount generic.Amount, on generic.TimePoint) recon.BankMovement {
	return recon.BankMovement{
		Row:         recon.RowRef{Region: "movements", Index: 2},
		Date:        on,
		Description: desc,
		Credit:      &amount,
	}
}

func newMatcher() *recon.Matcher {
	return recon.NewMatcher(recon.DefaultMatcherConfig(), recon.NewStaticRateProvider())
}

// =============================================================================
// SPECIAL-CASE CLASSIFICATION
// =============================================================================

func TestMatch_BankFeeBeforeAmountValidation(t *testing.T) {
	// GIVEN: A fee line with neither debit nor credit populated
	// WHEN: Matched
	// THEN: Classified as bank fee at HIGH - vocabulary runs before any
	//       amount or date validation

	mv := recon.BankMovement{
		Row:         recon.RowRef{Region: "movements", Index: 3},
		Description: "COMISION MANTENIMIENTO CUENTA",
	}
	result, err := newMatcher().Match(context.Background(), mv, recon.NewDocumentPool())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchBankFee {
		t.Fatalf("expected bank-fee, got %s", result.Type)
	}
	if result.Confidence != recon.ConfidenceHigh {
		t.Errorf("expected HIGH, got %s", result.Confidence)
	}
	if result.Claims() {
		t.Error("a bank-fee classification must not claim a document")
	}
}

func TestMatch_CardPayment(t *testing.T) {
	mv := debit("PAGO TARJETA VISA 001234", ars(15000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, recon.NewDocumentPool())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchCardPayment || result.Confidence != recon.ConfidenceHigh {
		t.Errorf("expected card-payment HIGH, got %s %s", result.Type, result.Confidence)
	}
}

func TestMatch_FeeVocabularyIsWordBounded(t *testing.T) {
	// GIVEN: A description where a fee term appears only inside a longer word
	// THEN: It must not classify as a fee

	pool := recon.NewDocumentPool()
	mv := debit("IVANOV CONSULTORES 4500", ars(4500), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type == recon.MatchBankFee {
		t.Error("substring \"IVA\" inside IVANOV must not classify as a fee")
	}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestMatch_EmptyDateIsError(t *testing.T) {
	mv := recon.BankMovement{
		Row:         recon.RowRef{Region: "movements", Index: 4},
		Description: "TRANSFERENCIA PROVEEDOR",
	}
	amount := ars(100)
	mv.Debit = &amount

	_, err := newMatcher().Match(context.Background(), mv, recon.NewDocumentPool())
	if !errors.Is(err, generic.ErrUnparsableDate) {
		t.Fatalf("expected ErrUnparsableDate, got %v", err)
	}
}

func TestMatch_NoAmountIsNoMatch(t *testing.T) {
	mv := recon.BankMovement{
		Row:         recon.RowRef{Region: "movements", Index: 5},
		Date:        day(2025, time.March, 10),
		Description: "TRANSFERENCIA PROVEEDOR",
	}
	result, err := newMatcher().Match(context.Background(), mv, recon.NewDocumentPool())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchNone {
		t.Errorf("expected no-match, got %s", result.Type)
	}
}

// =============================================================================
// DIRECT DOCUMENT MATCH
// =============================================================================

func TestMatch_DirectExactClose_High(t *testing.T) {
	// GIVEN: An exact-amount invoice one day away
	// THEN: HIGH confidence direct match

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0001", Date: day(2025, time.March, 9), Total: ars(125000),
		CounterpartyName: "ACERO SUR",
	}})

	mv := debit("TRANSF ACERO SUR", ars(125000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchDirectDocument || result.DocID != "FC-A-0001" {
		t.Fatalf("expected direct match on FC-A-0001, got %s %s", result.Type, result.DocID)
	}
	if result.Confidence != recon.ConfidenceHigh {
		t.Errorf("exact amount 1 day apart should be HIGH, got %s", result.Confidence)
	}
	if !result.Quality.ExactAmount {
		t.Error("quality should record an exact amount")
	}
}

func TestMatch_DirectExactFar_Medium(t *testing.T) {
	// GIVEN: An exact-amount invoice 5 days away (inside the window,
	//        outside the close-date threshold)
	// THEN: MEDIUM

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0002", Date: day(2025, time.March, 5), Total: ars(98000),
	}})

	mv := debit("PAGO PROVEEDOR", ars(98000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != recon.ConfidenceMedium {
		t.Errorf("exact but distant should be MEDIUM, got %s", result.Confidence)
	}
}

func TestMatch_DirectOutsideWindow_NoMatch(t *testing.T) {
	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0003", Date: day(2025, time.March, 1), Total: ars(98000),
	}})

	mv := debit("PAGO PROVEEDOR", ars(98000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchNone {
		t.Errorf("9 days apart should not match, got %s", result.Type)
	}
}

func TestMatch_TaxIDLiftsToleranceMatch(t *testing.T) {
	// GIVEN: An amount off by 0.50 (inside tolerance) and a checksum-valid
	//        tax id in the description matching the document
	// THEN: LOW lifted to MEDIUM

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0004", Date: day(2025, time.March, 10), Total: ars(50000.50),
		TaxID: "20123456786",
	}})

	mv := debit("TRANSF CUIT 20-12345678-6", ars(50000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DocID != "FC-A-0004" {
		t.Fatalf("expected FC-A-0004, got %q", result.DocID)
	}
	if result.Confidence != recon.ConfidenceMedium {
		t.Errorf("tolerance match with tax id should lift to MEDIUM, got %s", result.Confidence)
	}
	if !result.Quality.TaxIDMatch {
		t.Error("quality should record the tax-id correspondence")
	}
}

func TestMatch_DirectionFilter(t *testing.T) {
	// GIVEN: A credit movement and only received invoices in the pool
	// THEN: No match - credits reconcile against issued documents

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0005", Date: day(2025, time.March, 10), Total: ars(70000),
	}})

	mv := credit("ACREDITACION CLIENTE", ars(70000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claims() {
		t.Errorf("credit must not claim a received invoice, got %s", result.DocID)
	}
}

// =============================================================================
// CROSS-CURRENCY
// =============================================================================

func TestMatch_CrossCurrency_CappedAtLowWithoutTaxID(t *testing.T) {
	// GIVEN: A USD 100 invoice, movement ARS 85,000, sell rate 850
	// THEN: The amounts line up exactly after conversion, but confidence is
	//       capped at LOW because no tax id corroborates

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-E-0001", Date: day(2025, time.March, 10), Total: usd(100),
	}})

	mv := debit("PAGO EXTERIOR", ars(85000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DocID != "FC-E-0001" {
		t.Fatalf("expected cross-currency match, got %s %q", result.Type, result.DocID)
	}
	if result.Confidence != recon.ConfidenceLow {
		t.Errorf("cross-currency without tax id must be LOW, got %s", result.Confidence)
	}
}

func TestMatch_CrossCurrency_TaxIDGivesMediumNeverHigh(t *testing.T) {
	// GIVEN: The same conversion with a matching tax id, same-day, exact
	// THEN: MEDIUM - the hard cap holds even for a perfect conversion

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-E-0002", Date: day(2025, time.March, 10), Total: usd(100),
		TaxID: "30712345671",
	}})

	mv := debit("PAGO EXTERIOR CUIT 30-71234567-1", ars(85000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != recon.ConfidenceMedium {
		t.Errorf("cross-currency with tax id must be MEDIUM, got %s", result.Confidence)
	}
	if !strings.Contains(result.Rationale, "sell rate") {
		t.Errorf("rationale should mention the conversion, got %q", result.Rationale)
	}
}

func TestMatch_CrossCurrencyNarrowWindow(t *testing.T) {
	// GIVEN: A conversion-exact USD invoice 3 days away
	// THEN: Rejected - cross-currency candidates get the 2-day window

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-E-0003", Date: day(2025, time.March, 7), Total: usd(100),
	}})

	mv := debit("PAGO EXTERIOR", ars(85000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claims() {
		t.Errorf("3 days exceeds the cross-currency window, got %s", result.DocID)
	}
}

// =============================================================================
// WITHHOLDING NETTING
// =============================================================================

func TestMatch_WithholdingNetting(t *testing.T) {
	// GIVEN: Invoice 100,000; withholdings 7,000 and 3,000 for the same
	//        counterparty inside the lookback window; movement 90,000
	// WHEN: Matched
	// THEN: The invoice matches net of both certificates, exact, HIGH

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0100", Date: day(2025, time.March, 10), Total: ars(100000),
		TaxID: "30543210982",
	}})
	pool.Add(recon.Withholding{DocumentBase: recon.DocumentBase{
		ID: "RET-1", Date: day(2025, time.March, 11), Total: ars(7000),
		TaxID: "30543210982",
	}})
	pool.Add(recon.Withholding{DocumentBase: recon.DocumentBase{
		ID: "RET-2", Date: day(2025, time.March, 12), Total: ars(3000),
		TaxID: "30543210982",
	}})
	// Decoy certificate for an unrelated counterparty.
	pool.Add(recon.Withholding{DocumentBase: recon.DocumentBase{
		ID: "RET-3", Date: day(2025, time.March, 11), Total: ars(5000),
		TaxID: "20999999999",
	}})

	mv := debit("PAGO PROVEEDOR", ars(90000), day(2025, time.March, 12))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.DocID != "FC-A-0100" {
		t.Fatalf("expected the netted invoice, got %s %q", result.Type, result.DocID)
	}
	if result.Confidence != recon.ConfidenceHigh {
		t.Errorf("netted exact match 2 days apart should be HIGH, got %s", result.Confidence)
	}
	if !result.Quality.ExactAmount {
		t.Error("netting to the exact movement amount should record exactness")
	}
	if !strings.Contains(result.Rationale, "withholding") {
		t.Errorf("rationale must report the netting, got %q", result.Rationale)
	}
}

func TestMatch_NettingRespectsWindow(t *testing.T) {
	// GIVEN: The only reconciling certificate dated before the invoice
	// THEN: Not eligible, no match

	pool := recon.NewDocumentPool()
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0101", Date: day(2025, time.March, 10), Total: ars(100000),
		TaxID: "30543210982",
	}})
	pool.Add(recon.Withholding{DocumentBase: recon.DocumentBase{
		ID: "RET-4", Date: day(2025, time.March, 1), Total: ars(10000),
		TaxID: "30543210982",
	}})

	mv := debit("PAGO PROVEEDOR", ars(90000), day(2025, time.March, 12))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Claims() {
		t.Errorf("certificate predating the invoice must not net, got %s", result.DocID)
	}
}

// =============================================================================
// PAYMENT RULES
// =============================================================================

func TestMatch_LinkedPaymentPreferredOverInvoice(t *testing.T) {
	// GIVEN: A linked payment and a direct invoice, both exact
	// THEN: The linked payment wins the rule order

	pool := recon.NewDocumentPool()
	pool.Add(recon.PaymentSent{DocumentBase: recon.DocumentBase{
		ID: "OP-1", Date: day(2025, time.March, 10), Total: ars(40000),
		LinkedID: "FC-A-0200",
	}})
	pool.Add(recon.InvoiceReceived{DocumentBase: recon.DocumentBase{
		ID: "FC-A-0200", Date: day(2025, time.March, 10), Total: ars(40000),
	}})

	mv := debit("TRANSF PROVEEDOR", ars(40000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchPaymentWithLinked || result.DocID != "OP-1" {
		t.Fatalf("expected payment-with-linked on OP-1, got %s %q", result.Type, result.DocID)
	}
	if !result.Quality.HasDownstreamLink {
		t.Error("quality should record the downstream link")
	}
}

func TestMatch_LinkedPaymentInheritsHighConfidence(t *testing.T) {
	pool := recon.NewDocumentPool()
	pool.Add(recon.PaymentSent{DocumentBase: recon.DocumentBase{
		ID: "OP-2", Date: day(2025, time.March, 10), Total: ars(40000),
		LinkedID: "FC-A-0201", Confidence: recon.ConfidenceHigh,
	}})

	mv := debit("TRANSF PROVEEDOR", ars(40000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence != recon.ConfidenceHigh {
		t.Errorf("HIGH existing link should carry through, got %s", result.Confidence)
	}
}

func TestMatch_PaymentOnlyFlagsManualReview(t *testing.T) {
	// GIVEN: An unlinked payment matching by amount and date
	// THEN: MEDIUM, rationale flagged for manual review

	pool := recon.NewDocumentPool()
	pool.Add(recon.PaymentSent{DocumentBase: recon.DocumentBase{
		ID: "OP-3", Date: day(2025, time.March, 10), Total: ars(25000),
	}})

	mv := debit("TRANSF PROVEEDOR", ars(25000), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, pool)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchPaymentOnly || result.Confidence != recon.ConfidenceMedium {
		t.Fatalf("expected payment-only MEDIUM, got %s %s", result.Type, result.Confidence)
	}
	if !strings.Contains(result.Rationale, "MANUAL REVIEW") {
		t.Errorf("rationale must flag manual review, got %q", result.Rationale)
	}
}

// =============================================================================
// ORIGIN-CODE STRIPPING
// =============================================================================

func TestMatch_OriginCodeNeverScores(t *testing.T) {
	// GIVEN: A leading channel code that happens to look meaningful
	// THEN: It is stripped before vocabulary matching; the rest classifies

	mv := debit("0423 - COMISION TRANSFERENCIA", ars(350), day(2025, time.March, 10))
	result, err := newMatcher().Match(context.Background(), mv, recon.NewDocumentPool())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Type != recon.MatchBankFee {
		t.Errorf("expected bank-fee after stripping, got %s", result.Type)
	}
}
