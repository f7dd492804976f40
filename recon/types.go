/*
Package recon implements the bank reconciliation matching engine.

PURPOSE:
  Reconciles bank statement lines against accounting documents (invoices,
  payments, receipts, tax withholdings). The candidate matcher scores
  documents against one movement; the comparator decides whether a new
  candidate should displace an existing assignment; the cascade engine
  keeps the whole pool of assignments globally consistent as better
  candidates appear.

KEY CONCEPTS IN THIS FILE (types.go):
  - BankMovement: One bank statement line with an optional existing match
  - Document: Sum type over the six accounting document kinds
  - MatchQuality: The comparable judgment attached to every match
  - MatchResult: The outcome of matching one movement
  - RowUpdate: The only mutation the engine ever emits

DESIGN PRINCIPLES:
  1. Documents are read-only inputs; mutations are output update records
  2. MatchQuality and MatchResult are values, never mutated after build
  3. Document variants are distinct types, matched exhaustively - no
     string-keyed type tests

SEE ALSO:
  - matcher.go: Candidate scoring
  - compare.go: The displacement order
  - cascade.go: The displacement engine
*/
package recon

import (
	"fmt"

	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// ROW IDENTITY
// =============================================================================

// RowRef identifies a row inside its source region.
type RowRef struct {
	Region string
	Index  int
}

func (r RowRef) String() string { return fmt.Sprintf("%s[%d]", r.Region, r.Index) }

// =============================================================================
// BANK MOVEMENT - One bank statement line
// =============================================================================

type BankMovement struct {
	Row         RowRef
	Date        generic.TimePoint
	ValueDate   generic.TimePoint
	Description string

	// At most one of Debit/Credit is non-nil and positive. A movement with
	// neither is not matchable and is skipped.
	Debit  *generic.Amount
	Credit *generic.Amount

	// Existing match annotation from a prior run. Empty when unmatched.
	MatchedDocID string
	MatchDetail  string
}

// Amount returns the single populated side. ok is false when the movement
// carries neither a debit nor a credit.
func (m BankMovement) Amount() (generic.Amount, bool) {
	switch {
	case m.Debit != nil && m.Debit.IsPositive():
		return *m.Debit, true
	case m.Credit != nil && m.Credit.IsPositive():
		return *m.Credit, true
	default:
		return generic.Amount{}, false
	}
}

// IsDebit reports which side the movement is on. Only meaningful when
// Amount() returns ok.
func (m BankMovement) IsDebit() bool { return m.Debit != nil && m.Debit.IsPositive() }

// IsMatchable enforces the movement invariant: exactly one positive side.
func (m BankMovement) IsMatchable() bool {
	debit := m.Debit != nil && m.Debit.IsPositive()
	credit := m.Credit != nil && m.Credit.IsPositive()
	return debit != credit
}

// IsMatched reports whether a prior run already annotated this movement.
func (m BankMovement) IsMatched() bool { return m.MatchedDocID != "" }

// Version fingerprints the movement's mutable fields: the annotation being
// written plus the amount/description cells the match decision depends on.
// Row identity stays out - it never changes.
func (m BankMovement) Version() string {
	debit, credit := "", ""
	if m.Debit != nil {
		debit = m.Debit.Value.String()
	}
	if m.Credit != nil {
		credit = m.Credit.Value.String()
	}
	return generic.ContentHash(m.Description, debit, credit, m.MatchedDocID, m.MatchDetail)
}

// =============================================================================
// DOCUMENT - Sum type over accounting document kinds
// =============================================================================

// DocumentBase carries the fields every variant shares.
type DocumentBase struct {
	ID               string
	Date             generic.TimePoint // issue date for invoices, payment date otherwise
	TaxID            string            // counterparty tax id
	TaxID2           string            // secondary tax-id field (e.g. issuing entity), optional
	CounterpartyName string
	Total            generic.Amount

	// LinkedID is a back-reference to another document already linked to
	// this one (payment -> invoice). Empty when none.
	LinkedID string

	// Confidence is the existing confidence tag from a prior match. Empty
	// when the document was never matched.
	Confidence Confidence
}

func (b DocumentBase) DocID() string               { return b.ID }
func (b DocumentBase) DocDate() generic.TimePoint  { return b.Date }
func (b DocumentBase) DocTotal() generic.Amount    { return b.Total }
func (b DocumentBase) DocCounterparty() string     { return b.CounterpartyName }
func (b DocumentBase) LinkedDocID() string         { return b.LinkedID }
func (b DocumentBase) MatchConfidence() Confidence { return b.Confidence }

// DocTaxIDs returns the populated tax-id fields, primary first.
func (b DocumentBase) DocTaxIDs() []string {
	ids := make([]string, 0, 2)
	if b.TaxID != "" {
		ids = append(ids, b.TaxID)
	}
	if b.TaxID2 != "" {
		ids = append(ids, b.TaxID2)
	}
	return ids
}

// Document is the closed sum over the six document kinds. Only the variant
// types below implement it.
type Document interface {
	DocID() string
	DocDate() generic.TimePoint
	DocTaxIDs() []string
	DocTotal() generic.Amount
	DocCounterparty() string
	LinkedDocID() string
	MatchConfidence() Confidence

	isDocument()
}

type InvoiceIssued struct{ DocumentBase }
type InvoiceReceived struct{ DocumentBase }
type PaymentSent struct{ DocumentBase }
type PaymentReceived struct{ DocumentBase }
type Receipt struct{ DocumentBase }
type Withholding struct{ DocumentBase }

func (InvoiceIssued) isDocument()   {}
func (InvoiceReceived) isDocument() {}
func (PaymentSent) isDocument()     {}
func (PaymentReceived) isDocument() {}
func (Receipt) isDocument()         {}
func (Withholding) isDocument()     {}

// DocKind names a variant for logging and update records.
type DocKind string

const (
	KindInvoiceIssued   DocKind = "invoice_issued"
	KindInvoiceReceived DocKind = "invoice_received"
	KindPaymentSent     DocKind = "payment_sent"
	KindPaymentReceived DocKind = "payment_received"
	KindReceipt         DocKind = "receipt"
	KindWithholding     DocKind = "withholding"
)

// KindOf is the exhaustive variant switch.
func KindOf(d Document) DocKind {
	switch d.(type) {
	case InvoiceIssued:
		return KindInvoiceIssued
	case InvoiceReceived:
		return KindInvoiceReceived
	case PaymentSent:
		return KindPaymentSent
	case PaymentReceived:
		return KindPaymentReceived
	case Receipt:
		return KindReceipt
	case Withholding:
		return KindWithholding
	default:
		// Unreachable: Document is a closed sum.
		panic(fmt.Sprintf("unknown document variant %T", d))
	}
}

// =============================================================================
// DOCUMENT POOL
// =============================================================================

// DocumentPool holds the candidate documents for one reconciliation run,
// separated by variant with a shared id index. Read-only during a run.
type DocumentPool struct {
	InvoicesIssued   []InvoiceIssued
	InvoicesReceived []InvoiceReceived
	PaymentsSent     []PaymentSent
	PaymentsReceived []PaymentReceived
	Receipts         []Receipt
	Withholdings     []Withholding

	byID map[string]Document
}

func NewDocumentPool() *DocumentPool {
	return &DocumentPool{byID: make(map[string]Document)}
}

// Add indexes and stores a document in its variant slice.
func (p *DocumentPool) Add(d Document) {
	switch v := d.(type) {
	case InvoiceIssued:
		p.InvoicesIssued = append(p.InvoicesIssued, v)
	case InvoiceReceived:
		p.InvoicesReceived = append(p.InvoicesReceived, v)
	case PaymentSent:
		p.PaymentsSent = append(p.PaymentsSent, v)
	case PaymentReceived:
		p.PaymentsReceived = append(p.PaymentsReceived, v)
	case Receipt:
		p.Receipts = append(p.Receipts, v)
	case Withholding:
		p.Withholdings = append(p.Withholdings, v)
	}
	p.byID[d.DocID()] = d
}

// FindByID looks a document up by id. Misses return ErrDocumentNotFound -
// callers log and keep existing state, never abort.
func (p *DocumentPool) FindByID(id string) (Document, error) {
	if d, ok := p.byID[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", generic.ErrDocumentNotFound, id)
}

// Size is the total document count across variants.
func (p *DocumentPool) Size() int { return len(p.byID) }

// Without derives a pool view excluding the given document ids. The
// receiver is not modified. Withholdings are never excluded: they are
// consumed through netting, not claimed directly.
func (p *DocumentPool) Without(excluded map[string]bool) *DocumentPool {
	if len(excluded) == 0 {
		return p
	}
	out := NewDocumentPool()
	for _, d := range p.InvoicesIssued {
		if !excluded[d.ID] {
			out.Add(d)
		}
	}
	for _, d := range p.InvoicesReceived {
		if !excluded[d.ID] {
			out.Add(d)
		}
	}
	for _, d := range p.PaymentsSent {
		if !excluded[d.ID] {
			out.Add(d)
		}
	}
	for _, d := range p.PaymentsReceived {
		if !excluded[d.ID] {
			out.Add(d)
		}
	}
	for _, d := range p.Receipts {
		if !excluded[d.ID] {
			out.Add(d)
		}
	}
	for _, d := range p.Withholdings {
		out.Add(d)
	}
	return out
}

// =============================================================================
// CONFIDENCE
// =============================================================================

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Rank orders confidence tiers: HIGH=3, MEDIUM=2, LOW=1, unset=0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// =============================================================================
// MATCH QUALITY - The comparable judgment
// =============================================================================

// MatchQuality carries everything the comparator needs. Immutable;
// constructed fresh per comparison.
type MatchQuality struct {
	Confidence        Confidence
	TaxIDMatch        bool
	DateDistanceDays  int
	ExactAmount       bool
	HasDownstreamLink bool
}

// =============================================================================
// MATCH RESULT
// =============================================================================

type MatchType string

const (
	MatchDirectDocument    MatchType = "direct-document"
	MatchPaymentWithLinked MatchType = "payment-with-linked-document"
	MatchPaymentOnly       MatchType = "payment-only"
	MatchBankFee           MatchType = "bank-fee"
	MatchCardPayment       MatchType = "card-payment"
	MatchNone              MatchType = "no-match"
)

// MatchResult is produced once per movement per matching pass.
type MatchResult struct {
	Type       MatchType
	DocID      string // empty for bank-fee, card-payment, no-match
	Confidence Confidence
	Rationale  string
	Reasons    []string // ordered audit trail
	Quality    MatchQuality
}

// Claims reports whether the result claims a document.
func (r MatchResult) Claims() bool { return r.DocID != "" }

// =============================================================================
// ROW UPDATE - The engine's only output mutation
// =============================================================================

// RowUpdate annotates (or clears) one movement row's match columns.
type RowUpdate struct {
	Row     RowRef
	DocID   string
	Detail  string
	Version string // movement version captured at read time
	Clear   bool   // true = unmatch: clear the existing annotation
}
