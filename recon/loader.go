/*
loader.go - Row parsing: raw store rows into the domain model

PURPOSE:
  Turns the raw string grid a RowStore serves into typed movements and
  documents. The first row of every region is a header; columns are
  resolved by name, never by fixed position, so sheet owners can reorder
  columns freely.

PARSING POLICY:
  - A missing REQUIRED header is a hard error (MissingColumnError) - the
    run aborts before any matching happens. Defaulting a required column
    would silently reconcile against garbage.
  - Optional columns (annotations, secondary tax id) default to empty.
  - A cell that fails to parse invalidates only its own row feature:
    movements with unparsable amounts load as unmatchable rather than
    killing the run; documents with no parsable total are dropped with a
    log line.

SEE ALSO:
  - generic/store.go: The RowStore contract
  - types.go: The target model
*/
package recon

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// REGIONS
// =============================================================================

const (
	RegionMovements        = "movements"
	RegionInvoicesIssued   = "invoices_issued"
	RegionInvoicesReceived = "invoices_received"
	RegionPaymentsSent     = "payments_sent"
	RegionPaymentsReceived = "payments_received"
	RegionReceipts         = "receipts"
	RegionWithholdings     = "withholdings"
)

// DocumentRegions lists the document-bearing regions in load order.
var DocumentRegions = []string{
	RegionInvoicesIssued, RegionInvoicesReceived, RegionPaymentsSent,
	RegionPaymentsReceived, RegionReceipts, RegionWithholdings,
}

// Movement column names.
const (
	ColDate        = "date"
	ColValueDate   = "value_date"
	ColDescription = "description"
	ColDebit       = "debit"
	ColCredit      = "credit"
	ColCurrency    = "currency"
	ColMatchedDoc  = "matched_doc_id"
	ColMatchDetail = "match_detail"
)

// Document column names.
const (
	ColID           = "id"
	ColTaxID        = "tax_id"
	ColTaxID2       = "tax_id_2"
	ColCounterparty = "counterparty"
	ColTotal        = "total"
	ColLinkedID     = "linked_id"
	ColConfidence   = "confidence"
)

// =============================================================================
// LOADER
// =============================================================================

type Loader struct {
	Store generic.RowStore
}

func NewLoader(store generic.RowStore) *Loader {
	return &Loader{Store: store}
}

// =============================================================================
// HEADER RESOLUTION
// =============================================================================

// columnMap resolves header names to column indices. Names are compared
// case-insensitively with surrounding whitespace ignored.
type columnMap struct {
	region string
	byName map[string]int
}

func newColumnMap(region string, header generic.Row) columnMap {
	byName := make(map[string]int, len(header.Cells))
	for i, cell := range header.Cells {
		name := strings.ToLower(strings.TrimSpace(cell))
		if name == "" {
			continue
		}
		if _, dup := byName[name]; !dup {
			byName[name] = i
		}
	}
	return columnMap{region: region, byName: byName}
}

// require returns the index of a required column or a MissingColumnError.
func (c columnMap) require(name string) (int, error) {
	if i, ok := c.byName[name]; ok {
		return i, nil
	}
	return 0, &generic.MissingColumnError{Region: c.region, Row: 0, Column: name}
}

// optional returns the index of an optional column, -1 when absent.
func (c columnMap) optional(name string) int {
	if i, ok := c.byName[name]; ok {
		return i
	}
	return -1
}

// cell reads a column from a row; absent columns and ragged rows read as "".
func cell(row generic.Row, idx int) string {
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(row.Cell(idx))
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// LoadMovements parses the movements region. Movements with unparsable or
// absent amounts are still returned - they carry their annotations and are
// simply unmatchable.
func (l *Loader) LoadMovements(ctx context.Context, storeID string) ([]BankMovement, error) {
	rows, err := l.Store.FetchRows(ctx, storeID, RegionMovements)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", RegionMovements, err)
	}
	movements, err := ParseMovements(rows)
	if err != nil {
		return nil, err
	}
	log.Printf("[Loader] %s: %d movement(s) loaded from %d row(s)",
		storeID, len(movements), max(len(rows)-1, 0))
	return movements, nil
}

// ParseMovements parses already-fetched movement rows. The applier uses it
// to re-read row state under a lock without going through the loader.
func ParseMovements(rows []generic.Row) ([]BankMovement, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	cols := newColumnMap(RegionMovements, rows[0])
	dateCol, err := cols.require(ColDate)
	if err != nil {
		return nil, err
	}
	descCol, err := cols.require(ColDescription)
	if err != nil {
		return nil, err
	}
	debitCol, err := cols.require(ColDebit)
	if err != nil {
		return nil, err
	}
	creditCol, err := cols.require(ColCredit)
	if err != nil {
		return nil, err
	}
	valueDateCol := cols.optional(ColValueDate)
	currencyCol := cols.optional(ColCurrency)
	matchedCol := cols.optional(ColMatchedDoc)
	detailCol := cols.optional(ColMatchDetail)

	movements := make([]BankMovement, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		currency := parseCurrency(cell(row, currencyCol))
		mv := BankMovement{
			Row:          RowRef{Region: RegionMovements, Index: row.Index},
			Description:  cell(row, descCol),
			Debit:        parseAmount(cell(row, debitCol), currency),
			Credit:       parseAmount(cell(row, creditCol), currency),
			MatchedDocID: cell(row, matchedCol),
			MatchDetail:  cell(row, detailCol),
		}
		if date, err := generic.ParseDay(cell(row, dateCol)); err == nil {
			mv.Date = date
		}
		if vd := cell(row, valueDateCol); vd != "" {
			if date, err := generic.ParseDay(vd); err == nil {
				mv.ValueDate = date
			}
		}
		movements = append(movements, mv)
	}
	return movements, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// LoadDocuments parses every document region into one pool. Regions absent
// from the store load as empty, not as errors: a company with no receipts
// still reconciles its invoices.
func (l *Loader) LoadDocuments(ctx context.Context, storeID string) (*DocumentPool, error) {
	pool := NewDocumentPool()
	for _, region := range DocumentRegions {
		rows, err := l.Store.FetchRows(ctx, storeID, region)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", region, err)
		}
		if len(rows) == 0 {
			continue
		}
		if err := l.loadRegion(pool, region, rows); err != nil {
			return nil, err
		}
	}
	log.Printf("[Loader] %s: %d document(s) loaded", storeID, pool.Size())
	return pool, nil
}

func (l *Loader) loadRegion(pool *DocumentPool, region string, rows []generic.Row) error {
	cols := newColumnMap(region, rows[0])
	idCol, err := cols.require(ColID)
	if err != nil {
		return err
	}
	dateCol, err := cols.require(ColDate)
	if err != nil {
		return err
	}
	totalCol, err := cols.require(ColTotal)
	if err != nil {
		return err
	}
	taxCol := cols.optional(ColTaxID)
	tax2Col := cols.optional(ColTaxID2)
	nameCol := cols.optional(ColCounterparty)
	currencyCol := cols.optional(ColCurrency)
	linkedCol := cols.optional(ColLinkedID)
	confCol := cols.optional(ColConfidence)

	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		id := cell(row, idCol)
		if id == "" {
			log.Printf("[Loader] %s row %d: no id, skipped", region, row.Index)
			continue
		}
		currency := parseCurrency(cell(row, currencyCol))
		total := parseAmount(cell(row, totalCol), currency)
		if total == nil {
			log.Printf("[Loader] %s row %d: unparsable total %q, skipped",
				region, row.Index, cell(row, totalCol))
			continue
		}
		base := DocumentBase{
			ID:               id,
			TaxID:            cell(row, taxCol),
			TaxID2:           cell(row, tax2Col),
			CounterpartyName: cell(row, nameCol),
			Total:            *total,
			LinkedID:         cell(row, linkedCol),
			Confidence:       parseConfidence(cell(row, confCol)),
		}
		if date, err := generic.ParseDay(cell(row, dateCol)); err == nil {
			base.Date = date
		} else {
			log.Printf("[Loader] %s row %d: unparsable date %q, skipped",
				region, row.Index, cell(row, dateCol))
			continue
		}
		pool.Add(documentFor(region, base))
	}
	return nil
}

// documentFor wraps a base in the variant matching its source region.
func documentFor(region string, base DocumentBase) Document {
	switch region {
	case RegionInvoicesIssued:
		return InvoiceIssued{base}
	case RegionInvoicesReceived:
		return InvoiceReceived{base}
	case RegionPaymentsSent:
		return PaymentSent{base}
	case RegionPaymentsReceived:
		return PaymentReceived{base}
	case RegionReceipts:
		return Receipt{base}
	case RegionWithholdings:
		return Withholding{base}
	default:
		panic(fmt.Sprintf("unknown document region %q", region))
	}
}

// =============================================================================
// CELL PARSERS
// =============================================================================

// parseAmount parses a positive decimal cell, nil on blank, zero, negative,
// or unparsable input. Thousands separators are tolerated.
func parseAmount(s string, currency generic.Currency) *generic.Amount {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return nil
	}
	amount, ok := generic.NewAmountFromString(s, currency)
	if !ok || !amount.IsPositive() {
		return nil
	}
	return &amount
}

// parseCurrency defaults blank cells to pesos.
func parseCurrency(s string) generic.Currency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(generic.ARS):
		return generic.ARS
	case string(generic.USD):
		return generic.USD
	default:
		return generic.Currency(strings.ToUpper(strings.TrimSpace(s)))
	}
}

// parseConfidence maps a stored tag to a tier; unknown tags read as unset.
func parseConfidence(s string) Confidence {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ConfidenceHigh):
		return ConfidenceHigh
	case string(ConfidenceMedium):
		return ConfidenceMedium
	case string(ConfidenceLow):
		return ConfidenceLow
	default:
		return ""
	}
}

func isBlankRow(row generic.Row) bool {
	for _, c := range row.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
