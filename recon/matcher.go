/*
matcher.go - Candidate matcher: one movement against the document pools

PURPOSE:
  Scores candidate documents against a single bank movement and returns the
  best candidate with a structured confidence judgment, or a typed no-match
  outcome. "No candidates" is an ordinary result, never an error; errors
  are reserved for truly exceptional input (a movement without a usable
  mandatory date).

RULE ORDER (short-circuits at the first applicable rule):
  1. Bank-fee / card-payment vocabulary - BEFORE any amount validation,
     so a zero-amount fee line still classifies
  2. Origin-code prefix stripping (stripped tokens never score)
  3. Tax-id extraction from the description (checksum-validated)
  4. Payment already linked to an invoice - preferred over matching the
     invoice directly
  5. Direct document match, with withholding netting and currency-aware
     tolerance; cross-currency confidence is hard-capped
  6. Payment with no further link - MEDIUM, flagged for manual review
  7. Keyword fallback - whole-word token overlap, LOW
  8. no-match

SEE ALSO:
  - compare.go: How two judgments are ordered
  - cascade.go: Drives this matcher across the whole pool
*/
package recon

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// MATCHER
// =============================================================================

type Matcher struct {
	Config MatcherConfig
	Rates  RateProvider
}

func NewMatcher(cfg MatcherConfig, rates RateProvider) *Matcher {
	return &Matcher{Config: cfg, Rates: rates}
}

// Match scores the document pool against one movement.
func (m *Matcher) Match(ctx context.Context, mv BankMovement, pool *DocumentPool) (MatchResult, error) {
	desc := m.Config.StripOriginCode(mv.Description)

	// Special-case classification runs first, independent of amount: a fee
	// line with a zero amount must still classify as a fee.
	if term, ok := matchesVocabulary(desc, m.Config.BankFeeVocabulary); ok {
		return MatchResult{
			Type:       MatchBankFee,
			Confidence: ConfidenceHigh,
			Rationale:  fmt.Sprintf("Bank fee or tax charge (%q)", term),
			Reasons:    []string{fmt.Sprintf("description matches bank-fee vocabulary: %s", term)},
			Quality:    MatchQuality{Confidence: ConfidenceHigh, ExactAmount: true},
		}, nil
	}
	if term, ok := matchesVocabulary(desc, m.Config.CardPaymentVocabulary); ok {
		return MatchResult{
			Type:       MatchCardPayment,
			Confidence: ConfidenceHigh,
			Rationale:  fmt.Sprintf("Credit card settlement (%q)", term),
			Reasons:    []string{fmt.Sprintf("description matches card-payment vocabulary: %s", term)},
			Quality:    MatchQuality{Confidence: ConfidenceHigh, ExactAmount: true},
		}, nil
	}

	if mv.Date.IsZero() {
		return MatchResult{}, fmt.Errorf("movement %s: %w: empty date", mv.Row, generic.ErrUnparsableDate)
	}

	amount, ok := mv.Amount()
	if !ok {
		// Neither debit nor credit: not matchable, skipped.
		return noMatch(), nil
	}

	taxID, hasTaxID := ExtractTaxID(desc)

	// Payment already carrying a link to an invoice beats matching the
	// invoice directly.
	if r, found := m.matchLinkedPayment(ctx, mv, amount, taxID, hasTaxID, pool); found {
		return r, nil
	}
	if r, found := m.matchDirect(ctx, mv, amount, taxID, hasTaxID, pool); found {
		return r, nil
	}
	if r, found := m.matchPaymentOnly(ctx, mv, amount, taxID, hasTaxID, pool); found {
		return r, nil
	}
	if r, found := m.matchKeyword(mv, desc, amount, pool); found {
		return r, nil
	}
	return noMatch(), nil
}

func noMatch() MatchResult {
	return MatchResult{Type: MatchNone, Confidence: ConfidenceLow}
}

// =============================================================================
// AMOUNT COMPARISON
// =============================================================================

// amountFit is the outcome of comparing a document total to the movement
// amount, after any conversion or netting.
type amountFit struct {
	exact  bool
	within bool
	cross  bool
	rate   decimal.Decimal
}

// fitAmount compares docTotal against the movement amount. Cross-currency
// documents are converted at the movement-day sell rate with a percentage
// tolerance; same-currency uses the fixed absolute tolerance.
func (m *Matcher) fitAmount(ctx context.Context, mvAmount, docTotal generic.Amount, on generic.TimePoint) (amountFit, error) {
	if mvAmount.SameCurrency(docTotal) {
		diff := mvAmount.Sub(docTotal).Abs()
		return amountFit{
			exact:  diff.IsZero(),
			within: diff.LessThanOrEqual(m.Config.AmountTolerance),
		}, nil
	}

	rate, err := m.Rates.SellRate(ctx, docTotal.Currency, mvAmount.Currency, on)
	if err != nil {
		return amountFit{}, err
	}
	converted := docTotal.Value.Mul(rate)
	diff := mvAmount.Value.Sub(converted).Abs()
	tolerance := converted.Mul(m.Config.CrossCurrencyTolerancePct).Abs()
	return amountFit{
		exact:  diff.IsZero(),
		within: diff.LessThanOrEqual(tolerance),
		cross:  true,
		rate:   rate,
	}, nil
}

// =============================================================================
// SCORING
// =============================================================================

// directConfidence scores a direct document match. Exact amount close in
// time is HIGH; a tax-id correspondence lifts one tier; tolerance-window
// matches start at LOW.
func (m *Matcher) directConfidence(exact bool, dateDistance int, taxIDMatch bool) Confidence {
	var conf Confidence
	switch {
	case exact && dateDistance <= m.Config.CloseDateDays:
		conf = ConfidenceHigh
	case exact:
		conf = ConfidenceMedium
	default:
		conf = ConfidenceLow
	}
	if taxIDMatch {
		conf = lift(conf)
	}
	return conf
}

func lift(c Confidence) Confidence {
	switch c {
	case ConfidenceLow:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceHigh
	default:
		return c
	}
}

// crossCurrencyConfidence is the hard cap of rule 5: conversion introduces
// irreducible uncertainty, so a cross-currency match is MEDIUM exactly when
// a tax-id correspondence was found and LOW otherwise - never HIGH.
func crossCurrencyConfidence(taxIDMatch bool) Confidence {
	if taxIDMatch {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

func docTaxIDMatches(d Document, taxID string) bool {
	if taxID == "" {
		return false
	}
	for _, id := range d.DocTaxIDs() {
		if id == taxID {
			return true
		}
	}
	return false
}

// =============================================================================
// RULE 4: PAYMENT WITH LINKED DOCUMENT
// =============================================================================

func (m *Matcher) matchLinkedPayment(ctx context.Context, mv BankMovement, amount generic.Amount, taxID string, hasTaxID bool, pool *DocumentPool) (MatchResult, bool) {
	type hit struct {
		doc  Document
		fit  amountFit
		dist int
	}
	var best *hit

	for _, doc := range m.paymentCandidates(mv, pool) {
		if doc.LinkedDocID() == "" {
			continue
		}
		dist := generic.DayDistance(mv.Date, doc.DocDate())
		fit, err := m.fitAmount(ctx, amount, doc.DocTotal(), mv.Date)
		if err != nil {
			log.Printf("[Matcher] %s: rate lookup failed for %s: %v", mv.Row, doc.DocID(), err)
			continue
		}
		if dist > m.Config.DayWindow(!fit.cross) || !fit.within {
			continue
		}
		if best == nil || dist < best.dist || (dist == best.dist && fit.exact && !best.fit.exact) {
			best = &hit{doc: doc, fit: fit, dist: dist}
		}
	}
	if best == nil {
		return MatchResult{}, false
	}

	taxMatch := docTaxIDMatches(best.doc, taxID)
	conf := ConfidenceMedium
	if best.doc.MatchConfidence() == ConfidenceHigh {
		conf = ConfidenceHigh
	}
	reasons := []string{
		fmt.Sprintf("payment %s already linked to document %s", best.doc.DocID(), best.doc.LinkedDocID()),
		fmt.Sprintf("amount within tolerance, %d day(s) apart", best.dist),
	}
	if best.fit.cross {
		conf = crossCurrencyConfidence(taxMatch)
		reasons = append(reasons, fmt.Sprintf("cross-currency comparison at sell rate %s", best.fit.rate))
	}
	if taxMatch {
		reasons = append(reasons, "tax id in description matches payment counterparty")
	}

	return MatchResult{
		Type:       MatchPaymentWithLinked,
		DocID:      best.doc.DocID(),
		Confidence: conf,
		Rationale: fmt.Sprintf("Payment %s (linked to %s) matches movement amount",
			best.doc.DocID(), best.doc.LinkedDocID()),
		Reasons: reasons,
		Quality: MatchQuality{
			Confidence:        conf,
			TaxIDMatch:        taxMatch,
			DateDistanceDays:  best.dist,
			ExactAmount:       best.fit.exact,
			HasDownstreamLink: true,
		},
	}, true
}

// =============================================================================
// RULE 5: DIRECT DOCUMENT MATCH (with withholding netting)
// =============================================================================

// nettingOutcome records the withholding combination that best reconciles
// an invoice total with the movement amount.
type nettingOutcome struct {
	netted generic.Amount
	count  int
	exact  bool
	within bool
}

func (m *Matcher) matchDirect(ctx context.Context, mv BankMovement, amount generic.Amount, taxID string, hasTaxID bool, pool *DocumentPool) (MatchResult, bool) {
	type hit struct {
		doc     Document
		fit     amountFit
		dist    int
		netting nettingOutcome
	}
	var best *hit

	consider := func(doc Document, allowNetting bool) {
		dist := generic.DayDistance(mv.Date, doc.DocDate())
		fit, err := m.fitAmount(ctx, amount, doc.DocTotal(), mv.Date)
		if err != nil {
			log.Printf("[Matcher] %s: rate lookup failed for %s: %v", mv.Row, doc.DocID(), err)
			return
		}
		if dist > m.Config.DayWindow(!fit.cross) {
			return
		}

		var netting nettingOutcome
		if !fit.within && allowNetting && !fit.cross {
			// Netting applies to same-currency invoice totals only: the
			// withholding certificates are issued in the invoice currency.
			netting = m.tryNetting(amount, doc, pool)
			if !netting.within {
				return
			}
			fit.exact = netting.exact
			fit.within = true
		} else if !fit.within {
			return
		}

		better := best == nil ||
			dist < best.dist ||
			(dist == best.dist && fit.exact && !best.fit.exact)
		if better {
			best = &hit{doc: doc, fit: fit, dist: dist, netting: netting}
		}
	}

	if mv.IsDebit() {
		for _, d := range pool.InvoicesReceived {
			consider(d, true)
		}
		for _, d := range pool.Receipts {
			consider(d, false)
		}
	} else {
		for _, d := range pool.InvoicesIssued {
			consider(d, true)
		}
	}

	if best == nil {
		return MatchResult{}, false
	}

	taxMatch := docTaxIDMatches(best.doc, taxID)
	conf := m.directConfidence(best.fit.exact, best.dist, taxMatch)

	reasons := []string{
		fmt.Sprintf("document %s total matches movement amount", best.doc.DocID()),
		fmt.Sprintf("%d day(s) between document and movement dates", best.dist),
	}
	rationale := fmt.Sprintf("%s %s for %s matches movement",
		KindOf(best.doc), best.doc.DocID(), best.doc.DocTotal())

	if best.netting.count > 0 {
		reasons = append(reasons, fmt.Sprintf("%d withholding(s) netted against the invoice (%s)",
			best.netting.count, best.netting.netted))
		rationale += fmt.Sprintf(", net of %d withholding(s) totaling %s",
			best.netting.count, best.netting.netted)
	}
	if taxMatch {
		reasons = append(reasons, "tax id in description matches document counterparty")
	}
	if best.fit.cross {
		conf = crossCurrencyConfidence(taxMatch)
		note := fmt.Sprintf("cross-currency match: %s converted at sell rate %s",
			best.doc.DocTotal(), best.fit.rate)
		reasons = append(reasons, note)
		rationale += " (" + note + ")"
	}

	return MatchResult{
		Type:       MatchDirectDocument,
		DocID:      best.doc.DocID(),
		Confidence: conf,
		Rationale:  rationale,
		Reasons:    reasons,
		Quality: MatchQuality{
			Confidence:        conf,
			TaxIDMatch:        taxMatch,
			DateDistanceDays:  best.dist,
			ExactAmount:       best.fit.exact,
			HasDownstreamLink: best.doc.LinkedDocID() != "",
		},
	}, true
}

// tryNetting enumerates combinations of withholdings referencing the
// invoice's counterparty within the lookback window: zero, one, or the sum
// of any combination up to the configured size, never netting more than the
// full invoice amount. The combination bringing the movement closest wins;
// exact beats within-tolerance, fewer certificates break ties.
func (m *Matcher) tryNetting(mvAmount generic.Amount, invoice Document, pool *DocumentPool) nettingOutcome {
	var eligible []Withholding
	windowEnd := invoice.DocDate().AddDays(m.Config.WithholdingWindowDays)
	for _, wh := range pool.Withholdings {
		if !docTaxIDShared(invoice, wh) {
			continue
		}
		if wh.Date.Before(invoice.DocDate()) || wh.Date.After(windowEnd) {
			continue
		}
		if !wh.Total.SameCurrency(invoice.DocTotal()) {
			continue
		}
		eligible = append(eligible, wh)
		if len(eligible) == 12 {
			break // subset enumeration is exponential; 4096 masks is plenty
		}
	}
	if len(eligible) == 0 {
		return nettingOutcome{}
	}

	total := invoice.DocTotal()
	var best nettingOutcome
	var bestDiff decimal.Decimal

	for mask := 1; mask < 1<<len(eligible); mask++ {
		count := popcount(mask)
		if count > m.Config.MaxNettingCombination {
			continue
		}
		netted := total.Zero()
		for i, wh := range eligible {
			if mask&(1<<i) != 0 {
				netted = netted.Add(wh.Total)
			}
		}
		if netted.GreaterThan(total) {
			continue
		}
		diff := mvAmount.Sub(total.Sub(netted)).Abs()
		if !diff.Value.LessThanOrEqual(m.Config.AmountTolerance.Value) {
			continue
		}
		outcome := nettingOutcome{
			netted: netted,
			count:  count,
			exact:  diff.IsZero(),
			within: true,
		}
		better := !best.within ||
			diff.Value.LessThan(bestDiff) ||
			(diff.Value.Equal(bestDiff) && count < best.count)
		if better {
			best = outcome
			bestDiff = diff.Value
		}
	}
	return best
}

func docTaxIDShared(a, b Document) bool {
	for _, x := range a.DocTaxIDs() {
		for _, y := range b.DocTaxIDs() {
			if x == y && x != "" {
				return true
			}
		}
	}
	return false
}

func popcount(mask int) int {
	n := 0
	for mask != 0 {
		mask &= mask - 1
		n++
	}
	return n
}

// =============================================================================
// RULE 6: PAYMENT-ONLY FALLBACK
// =============================================================================

func (m *Matcher) matchPaymentOnly(ctx context.Context, mv BankMovement, amount generic.Amount, taxID string, hasTaxID bool, pool *DocumentPool) (MatchResult, bool) {
	type hit struct {
		doc  Document
		fit  amountFit
		dist int
	}
	var best *hit

	for _, doc := range m.paymentCandidates(mv, pool) {
		if doc.LinkedDocID() != "" {
			continue // handled by rule 4
		}
		dist := generic.DayDistance(mv.Date, doc.DocDate())
		fit, err := m.fitAmount(ctx, amount, doc.DocTotal(), mv.Date)
		if err != nil {
			log.Printf("[Matcher] %s: rate lookup failed for %s: %v", mv.Row, doc.DocID(), err)
			continue
		}
		if dist > m.Config.DayWindow(!fit.cross) || !fit.within {
			continue
		}
		if best == nil || dist < best.dist || (dist == best.dist && fit.exact && !best.fit.exact) {
			best = &hit{doc: doc, fit: fit, dist: dist}
		}
	}
	if best == nil {
		return MatchResult{}, false
	}

	taxMatch := docTaxIDMatches(best.doc, taxID)
	conf := ConfidenceMedium
	if best.fit.cross {
		conf = crossCurrencyConfidence(taxMatch)
	}
	return MatchResult{
		Type:       MatchPaymentOnly,
		DocID:      best.doc.DocID(),
		Confidence: conf,
		Rationale: fmt.Sprintf("Payment %s matches by amount/date but has no linked document - NEEDS MANUAL REVIEW",
			best.doc.DocID()),
		Reasons: []string{
			fmt.Sprintf("payment %s matches amount within tolerance", best.doc.DocID()),
			"payment carries no link to an invoice; flagged for manual review",
		},
		Quality: MatchQuality{
			Confidence:       conf,
			TaxIDMatch:       taxMatch,
			DateDistanceDays: best.dist,
			ExactAmount:      best.fit.exact,
		},
	}, true
}

// paymentCandidates returns the direction-appropriate payment documents.
func (m *Matcher) paymentCandidates(mv BankMovement, pool *DocumentPool) []Document {
	var docs []Document
	if mv.IsDebit() {
		for _, d := range pool.PaymentsSent {
			docs = append(docs, d)
		}
	} else {
		for _, d := range pool.PaymentsReceived {
			docs = append(docs, d)
		}
	}
	return docs
}

// =============================================================================
// RULE 7: KEYWORD FALLBACK
// =============================================================================

func (m *Matcher) matchKeyword(mv BankMovement, desc string, amount generic.Amount, pool *DocumentPool) (MatchResult, bool) {
	descTokens := m.keywordTokens(desc)
	if len(descTokens) == 0 {
		return MatchResult{}, false
	}

	type hit struct {
		doc   Document
		score int
		dist  int
		exact bool
	}
	var best *hit

	consider := func(doc Document) {
		if !amount.SameCurrency(doc.DocTotal()) {
			return // keyword scoring stays out of the conversion business
		}
		dist := generic.DayDistance(mv.Date, doc.DocDate())
		if dist > m.Config.DayWindowSameCurrency {
			return
		}
		diff := amount.Sub(doc.DocTotal()).Abs()
		if !diff.LessThanOrEqual(m.Config.AmountTolerance) {
			return
		}
		score := tokenOverlap(descTokens, m.keywordTokens(doc.DocCounterparty()))
		if score == 0 {
			return
		}
		if best == nil || score > best.score || (score == best.score && dist < best.dist) {
			best = &hit{doc: doc, score: score, dist: dist, exact: diff.IsZero()}
		}
	}

	if mv.IsDebit() {
		for _, d := range pool.InvoicesReceived {
			consider(d)
		}
		for _, d := range pool.PaymentsSent {
			consider(d)
		}
		for _, d := range pool.Receipts {
			consider(d)
		}
	} else {
		for _, d := range pool.InvoicesIssued {
			consider(d)
		}
		for _, d := range pool.PaymentsReceived {
			consider(d)
		}
	}
	if best == nil {
		return MatchResult{}, false
	}

	return MatchResult{
		Type:       MatchDirectDocument,
		DocID:      best.doc.DocID(),
		Confidence: ConfidenceLow,
		Rationale: fmt.Sprintf("Counterparty name %q overlaps movement description (%d shared word(s))",
			best.doc.DocCounterparty(), best.score),
		Reasons: []string{
			fmt.Sprintf("%d whole-word keyword(s) shared with %s", best.score, best.doc.DocID()),
			"amount within tolerance and date within window",
		},
		Quality: MatchQuality{
			Confidence:        ConfidenceLow,
			DateDistanceDays:  best.dist,
			ExactAmount:       best.exact,
			HasDownstreamLink: best.doc.LinkedDocID() != "",
		},
	}, true
}

// keywordTokens splits a string into scoring tokens: normalized whole
// words, minus corporate-suffix stopwords, pure numbers, and one-letter
// fragments. A short token can then only ever match as a whole word, never
// as a substring of a longer unrelated word.
func (m *Matcher) keywordTokens(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return ' '
	}, s)

	var tokens []string
	for _, tok := range strings.Fields(strings.ToUpper(cleaned)) {
		if len(tok) < 2 || isNumeric(tok) || m.isStopword(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func (m *Matcher) isStopword(tok string) bool {
	for _, sw := range m.Config.KeywordStopwords {
		if tok == strings.ToUpper(sw) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func tokenOverlap(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, tok := range b {
		set[tok] = true
	}
	score := 0
	for _, tok := range a {
		if set[tok] {
			score++
			delete(set, tok) // count each shared word once
		}
	}
	return score
}
