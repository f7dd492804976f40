/*
Package factory provides JSON to Go reconciliation-profile conversion.

PURPOSE:
  Converts JSON profile definitions into recon.MatcherConfig and
  recon.CascadeConfig values. This enables tuning without code changes -
  operations can adjust tolerances, vocabularies, and cascade limits in
  JSON, and the factory creates the proper Go structs.

WHY JSON?
  - Non-developers can adjust matching behavior
  - Version control for profile definitions
  - Per-client profiles stored alongside their data

JSON SCHEMA:
  {
    "name": "default",
    "amount_tolerance": "1.00",
    "cross_currency_tolerance_pct": "0.02",
    "day_window_same_currency": 5,
    "day_window_cross_currency": 2,
    "close_date_days": 3,
    "withholding_window_days": 90,
    "max_netting_combination": 6,
    "bank_fee_vocabulary": ["COMISION", "IVA"],
    "card_payment_vocabulary": ["VISA"],
    "keyword_stopwords": ["SA", "SRL"],
    "cascade": {"max_depth": 5, "timeout_seconds": 30}
  }

KEY FEATURES:
  - Validates values
  - Sets production defaults for every omitted field
  - Round-trips back to JSON for storage

USAGE:
  factory := NewProfileFactory()
  matcher, cascade, err := factory.ParseProfile(jsonStr)

SEE ALSO:
  - recon/config.go: MatcherConfig definition and defaults
  - recon/cascade.go: CascadeConfig definition
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/recon-engine/generic"
	"github.com/warp/recon-engine/recon"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProfileJSON is the JSON representation of a reconciliation profile.
type ProfileJSON struct {
	Name string `json:"name"`

	AmountTolerance           string `json:"amount_tolerance,omitempty"`
	CrossCurrencyTolerancePct string `json:"cross_currency_tolerance_pct,omitempty"`

	DayWindowSameCurrency  *int `json:"day_window_same_currency,omitempty"`
	DayWindowCrossCurrency *int `json:"day_window_cross_currency,omitempty"`
	CloseDateDays          *int `json:"close_date_days,omitempty"`

	WithholdingWindowDays *int `json:"withholding_window_days,omitempty"`
	MaxNettingCombination *int `json:"max_netting_combination,omitempty"`

	BankFeeVocabulary     []string `json:"bank_fee_vocabulary,omitempty"`
	CardPaymentVocabulary []string `json:"card_payment_vocabulary,omitempty"`
	KeywordStopwords      []string `json:"keyword_stopwords,omitempty"`

	Cascade *CascadeJSON `json:"cascade,omitempty"`
}

// CascadeJSON represents cascade limits.
type CascadeJSON struct {
	MaxDepth       *int `json:"max_depth,omitempty"`
	TimeoutSeconds *int `json:"timeout_seconds,omitempty"`
}

// =============================================================================
// PROFILE FACTORY
// =============================================================================

// ProfileFactory converts JSON profiles to Go configs.
type ProfileFactory struct{}

// NewProfileFactory creates a new profile factory.
func NewProfileFactory() *ProfileFactory {
	return &ProfileFactory{}
}

// ParseProfile parses a JSON string into matcher and cascade configs.
func (f *ProfileFactory) ParseProfile(jsonStr string) (recon.MatcherConfig, recon.CascadeConfig, error) {
	var pj ProfileJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return recon.MatcherConfig{}, recon.CascadeConfig{}, fmt.Errorf("failed to parse profile JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts a parsed profile, filling defaults for omitted fields.
func (f *ProfileFactory) FromJSON(pj ProfileJSON) (recon.MatcherConfig, recon.CascadeConfig, error) {
	matcher := recon.DefaultMatcherConfig()
	cascade := recon.DefaultCascadeConfig()

	if pj.AmountTolerance != "" {
		d, err := decimal.NewFromString(pj.AmountTolerance)
		if err != nil || d.IsNegative() {
			return matcher, cascade, fmt.Errorf("invalid amount_tolerance %q", pj.AmountTolerance)
		}
		matcher.AmountTolerance = generic.Amount{Value: d, Currency: generic.ARS}
	}
	if pj.CrossCurrencyTolerancePct != "" {
		d, err := decimal.NewFromString(pj.CrossCurrencyTolerancePct)
		if err != nil || d.IsNegative() {
			return matcher, cascade, fmt.Errorf("invalid cross_currency_tolerance_pct %q", pj.CrossCurrencyTolerancePct)
		}
		matcher.CrossCurrencyTolerancePct = d
	}

	if err := setPositive(&matcher.DayWindowSameCurrency, pj.DayWindowSameCurrency, "day_window_same_currency"); err != nil {
		return matcher, cascade, err
	}
	if err := setPositive(&matcher.DayWindowCrossCurrency, pj.DayWindowCrossCurrency, "day_window_cross_currency"); err != nil {
		return matcher, cascade, err
	}
	if err := setPositive(&matcher.CloseDateDays, pj.CloseDateDays, "close_date_days"); err != nil {
		return matcher, cascade, err
	}
	if err := setPositive(&matcher.WithholdingWindowDays, pj.WithholdingWindowDays, "withholding_window_days"); err != nil {
		return matcher, cascade, err
	}
	if err := setPositive(&matcher.MaxNettingCombination, pj.MaxNettingCombination, "max_netting_combination"); err != nil {
		return matcher, cascade, err
	}

	if pj.BankFeeVocabulary != nil {
		matcher.BankFeeVocabulary = pj.BankFeeVocabulary
	}
	if pj.CardPaymentVocabulary != nil {
		matcher.CardPaymentVocabulary = pj.CardPaymentVocabulary
	}
	if pj.KeywordStopwords != nil {
		matcher.KeywordStopwords = pj.KeywordStopwords
	}

	if pj.Cascade != nil {
		if err := setPositive(&cascade.MaxDepth, pj.Cascade.MaxDepth, "cascade.max_depth"); err != nil {
			return matcher, cascade, err
		}
		if pj.Cascade.TimeoutSeconds != nil {
			if *pj.Cascade.TimeoutSeconds <= 0 {
				return matcher, cascade, fmt.Errorf("cascade.timeout_seconds must be positive")
			}
			cascade.Timeout = time.Duration(*pj.Cascade.TimeoutSeconds) * time.Second
		}
	}

	return matcher, cascade, nil
}

// ToJSON serializes a profile for storage.
func (f *ProfileFactory) ToJSON(pj ProfileJSON) (string, error) {
	data, err := json.MarshalIndent(pj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize profile: %w", err)
	}
	return string(data), nil
}

func setPositive(dst *int, src *int, field string) error {
	if src == nil {
		return nil
	}
	if *src <= 0 {
		return fmt.Errorf("%s must be positive, got %d", field, *src)
	}
	*dst = *src
	return nil
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultProfileJSON is the production default profile, serialized. Useful
// as a starting point for per-client profiles.
func DefaultProfileJSON() string {
	return `{
  "name": "default",
  "amount_tolerance": "1.00",
  "cross_currency_tolerance_pct": "0.02",
  "day_window_same_currency": 5,
  "day_window_cross_currency": 2,
  "close_date_days": 3,
  "withholding_window_days": 90,
  "max_netting_combination": 6,
  "cascade": {"max_depth": 5, "timeout_seconds": 30}
}`
}
