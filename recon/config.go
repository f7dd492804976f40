package recon

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// MATCHER CONFIG
// =============================================================================

// MatcherConfig carries every tunable of the candidate matcher. Build one
// with DefaultMatcherConfig and override fields, or parse a JSON profile
// via the factory package.
type MatcherConfig struct {
	// AmountTolerance is the fixed absolute tolerance for same-currency
	// comparisons, in pesos.
	AmountTolerance generic.Amount

	// CrossCurrencyTolerancePct is the percentage tolerance applied to the
	// converted amount when document and movement currencies differ.
	CrossCurrencyTolerancePct decimal.Decimal

	// Day windows for candidate acceptance. Cross-currency matching gets a
	// narrower window: the conversion uses the movement-day rate, so the
	// further the dates drift the less the comparison means.
	DayWindowSameCurrency  int
	DayWindowCrossCurrency int

	// CloseDateDays is the distance under which an exact-amount match is
	// considered HIGH confidence.
	CloseDateDays int

	// Withholding netting: lookback window after invoice issuance and the
	// largest combination of withholdings tried per invoice.
	WithholdingWindowDays int
	MaxNettingCombination int

	// Special-case vocabularies, matched whole-word against the stripped
	// description.
	BankFeeVocabulary     []string
	CardPaymentVocabulary []string

	// KeywordStopwords are tokens excluded from keyword scoring (corporate
	// suffixes and connectives that match everything).
	KeywordStopwords []string

	// OriginCodePattern strips the bank channel-code token that banks
	// prepend to the real description. Stripped tokens never participate
	// in any pattern or keyword matching.
	OriginCodePattern *regexp.Regexp
}

// DefaultMatcherConfig returns the production defaults.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		AmountTolerance:           generic.NewAmount(1.00, generic.ARS),
		CrossCurrencyTolerancePct: decimal.NewFromFloat(0.02),
		DayWindowSameCurrency:     5,
		DayWindowCrossCurrency:    2,
		CloseDateDays:             3,
		WithholdingWindowDays:     90,
		MaxNettingCombination:     6,
		BankFeeVocabulary: []string{
			"COMISION", "COMISIONES", "IMPUESTO", "IMPUESTOS", "IVA",
			"SELLOS", "MANTENIMIENTO", "PERCEPCION", "SIRCREB", "IIBB",
			"LEY 25413", "GASTOS BANCARIOS",
		},
		CardPaymentVocabulary: []string{
			"VISA", "MASTERCARD", "AMEX", "TARJETA", "PAGO TARJETA",
		},
		KeywordStopwords: []string{
			"SA", "SRL", "SAS", "SACI", "DE", "DEL", "LA", "EL", "LOS",
			"LAS", "Y", "E", "THE", "INC", "LLC",
		},
		// A leading 3-4 digit channel code, optionally followed by a dash.
		OriginCodePattern: regexp.MustCompile(`^\s*\d{3,4}\s*[-/]?\s+`),
	}
}

// StripOriginCode removes the leading bank channel-code token, if any.
func (c MatcherConfig) StripOriginCode(description string) string {
	if c.OriginCodePattern == nil {
		return description
	}
	return c.OriginCodePattern.ReplaceAllString(description, "")
}

// DayWindow returns the candidate window for the given currency pairing.
func (c MatcherConfig) DayWindow(sameCurrency bool) int {
	if sameCurrency {
		return c.DayWindowSameCurrency
	}
	return c.DayWindowCrossCurrency
}

// normalize uppercases and collapses whitespace for vocabulary matching.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments must already be normalized.
func containsPhrase(text, phrase string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], phrase)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(phrase)
		startOK := start == 0 || !isWordChar(text[start-1])
		endOK := end == len(text) || !isWordChar(text[end])
		if startOK && endOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// matchesVocabulary reports whether any vocabulary entry occurs whole-word
// in the normalized description.
func matchesVocabulary(description string, vocabulary []string) (string, bool) {
	text := normalize(description)
	for _, entry := range vocabulary {
		if containsPhrase(text, normalize(entry)) {
			return entry, true
		}
	}
	return "", false
}
