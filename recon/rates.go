package recon

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/recon-engine/generic"
)

// =============================================================================
// RATE PROVIDER - Exchange rates for cross-currency matching
// =============================================================================

// RateProvider supplies the same-day "sell" exchange rate used to convert a
// document total into the movement's currency.
type RateProvider interface {
	SellRate(ctx context.Context, base, quote generic.Currency, on generic.TimePoint) (decimal.Decimal, error)
}

// StaticRateProvider serves table-driven rates. Intended for development
// and tests; production wires a real quote source behind the same
// interface.
type StaticRateProvider struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal // "BASE/QUOTE" -> rate
}

func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{
		rates: map[string]decimal.Decimal{
			"USD/ARS": generic.MustParseDecimal("850.00"),
		},
	}
}

// SetRate installs or replaces the rate for a currency pair.
func (p *StaticRateProvider) SetRate(base, quote generic.Currency, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[pairKey(base, quote)] = rate
}

// SellRate returns the configured rate, trying the inverse pair when the
// direct one is absent.
func (p *StaticRateProvider) SellRate(_ context.Context, base, quote generic.Currency, _ generic.TimePoint) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[pairKey(base, quote)]; ok {
		return rate, nil
	}
	if rate, ok := p.rates[pairKey(quote, base)]; ok && !rate.IsZero() {
		return decimal.NewFromInt(1).Div(rate), nil
	}
	return decimal.Zero, fmt.Errorf("no rate available for %s/%s", base, quote)
}

func pairKey(base, quote generic.Currency) string {
	return string(base) + "/" + string(quote)
}
