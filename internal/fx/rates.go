// Package fx provides currency conversion rates for cross-currency
// document aggregation.
package fx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docmatch/docmatch/internal/service"
)

// StaticProvider serves rates from an in-memory table. Rates are keyed by
// currency pair and do not vary by date; the date parameter is accepted so
// callers can swap in a historical provider without changing call sites.
type StaticProvider struct {
	mu    sync.RWMutex
	rates map[string]float64
}

var _ service.RateProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider seeded with the given pair rates.
// Keys are "FROM/TO", e.g. "USD/EUR".
func NewStaticProvider(rates map[string]float64) *StaticProvider {
	table := make(map[string]float64, len(rates))
	for pair, rate := range rates {
		table[strings.ToUpper(pair)] = rate
	}
	return &StaticProvider{rates: table}
}

// SetRate stores or replaces a pair rate.
func (p *StaticProvider) SetRate(from, to string, rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[pairKey(from, to)] = rate
}

// Rate returns the conversion rate from one currency to another. Identical
// currencies always convert at 1. When only the inverse pair is known, its
// reciprocal is used.
func (p *StaticProvider) Rate(_ context.Context, from, to string, _ time.Time) (float64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to || from == "" || to == "" {
		return 1, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[from+"/"+to]; ok {
		return rate, nil
	}
	if inverse, ok := p.rates[to+"/"+from]; ok && inverse != 0 {
		return 1 / inverse, nil
	}
	return 0, fmt.Errorf("no rate available for %s/%s", from, to)
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
