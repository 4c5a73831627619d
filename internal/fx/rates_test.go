package fx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderRates(t *testing.T) {
	provider := NewStaticProvider(map[string]float64{
		"usd/eur": 0.9,
	})
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	rate, err := provider.Rate(ctx, "USD", "EUR", day)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, rate, 1e-9)

	// Reverse pairs fall back to the reciprocal.
	rate, err = provider.Rate(ctx, "EUR", "USD", day)
	require.NoError(t, err)
	assert.InDelta(t, 1/0.9, rate, 1e-9)

	// Same or unspecified currency is identity.
	rate, err = provider.Rate(ctx, "EUR", "EUR", day)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)

	rate, err = provider.Rate(ctx, "", "EUR", day)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)

	_, err = provider.Rate(ctx, "GBP", "JPY", day)
	assert.Error(t, err)
}

func TestStaticProviderSetRate(t *testing.T) {
	provider := NewStaticProvider(nil)
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := provider.Rate(ctx, "CHF", "EUR", day)
	require.Error(t, err)

	provider.SetRate("chf", "eur", 1.05)
	rate, err := provider.Rate(ctx, "CHF", "EUR", day)
	require.NoError(t, err)
	assert.InDelta(t, 1.05, rate, 1e-9)
}
