package currency_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-storefront/pkg/currency"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGeolocator struct {
	calls atomic.Int32
	locs  map[string]currency.Location
}

func (m *mockGeolocator) Locate(_ context.Context, ip string) (currency.Location, error) {
	m.calls.Add(1)
	loc, ok := m.locs[ip]
	if !ok {
		return currency.Location{}, errors.New("lookup failed")
	}
	return loc, nil
}

type mockRates struct {
	calls atomic.Int32
	err   error
}

func (m *mockRates) Rates(_ context.Context, base string) (map[string]float64, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return map[string]float64{"USD": 1, "EUR": 0.9, "GBP": 0.8, "JPY": 150.4}, nil
}

func newTestConverter(t *testing.T, cfg currency.Config) (*currency.Converter, *mockGeolocator, *mockRates) {
	t.Helper()
	geo := &mockGeolocator{locs: map[string]currency.Location{
		"81.2.69.160": {CountryCode: "GB", Currency: "GBP"},
		"1.0.16.1":    {CountryCode: "JP", Currency: "JPY"},
		"41.0.0.1":    {CountryCode: "ZA", Currency: "ZAR"},
	}}
	rates := &mockRates{}
	c, err := currency.NewConverter(cfg, geo, rates, zerolog.Nop())
	require.NoError(t, err)
	return c, geo, rates
}

func TestConverter_CurrencyFor(t *testing.T) {
	ctx := context.Background()
	c, geo, _ := newTestConverter(t, currency.Config{})

	t.Run("Resolves and caches a public address", func(t *testing.T) {
		assert.Equal(t, "GBP", c.CurrencyFor(ctx, "81.2.69.160"))
		assert.Equal(t, "GBP", c.CurrencyFor(ctx, "81.2.69.160"))
		assert.Equal(t, int32(1), geo.calls.Load())
	})

	t.Run("Private and invalid addresses use the base currency", func(t *testing.T) {
		before := geo.calls.Load()
		assert.Equal(t, "USD", c.CurrencyFor(ctx, "127.0.0.1"))
		assert.Equal(t, "USD", c.CurrencyFor(ctx, "10.1.2.3"))
		assert.Equal(t, "USD", c.CurrencyFor(ctx, "garbage"))
		assert.Equal(t, before, geo.calls.Load())
	})

	t.Run("Unsupported currency and lookup failure fall back", func(t *testing.T) {
		assert.Equal(t, "USD", c.CurrencyFor(ctx, "41.0.0.1"))
		assert.Equal(t, "USD", c.CurrencyFor(ctx, "8.8.8.8"))
	})
}

func TestConverter_Convert(t *testing.T) {
	ctx := context.Background()

	t.Run("Converts and rounds, caching rates", func(t *testing.T) {
		c, _, rates := newTestConverter(t, currency.Config{})

		eur, err := c.Convert(ctx, 12, "USD", "EUR")
		require.NoError(t, err)
		jpy, err := c.Convert(ctx, 10, "usd", "jpy")
		require.NoError(t, err)

		assert.Equal(t, 10.8, eur)
		assert.Equal(t, 1504.0, jpy)
		assert.Equal(t, int32(1), rates.calls.Load())
	})

	t.Run("Same currency is identity", func(t *testing.T) {
		c, _, rates := newTestConverter(t, currency.Config{})
		v, err := c.Convert(ctx, 12.34, "USD", "USD")
		require.NoError(t, err)
		assert.Equal(t, 12.34, v)
		assert.Equal(t, int32(0), rates.calls.Load())
	})

	t.Run("Unsupported target", func(t *testing.T) {
		c, _, _ := newTestConverter(t, currency.Config{Supported: []string{"EUR"}})
		_, err := c.Convert(ctx, 1, "USD", "GBP")
		assert.ErrorIs(t, err, currency.ErrUnsupportedCurrency)
	})

	t.Run("Price falls back to the original currency on failure", func(t *testing.T) {
		c, _, rates := newTestConverter(t, currency.Config{})
		rates.err = errors.New("upstream down")

		p := c.Price(ctx, 19.99, "USD", "EUR")

		assert.Equal(t, currency.Price{Amount: 19.99, Currency: "USD", Formatted: "$19.99"}, p)
	})

	t.Run("Price formats the target currency", func(t *testing.T) {
		c, _, _ := newTestConverter(t, currency.Config{})

		assert.Equal(t, "£16.00", c.Price(ctx, 20, "", "GBP").Formatted)
		assert.Equal(t, "¥3008", c.Price(ctx, 20, "USD", "JPY").Formatted)
	})
}
