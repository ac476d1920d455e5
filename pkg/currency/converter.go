package currency

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Config holds configuration for currency localization.
type Config struct {
	BaseCurrency string        `yaml:"base_currency"`
	GeoURL       string        `yaml:"geo_url"`
	RatesURL     string        `yaml:"rates_url"`
	RateTTL      time.Duration `yaml:"rate_ttl"`
	LocationTTL  time.Duration `yaml:"location_ttl"`
	MaxLocations int           `yaml:"max_locations"`
	// Supported limits which currencies visitors are shown. Empty means every
	// currency in symbols.
	Supported []string `yaml:"supported"`
}

var symbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
	"CAD": "CA$",
	"AUD": "A$",
	"CHF": "CHF ",
	"SEK": "kr ",
	"BRL": "R$",
}

var zeroDecimal = map[string]bool{"JPY": true}

// Price is an amount in a specific currency, ready to display.
type Price struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Formatted string  `json:"formatted"`
}

// Format renders amount with the currency's symbol.
func Format(amount float64, currency string) string {
	symbol, ok := symbols[currency]
	if !ok {
		symbol = currency + " "
	}
	if zeroDecimal[currency] {
		return fmt.Sprintf("%s%.0f", symbol, amount)
	}
	return fmt.Sprintf("%s%.2f", symbol, amount)
}

// Converter caches rates per base currency and locations per IP address.
type Converter struct {
	base      string
	supported map[string]bool
	geo       Geolocator
	rates     RateProvider
	rateCache *expirable.LRU[string, map[string]float64]
	locCache  *expirable.LRU[string, string]
	group     singleflight.Group
	logger    zerolog.Logger
}

// NewConverter creates a Converter.
func NewConverter(cfg Config, geo Geolocator, rates RateProvider, logger zerolog.Logger) (*Converter, error) {
	if geo == nil || rates == nil {
		return nil, fmt.Errorf("geolocator and rate provider are required")
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	if cfg.RateTTL <= 0 {
		cfg.RateTTL = time.Hour
	}
	if cfg.LocationTTL <= 0 {
		cfg.LocationTTL = 24 * time.Hour
	}
	if cfg.MaxLocations <= 0 {
		cfg.MaxLocations = 10000
	}
	supported := make(map[string]bool)
	if len(cfg.Supported) == 0 {
		for c := range symbols {
			supported[c] = true
		}
	}
	for _, c := range cfg.Supported {
		supported[strings.ToUpper(c)] = true
	}
	base := strings.ToUpper(cfg.BaseCurrency)
	supported[base] = true

	return &Converter{
		base:      base,
		supported: supported,
		geo:       geo,
		rates:     rates,
		rateCache: expirable.NewLRU[string, map[string]float64](32, nil, cfg.RateTTL),
		locCache:  expirable.NewLRU[string, string](cfg.MaxLocations, nil, cfg.LocationTTL),
		logger:    logger.With().Str("component", "CurrencyConverter").Logger(),
	}, nil
}

// Base returns the store's base currency.
func (c *Converter) Base() string {
	return c.base
}

// CurrencyFor returns the currency to show a visitor from ip. Private,
// unparsable or unresolvable addresses and unsupported currencies get the
// base currency.
func (c *Converter) CurrencyFor(ctx context.Context, ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return c.base
	}
	key := addr.String()
	if cur, ok := c.locCache.Get(key); ok {
		return cur
	}

	loc, err := c.geo.Locate(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Geolocation failed, using base currency.")
		return c.base
	}
	cur := strings.ToUpper(loc.Currency)
	if !c.supported[cur] {
		cur = c.base
	}
	c.locCache.Add(key, cur)
	return cur
}

// Convert converts amount from one currency to another.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	if !c.supported[to] {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	rates, err := c.ratesFor(ctx, from)
	if err != nil {
		return 0, err
	}
	rate, ok := rates[to]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("%w: no %s rate for %s", ErrUnsupportedCurrency, to, from)
	}
	return round(amount*rate, to), nil
}

// Price converts amount from one currency to another for display. When the
// conversion fails, the amount is shown in its original currency.
func (c *Converter) Price(ctx context.Context, amount float64, from, to string) Price {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == "" {
		from = c.base
	}
	converted, err := c.Convert(ctx, amount, from, to)
	if err != nil {
		c.logger.Debug().Err(err).Str("currency", to).Msg("Conversion failed, showing original price.")
		to, converted = from, amount
	}
	return Price{Amount: converted, Currency: to, Formatted: Format(converted, to)}
}

func (c *Converter) ratesFor(ctx context.Context, base string) (map[string]float64, error) {
	if rates, ok := c.rateCache.Get(base); ok {
		return rates, nil
	}
	v, err, _ := c.group.Do(base, func() (interface{}, error) {
		rates, err := c.rates.Rates(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s rates: %w", base, err)
		}
		c.rateCache.Add(base, rates)
		c.logger.Info().Str("base_currency", base).Int("rate_count", len(rates)).Msg("Exchange rates refreshed.")
		return rates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]float64), nil
}

func round(amount float64, currency string) float64 {
	if zeroDecimal[currency] {
		return math.Round(amount)
	}
	return math.Round(amount*100) / 100
}
