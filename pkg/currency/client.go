// Package currency localizes prices: it maps a visitor's IP address to a
// currency and converts base-currency prices using cached exchange rates.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGeoURL      = "https://ipapi.co"
	defaultRatesURL    = "https://open.er-api.com/v6"
	defaultHTTPTimeout = 10 * time.Second
)

var (
	// ErrUnsupportedCurrency is returned when no rate exists for a currency.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrInvalidResponse is returned when an upstream API answers with a body
	// that cannot be used.
	ErrInvalidResponse = errors.New("invalid upstream response")
)

// Location is what the geolocation API knows about an address.
type Location struct {
	CountryCode string `json:"country_code"`
	Currency    string `json:"currency"`
}

// Geolocator resolves an IP address to a Location.
type Geolocator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// RateProvider returns exchange rates from base to every currency it knows.
type RateProvider interface {
	Rates(ctx context.Context, base string) (map[string]float64, error)
}

// HTTPGeolocator calls an ipapi-compatible API: GET {base}/{ip}/json.
type HTTPGeolocator struct {
	baseURL string
	client  *http.Client
}

var _ Geolocator = (*HTTPGeolocator)(nil)

// NewHTTPGeolocator creates a geolocator. An empty baseURL uses the public API
// and a nil client gets a default timeout.
func NewHTTPGeolocator(baseURL string, client *http.Client) *HTTPGeolocator {
	if baseURL == "" {
		baseURL = defaultGeoURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPGeolocator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Locate looks up ip.
func (g *HTTPGeolocator) Locate(ctx context.Context, ip string) (Location, error) {
	var body struct {
		Location
		Error  bool   `json:"error"`
		Reason string `json:"reason"`
	}
	if err := getJSON(ctx, g.client, fmt.Sprintf("%s/%s/json", g.baseURL, url.PathEscape(ip)), &body); err != nil {
		return Location{}, err
	}
	if body.Error {
		return Location{}, fmt.Errorf("%w: %s", ErrInvalidResponse, body.Reason)
	}
	body.Currency = strings.ToUpper(body.Currency)
	return body.Location, nil
}

// HTTPRateProvider calls an exchangerate-api compatible endpoint:
// GET {base}/latest/{currency}.
type HTTPRateProvider struct {
	baseURL string
	client  *http.Client
}

var _ RateProvider = (*HTTPRateProvider)(nil)

// NewHTTPRateProvider creates a rate provider. An empty baseURL uses the
// public API and a nil client gets a default timeout.
func NewHTTPRateProvider(baseURL string, client *http.Client) *HTTPRateProvider {
	if baseURL == "" {
		baseURL = defaultRatesURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPRateProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Rates fetches the latest rates for base.
func (p *HTTPRateProvider) Rates(ctx context.Context, base string) (map[string]float64, error) {
	var body struct {
		Result string             `json:"result"`
		Rates  map[string]float64 `json:"rates"`
	}
	if err := getJSON(ctx, p.client, fmt.Sprintf("%s/latest/%s", p.baseURL, url.PathEscape(base)), &body); err != nil {
		return nil, err
	}
	if body.Result != "" && body.Result != "success" {
		return nil, fmt.Errorf("%w: result %q", ErrInvalidResponse, body.Result)
	}
	if len(body.Rates) == 0 {
		return nil, fmt.Errorf("%w: no rates for %s", ErrInvalidResponse, base)
	}
	return body.Rates, nil
}

func getJSON(ctx context.Context, client *http.Client, apiURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.New("rate limited by API: HTTP 429")
		}
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}
