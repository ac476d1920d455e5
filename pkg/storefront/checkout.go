package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/currency"
)

// ErrNoAffiliateLink is returned when checking out a product that cannot be bought.
var ErrNoAffiliateLink = errors.New("product has no affiliate link")

// Visit describes the request behind a tracked event.
type Visit struct {
	VisitorID string
	Path      string
	Referrer  string
	UserAgent string
	IP        string
}

// Checkout resolves the affiliate link for productID, records the click and
// returns the URL to redirect the visitor to.
func (s *Storefront) Checkout(ctx context.Context, productID string, v Visit) (string, error) {
	res, err := s.Product(ctx, productID)
	if err != nil {
		return "", err
	}
	p := res.Data
	if p.AffiliateLink == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAffiliateLink, productID)
	}
	target, err := url.Parse(p.AffiliateLink)
	if err != nil {
		return "", fmt.Errorf("%w: %s: malformed link", ErrNoAffiliateLink, productID)
	}
	q := target.Query()
	if q.Get("utm_source") == "" {
		q.Set("utm_source", s.cfg.UTMSource)
		target.RawQuery = q.Encode()
	}

	s.track(ctx, analytics.Event{
		Type:      analytics.EventClick,
		ProductID: p.ID,
		VisitorID: v.VisitorID,
		Path:      v.Path,
		Referrer:  v.Referrer,
		UserAgent: v.UserAgent,
	})
	s.logger.Debug().Str("product_id", p.ID).Msg("Checkout redirect issued.")
	return target.String(), nil
}

// TrackVisit records a page view. Failures are logged, never returned.
func (s *Storefront) TrackVisit(ctx context.Context, productID string, v Visit) {
	s.track(ctx, analytics.Event{
		Type:      analytics.EventVisit,
		ProductID: productID,
		VisitorID: v.VisitorID,
		Path:      v.Path,
		Referrer:  v.Referrer,
		UserAgent: v.UserAgent,
	})
}

// CurrencyFor returns the display currency for a visitor.
func (s *Storefront) CurrencyFor(ctx context.Context, v Visit) string {
	if s.converter == nil {
		return ""
	}
	return s.converter.CurrencyFor(ctx, v.IP)
}

// BaseCurrency returns the currency prices are stored in.
func (s *Storefront) BaseCurrency() string {
	if s.converter == nil {
		return ""
	}
	return s.converter.Base()
}

// Localize shows p's price in target.
func (s *Storefront) Localize(ctx context.Context, p catalog.Product, target string) currency.Price {
	return localize(ctx, s.converter, p, target)
}
