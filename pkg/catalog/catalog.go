// Package catalog holds the storefront's product model, its repositories and
// the cached Service the HTTP layer and view models read through.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidProduct wraps every validation failure.
	ErrInvalidProduct = errors.New("invalid product")
)

// DefaultSimilarLimit caps the similar-products strip on a detail page.
const DefaultSimilarLimit = 4

// Product is a catalog item. Prices are held in the store's base currency.
type Product struct {
	ID            string    `json:"id" firestore:"id"`
	Name          string    `json:"name" firestore:"name"`
	Description   string    `json:"description" firestore:"description"`
	Category      string    `json:"category" firestore:"category"`
	Brand         string    `json:"brand,omitempty" firestore:"brand"`
	Price         float64   `json:"price" firestore:"price"`
	Currency      string    `json:"currency" firestore:"currency"`
	ImageURL      string    `json:"image_url,omitempty" firestore:"image_url"`
	AffiliateLink string    `json:"affiliate_link,omitempty" firestore:"affiliate_link"`
	Rating        float64   `json:"rating" firestore:"rating"`
	Featured      bool      `json:"featured" firestore:"featured"`
	CreatedAt     time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" firestore:"updated_at"`
}

// Validate checks the fields an admin must supply.
func (p Product) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(p.Category) == "" {
		errs = append(errs, errors.New("category is required"))
	}
	if p.Price < 0 {
		errs = append(errs, errors.New("price cannot be negative"))
	}
	if p.Rating < 0 || p.Rating > 5 {
		errs = append(errs, errors.New("rating must be between 0 and 5"))
	}
	if p.AffiliateLink != "" {
		u, err := url.Parse(p.AffiliateLink)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, errors.New("affiliate_link must be an absolute http(s) URL"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidProduct, errors.Join(errs...))
	}
	return nil
}

// Sort orders a product listing.
type Sort string

const (
	SortNewest    Sort = "newest"
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortRating    Sort = "rating"
	SortName      Sort = "name"
)

// ParseSort returns the Sort named by s, defaulting to SortNewest.
func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortPriceAsc, SortPriceDesc, SortRating, SortName:
		return Sort(s)
	default:
		return SortNewest
	}
}

// Filter selects a page of products. Zero values mean "no constraint".
type Filter struct {
	Category     string
	Search       string
	MinPrice     float64
	MaxPrice     float64
	FeaturedOnly bool
	Sort         Sort
	Limit        int
	Offset       int
}

// CanonicalCategory is the stored form of a category name. Categories are
// matched case-insensitively, and storing them lower-cased lets backends
// compare them with plain equality.
func CanonicalCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// MaxPageSize bounds Filter.Limit.
const MaxPageSize = 100

// Normalize returns a copy with defaults applied, so that equal queries share a
// cache key.
func (f Filter) Normalize() Filter {
	f.Category = CanonicalCategory(f.Category)
	f.Search = strings.ToLower(strings.TrimSpace(f.Search))
	f.Sort = ParseSort(string(f.Sort))
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.MinPrice < 0 {
		f.MinPrice = 0
	}
	if f.MaxPrice < 0 {
		f.MaxPrice = 0
	}
	return f
}

// Matches reports whether p satisfies every constraint of f except paging.
func (f Filter) Matches(p Product) bool {
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.FeaturedOnly && !p.Featured {
		return false
	}
	if f.MinPrice > 0 && p.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && p.Price > f.MaxPrice {
		return false
	}
	if f.Search != "" {
		haystack := strings.ToLower(p.Name + " " + p.Description + " " + p.Brand)
		if !strings.Contains(haystack, strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

// Encode renders the normalized filter as sorted query parameters.
func (f Filter) Encode() string {
	f = f.Normalize()
	v := url.Values{}
	if f.Category != "" {
		v.Set("category", f.Category)
	}
	if f.Search != "" {
		v.Set("q", f.Search)
	}
	if f.MinPrice > 0 {
		v.Set("min_price", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		v.Set("max_price", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	if f.FeaturedOnly {
		v.Set("featured", "true")
	}
	v.Set("sort", string(f.Sort))
	v.Set("limit", strconv.Itoa(f.Limit))
	v.Set("offset", strconv.Itoa(f.Offset))
	return v.Encode()
}
