package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/currency"
	"github.com/illmade-knight/go-storefront/pkg/storefront"
)

type productView struct {
	catalog.Product
	DisplayPrice currency.Price `json:"display_price"`
}

type listResponse struct {
	Products []productView `json:"products"`
	Currency string        `json:"currency,omitempty"`
	Stale    bool          `json:"stale"`
}

type productResponse struct {
	Product  productView `json:"product"`
	Currency string      `json:"currency,omitempty"`
	Stale    bool        `json:"stale"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
	Stale      bool     `json:"stale"`
}

type currencyResponse struct {
	Currency string `json:"currency"`
	Base     string `json:"base"`
}

func parseFilter(r *http.Request) (catalog.Filter, error) {
	q := r.URL.Query()
	f := catalog.Filter{
		Category:     q.Get("category"),
		Search:       q.Get("q"),
		Sort:         catalog.ParseSort(q.Get("sort")),
		FeaturedOnly: q.Get("featured") == "true",
	}
	var err error
	if f.MinPrice, err = floatParam(q.Get("min_price")); err != nil {
		return f, fmt.Errorf("min_price: %w", err)
	}
	if f.MaxPrice, err = floatParam(q.Get("max_price")); err != nil {
		return f, fmt.Errorf("max_price: %w", err)
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	return f, nil
}

func floatParam(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// displayCurrency is the explicit ?currency= choice, else the visitor's
// detected currency.
func (a *API) displayCurrency(ctx context.Context, r *http.Request, v storefront.Visit) string {
	if c := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency"))); c != "" {
		return c
	}
	return a.sf.CurrencyFor(ctx, v)
}

func (a *API) views(ctx context.Context, products []catalog.Product, cur string) []productView {
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, productView{Product: p, DisplayPrice: a.sf.Localize(ctx, p, cur)})
	}
	return out
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	f, err := parseFilter(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v := a.visit(w, r)
	res, err := a.sf.Products(ctx, f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.sf.TrackVisit(ctx, "", v)

	cur := a.displayCurrency(ctx, r, v)
	a.writeJSON(w, http.StatusOK, listResponse{Products: a.views(ctx, res.Data, cur), Currency: cur, Stale: res.Stale})
}

func (a *API) handleProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	id := r.PathValue("id")
	v := a.visit(w, r)
	res, err := a.sf.Product(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.sf.TrackVisit(ctx, id, v)

	cur := a.displayCurrency(ctx, r, v)
	a.writeJSON(w, http.StatusOK, productResponse{
		Product:  productView{Product: res.Data, DisplayPrice: a.sf.Localize(ctx, res.Data, cur)},
		Currency: cur,
		Stale:    res.Stale,
	})
}

func (a *API) handleSimilar(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	limit, err := intParam(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		a.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	res, err := a.sf.Similar(ctx, r.PathValue("id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cur := a.displayCurrency(ctx, r, storefront.Visit{IP: clientIP(r)})
	a.writeJSON(w, http.StatusOK, listResponse{Products: a.views(ctx, res.Data, cur), Currency: cur, Stale: res.Stale})
}

func (a *API) handleCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	res, err := a.sf.Categories(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, categoriesResponse{Categories: res.Data, Stale: res.Stale})
}

func (a *API) handleCurrency(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	a.writeJSON(w, http.StatusOK, currencyResponse{
		Currency: a.sf.CurrencyFor(ctx, storefront.Visit{IP: clientIP(r)}),
		Base:     a.sf.BaseCurrency(),
	})
}

// handleCheckout redirects to the product's affiliate link.
func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	target, err := a.sf.Checkout(ctx, r.PathValue("id"), a.visit(w, r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
