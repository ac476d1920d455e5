// Package httpapi exposes a Storefront as a JSON HTTP API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
	"github.com/illmade-knight/go-storefront/pkg/media"
	"github.com/illmade-knight/go-storefront/pkg/querycache"
	"github.com/illmade-knight/go-storefront/pkg/storefront"
	"github.com/rs/zerolog"
)

const (
	maxProductBody = 1 << 20
	visitorMaxAge  = 365 * 24 * time.Hour
)

// Config holds the API's own settings.
type Config struct {
	// AdminToken guards /api/admin. Admin routes are refused when it is empty.
	AdminToken     string        `yaml:"admin_token"`
	VisitorCookie  string        `yaml:"visitor_cookie"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxImageBytes  int64         `yaml:"max_image_bytes"`
}

// API serves storefront pages as JSON.
type API struct {
	sf     *storefront.Storefront
	cfg    Config
	logger zerolog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates an API over sf.
func New(cfg Config, sf *storefront.Storefront, logger zerolog.Logger) (*API, error) {
	if sf == nil {
		return nil, errors.New("storefront cannot be nil")
	}
	if cfg.VisitorCookie == "" {
		cfg.VisitorCookie = "sf_visitor"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = media.DefaultMaxImageBytes
	}
	return &API{
		sf:     sf,
		cfg:    cfg,
		logger: logger.With().Str("component", "HTTPAPI").Logger(),
	}, nil
}

// Register adds every route to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", a.handleList)
	mux.HandleFunc("GET /api/products/{id}", a.handleProduct)
	mux.HandleFunc("GET /api/products/{id}/similar", a.handleSimilar)
	mux.HandleFunc("GET /api/categories", a.handleCategories)
	mux.HandleFunc("GET /api/currency", a.handleCurrency)
	mux.HandleFunc("GET /go/{id}", a.handleCheckout)

	mux.Handle("POST /api/admin/products", a.admin(a.handleCreate))
	mux.Handle("PUT /api/admin/products/{id}", a.admin(a.handleUpdate))
	mux.Handle("DELETE /api/admin/products/{id}", a.admin(a.handleDelete))
	mux.Handle("POST /api/admin/products/{id}/image", a.admin(a.handleUpload))
	mux.Handle("GET /api/admin/stats", a.admin(a.handleStats))
	mux.Handle("POST /api/admin/cache/clear", a.admin(a.handleClearCache))
}

// Handler returns a mux holding only the API routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

func (a *API) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.AdminToken == "" {
			a.writeError(w, http.StatusForbidden, "admin API is disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.AdminToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			a.writeError(w, http.StatusUnauthorized, "missing or invalid admin token")
			return
		}
		next(w, r)
	})
}

func (a *API) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.cfg.RequestTimeout)
}

// visit identifies the caller, issuing a visitor cookie on first contact.
func (a *API) visit(w http.ResponseWriter, r *http.Request) storefront.Visit {
	v := storefront.Visit{
		Path:      r.URL.Path,
		Referrer:  r.Referer(),
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	}
	if c, err := r.Cookie(a.cfg.VisitorCookie); err == nil && c.Value != "" {
		v.VisitorID = c.Value
		return v
	}
	v.VisitorID = uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.VisitorCookie,
		Value:    v.VisitorID,
		Path:     "/",
		MaxAge:   int(visitorMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return v
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode response.")
	}
}

func (a *API) writeError(w http.ResponseWriter, statusCode int, message string) {
	a.writeJSON(w, statusCode, errorResponse{Error: message})
}

// fail maps a domain error onto a response.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		a.writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, storefront.ErrNoAffiliateLink):
		a.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrInvalidProduct), errors.Is(err, media.ErrUnsupportedImage):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrImageTooLarge):
		a.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, storefront.ErrStatsUnavailable), errors.Is(err, storefront.ErrUploadsDisabled):
		a.writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, querycache.ErrInvalidKey):
		a.writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, context.DeadlineExceeded):
		a.writeError(w, http.StatusGatewayTimeout, "upstream timed out")
	default:
		a.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed.")
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
