package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/illmade-knight/go-storefront/pkg/analytics"
	"github.com/illmade-knight/go-storefront/pkg/catalog"
)

type statsResponse struct {
	Stats analytics.Summary `json:"stats"`
	Stale bool              `json:"stale"`
}

func (a *API) decodeProduct(w http.ResponseWriter, r *http.Request) (catalog.Product, bool) {
	var p catalog.Product
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProductBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return catalog.Product{}, false
	}
	return p, true
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	p, ok := a.decodeProduct(w, r)
	if !ok {
		return
	}
	created, err := a.sf.CreateProduct(ctx, p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/products/"+created.ID)
	a.writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	p, ok := a.decodeProduct(w, r)
	if !ok {
		return
	}
	updated, err := a.sf.UpdateProduct(ctx, r.PathValue("id"), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	if err := a.sf.DeleteProduct(ctx, r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpload accepts either a multipart form with an "image" file or the raw
// image as the request body.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	// Multipart framing needs some room beyond the image itself.
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxImageBytes+64<<10)

	var (
		body        io.Reader = r.Body
		contentType           = r.Header.Get("Content-Type")
	)
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("image")
		if err != nil {
			a.uploadError(w, err)
			return
		}
		defer func() { _ = file.Close() }()
		body, contentType = file, header.Header.Get("Content-Type")
	}

	updated, err := a.sf.UploadImage(ctx, r.PathValue("id"), contentType, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, updated)
}

func (a *API) uploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	a.writeError(w, http.StatusBadRequest, fmt.Sprintf("missing image: %v", err))
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	res, err := a.sf.Stats(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, statsResponse{Stats: res.Data, Stale: res.Stale})
}

// handleClearCache resets the query cache and the shared catalog cache.
func (a *API) handleClearCache(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.requestContext(r)
	defer cancel()

	if err := a.sf.ClearCache(ctx); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info().Msg("Caches cleared by admin.")
	w.WriteHeader(http.StatusNoContent)
}
