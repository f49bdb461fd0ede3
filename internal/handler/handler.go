// Package handler exposes the discount engine over HTTP with a chi router
// and a jx codec.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/discount-engine/internal/domain/discount"
	"github.com/xenking/discount-engine/pkg/httpmiddleware"
)

// maxBodySize bounds request bodies. A large POS cart is well under 1 MiB.
const maxBodySize = 1 << 20

// Handler serves the discount API, delegating business logic to the
// discount service.
type Handler struct {
	service *discount.Service
}

// NewHandler constructs a Handler backed by service.
func NewHandler(service *discount.Service) *Handler {
	return &Handler{service: service}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/companies/{companyId}/discounts", h.ListRules)
		r.Post("/companies/{companyId}/discounts/available", h.Available)

		r.Post("/discounts/apply", h.Apply)
		r.Post("/discounts/{id}/validate", h.Validate)
		r.Post("/discounts/{id}/calculate", h.Calculate)
		r.Post("/discounts/{id}/usage", h.RecordUsage)
		r.Get("/discounts/{id}/stats", h.Stats)

		r.Post("/sales/{saleId}/usage", h.RecordSale)
	})
}

// errBadRequest marks body and query decoding failures.
var errBadRequest = errors.New("bad request")

// decode reads the request body and runs fn over it. An empty body is
// decoded as an empty object.
func decode(r *http.Request, fn func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(errBadRequest, "read body")
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps engine errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, discount.ErrInvalidRequest):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discount.ErrRuleNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, discount.ErrRuleNotFound.Error())
	case errors.Is(err, discount.ErrUsageLimitReached):
		httpmiddleware.WriteError(w, http.StatusConflict, discount.ErrUsageLimitReached.Error())
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
