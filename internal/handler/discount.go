package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/discount-engine/internal/domain/discount"
)

// ListRules serves GET /api/companies/{companyId}/discounts. Query filters:
// branchId, active and appliesTo.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := discount.ListFilter{
		BranchID:  q.Get("branchId"),
		AppliesTo: discount.Scope(q.Get("appliesTo")),
	}
	switch filter.AppliesTo {
	case "", discount.ScopeOrder, discount.ScopeProduct, discount.ScopeCategory:
	default:
		writeError(w, r, errors.Wrapf(errBadRequest, "unknown appliesTo %q", filter.AppliesTo))
		return
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, errors.Wrapf(errBadRequest, "invalid active %q", v))
			return
		}
		filter.ActiveOnly = active
	}

	rules, err := h.service.ListRules(r.Context(), chi.URLParam(r, "companyId"), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range rules {
			encodeRule(e, &rules[i])
		}
		e.ArrEnd()
	})
}

// Available serves POST /api/companies/{companyId}/discounts/available.
func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	var body saleContext
	if err := decode(r, func(d *jx.Decoder) (err error) {
		body, err = decodeSaleContext(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	offers, err := h.service.Available(r.Context(), discount.AvailableRequest{
		CompanyID:  chi.URLParam(r, "companyId"),
		Cart:       body.Cart,
		CustomerID: body.CustomerID,
		BranchID:   body.BranchID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range offers {
			e.ObjStart()
			e.FieldStart("discount")
			encodeRule(e, &offers[i].Rule)
			e.FieldStart("validation")
			encodeValidation(e, offers[i].Validation)
			e.FieldStart("preview")
			encodeResult(e, offers[i].Preview)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// Validate serves POST /api/discounts/{id}/validate. Unknown ids produce an
// invalid result rather than 404.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var body saleContext
	if err := decode(r, func(d *jx.Decoder) (err error) {
		body, err = decodeSaleContext(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.service.Validate(r.Context(), discount.ValidateRequest{
		RuleID:     chi.URLParam(r, "id"),
		Cart:       body.Cart,
		CustomerID: body.CustomerID,
		BranchID:   body.BranchID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeValidation(e, res) })
}

// Calculate serves POST /api/discounts/{id}/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var body saleContext
	if err := decode(r, func(d *jx.Decoder) (err error) {
		body, err = decodeSaleContext(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.service.CalculateSingle(r.Context(), chi.URLParam(r, "id"), body.Cart)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeResult(e, res) })
}

// Apply serves POST /api/discounts/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var body applyBody
	if err := decode(r, func(d *jx.Decoder) (err error) {
		body, err = decodeApply(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.service.ApplyMultiple(r.Context(), discount.ApplyRequest{
		RuleIDs:    body.RuleIDs,
		Cart:       body.Cart,
		CustomerID: body.CustomerID,
		BranchID:   body.BranchID,
		Revalidate: body.Revalidate,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeResult(e, res) })
}

// RecordUsage serves POST /api/discounts/{id}/usage. A usage cap that is
// already exhausted yields 409.
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var body usageBody
	if err := decode(r, func(d *jx.Decoder) (err error) {
		body, err = decodeUsage(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.service.Record(r.Context(), discount.RecordRequest{
		RuleID:     chi.URLParam(r, "id"),
		SaleID:     body.SaleID,
		Amount:     body.Amount,
		CustomerID: body.CustomerID,
		OrderTotal: body.OrderTotal,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeUsage(e, rec) })
}

// RecordSale serves POST /api/sales/{saleId}/usage. On failure the response
// is the error; records written before it remain.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var body saleUsageBody
	if err := decode(r, func(d *jx.Decoder) (err error) {
		body, err = decodeSaleUsage(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	records, err := h.service.RecordSale(r.Context(), discount.SaleRequest{
		SaleID:     chi.URLParam(r, "saleId"),
		CustomerID: body.CustomerID,
		OrderTotal: body.OrderTotal,
		Applied:    body.Applied,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.ArrStart()
		for _, rec := range records {
			encodeUsage(e, rec)
		}
		e.ArrEnd()
	})
}

// Stats serves GET /api/discounts/{id}/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStats(e, st) })
}
