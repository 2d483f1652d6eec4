package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kasirinaja/posledger/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListCatalog(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreditAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.service.GetCreditAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":         account,
		"available_cents": account.AvailableCents(),
	})
}

func (a *API) handleFavorites(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 10, 50)
	resp, err := a.service.Favorites(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleCheckoutLookup(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("idempotency key required"))
		return
	}

	resp, err := a.service.LookupSaleByIdempotency(r.Context(), key)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleNextReceipt(w http.ResponseWriter, r *http.Request) {
	number, err := a.service.NextReceipt(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, number)
}

func (a *API) handleLayawayOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.LayawayOpenRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.OpenLayawayFromRequest(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleLayaway(w http.ResponseWriter, r *http.Request) {
	plan, err := a.service.GetLayaway(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.LayawayResponse{Plan: plan})
}

func (a *API) handleLayawayInstallment(w http.ResponseWriter, r *http.Request) {
	var req domain.InstallmentRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	plan, err := a.service.RecordInstallment(r.Context(), chi.URLParam(r, "id"), req.AmountCents, req.Method, req.Note)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.LayawayResponse{Plan: plan})
}

func (a *API) handleLayawayCancel(w http.ResponseWriter, r *http.Request) {
	plan, err := a.service.CancelLayaway(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.LayawayResponse{Plan: plan})
}
