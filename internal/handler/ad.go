package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/service"
)

// AdHandler serves the marketplace.
type AdHandler struct {
	svc *service.AdService
}

// NewAdHandler constructs an AdHandler.
func NewAdHandler(svc *service.AdService) *AdHandler {
	return &AdHandler{svc: svc}
}

// CreateAd handles POST /ads
// Drafts an ad owned by the caller.
func (h *AdHandler) CreateAd(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req model.CreateAdRequest
	if !bind(w, r, &req) {
		return
	}
	a, err := h.svc.CreateAd(r.Context(), u, req)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAds handles GET /ads
// Returns the live, unexpired ads.
func (h *AdHandler) ListAds(w http.ResponseWriter, r *http.Request) {
	ads, err := h.svc.ListLiveAds(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if ads == nil {
		ads = []model.Ad{}
	}
	writeJSON(w, http.StatusOK, ads)
}

// GetAd handles GET /ads/{id}
func (h *AdHandler) GetAd(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetAd(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "ad not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SubmitAd handles POST /ads/{id}/submit
func (h *AdHandler) SubmitAd(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	a, err := h.svc.SubmitAd(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "ad not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Checkout handles POST /ads/{id}/checkout
// Opens the single payment session that can put the ad live.
func (h *AdHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.Checkout(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err, "ad not found")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
