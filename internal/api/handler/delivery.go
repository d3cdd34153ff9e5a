package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ikwen/paygate/internal/service"
)

// DeliveryHandler lets admins inspect and requeue tenant callback deliveries.
type DeliveryHandler struct {
	deliveries *service.DeliveryService
}

func NewDeliveryHandler(deliveries *service.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries}
}

// ListFailed handles GET /v1/deliveries/failed.
func (h *DeliveryHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}
	items, err := h.deliveries.ListFailed(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "delivery/list")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// Retry handles POST /v1/deliveries/{id}/retry.
func (h *DeliveryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "delivery")
	if !ok {
		return
	}

	d, err := h.deliveries.Retry(r.Context(), id, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "delivery/retry")
		return
	}
	RespondJSON(w, http.StatusAccepted, d)
}
