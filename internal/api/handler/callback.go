package handler

import (
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/ikwen/paygate/internal/service"
	"go.uber.org/zap"
)

// CallbackHandler receives provider notifications.
type CallbackHandler struct {
	callbacks *service.CallbackService
}

func NewCallbackHandler(callbacks *service.CallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

// Handle serves GET and POST /v1/callbacks/{provider}/{transactionID}.
// Providers retry on anything but 2xx, so duplicates and late callbacks for
// settled transactions still get 200.
func (h *CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	txID, ok := parseIDParam(w, r, chi.URLParam(r, "transactionID"), "transaction")
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	query := r.URL.Query()
	in := service.InboundCallback{
		Provider:      chi.URLParam(r, "provider"),
		TransactionID: txID,
		Token:         query.Get(service.CallbackTokenParam),
		Method:        r.Method,
		URL:           r.URL.String(),
		RemoteAddr:    r.RemoteAddr,
		Body:          body,
		Header:        r.Header,
		Query:         query,
		Form:          parseForm(r, body),
	}

	res, err := h.callbacks.Handle(r.Context(), in)
	if err != nil {
		zap.L().Warn("provider callback rejected",
			zap.Error(err),
			zap.String("provider", in.Provider),
			zap.String("transaction_id", txID.String()),
		)
		respondServiceError(w, r, err, "callback/handle")
		return
	}

	RespondJSON(w, http.StatusOK, res)
}

func parseForm(r *http.Request, body []byte) url.Values {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return url.Values{}
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return url.Values{}
	}
	return form
}
