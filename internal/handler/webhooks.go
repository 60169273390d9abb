package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
)

// Limit webhook bodies; providers send small JSON payloads.
const maxWebhookBody = 1 << 20

// ProviderWebhook receives provider callbacks. A 2xx is only written
// after the event is durably recorded; signature failures are the one
// case that returns 401 so the provider operators notice misconfigured
// secrets. Processing errors return 500 and rely on provider redelivery.
func (h *PaymentHandler) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}

	err = h.reconciler.HandleWebhook(r.Context(), providerName, body, r.Header)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, xerrors.ErrInvalidSignature):
		respondError(w, err)
	case errors.Is(err, xerrors.ErrNotFound):
		respondError(w, err)
	default:
		h.logger.Error("webhook processing failed",
			zap.String("provider", providerName), zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
	}
}
