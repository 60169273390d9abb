// Package handler exposes the payment flows over HTTP. Handlers decode,
// delegate to the usecase layer and map sentinel errors to status codes;
// no business logic lives here.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/fees"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/usecase"
)

type PaymentHandler struct {
	orchestrator *usecase.Orchestrator
	reconciler   *usecase.Reconciler
	pins         *usecase.PinService
	fees         *fees.Table
	logger       *zap.Logger
}

func NewPaymentHandler(
	orchestrator *usecase.Orchestrator,
	reconciler *usecase.Reconciler,
	pins *usecase.PinService,
	feeTable *fees.Table,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		reconciler:   reconciler,
		pins:         pins,
		fees:         feeTable,
		logger:       logger,
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, err error) {
	respondJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps sentinel errors onto HTTP statuses. Unrecognized errors
// are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrInvalidInput),
		errors.Is(err, xerrors.ErrInvalidRequest),
		errors.Is(err, xerrors.ErrInvalidMsisdn),
		errors.Is(err, xerrors.ErrInvalidBvn),
		errors.Is(err, xerrors.ErrUnresolvedBank),
		errors.Is(err, xerrors.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrInvalidPin),
		errors.Is(err, xerrors.ErrPinNotSet),
		errors.Is(err, xerrors.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrPinLocked),
		errors.Is(err, xerrors.ErrKycRestricted),
		errors.Is(err, xerrors.ErrWalletFrozen),
		errors.Is(err, xerrors.ErrWalletInactive):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrWalletNotFound),
		errors.Is(err, xerrors.ErrTransactionNotFound),
		errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrInsufficientFunds),
		errors.Is(err, xerrors.ErrDailyLimit),
		errors.Is(err, xerrors.ErrMonthlyLimit),
		errors.Is(err, xerrors.ErrSingleTxnLimit),
		errors.Is(err, xerrors.ErrPlanUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, xerrors.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, xerrors.ErrCircuitOpen),
		errors.Is(err, xerrors.ErrProviderTimeout),
		errors.Is(err, xerrors.ErrProviderError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userID pulls the authenticated user from the request. The gateway in
// front of this service resolves the session and injects the header.
func userID(r *http.Request) (string, error) {
	uid := r.Header.Get("X-User-ID")
	if uid == "" {
		return "", xerrors.ErrInvalidRequest
	}
	return uid, nil
}

// idempotencyKey is optional. Without one, each submission creates its
// own transaction.
func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}
