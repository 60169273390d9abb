package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/usecase"
)

func (h *PaymentHandler) BankTransfer(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var in usecase.BankTransferInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}
	in.UserID = uid
	in.IdempotencyKey = idempotencyKey(r)

	txn, err := h.orchestrator.InitiateBankTransfer(r.Context(), in)
	if err != nil {
		h.logger.Warn("bank transfer rejected", zap.String("user_id", uid), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *PaymentHandler) WalletTransfer(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var in usecase.WalletTransferInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}
	in.UserID = uid
	in.IdempotencyKey = idempotencyKey(r)

	txn, err := h.orchestrator.InitiateWalletTransfer(r.Context(), in)
	if err != nil {
		h.logger.Warn("wallet transfer rejected", zap.String("user_id", uid), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *PaymentHandler) VtuPurchase(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var in usecase.VtuInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}
	in.UserID = uid
	in.IdempotencyKey = idempotencyKey(r)

	txn, err := h.orchestrator.InitiateVtuPurchase(r.Context(), in)
	if err != nil {
		h.logger.Warn("vtu purchase rejected", zap.String("user_id", uid), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *PaymentHandler) BillPayment(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var in usecase.BillInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}
	in.UserID = uid
	in.IdempotencyKey = idempotencyKey(r)

	txn, err := h.orchestrator.InitiateBillPayment(r.Context(), in)
	if err != nil {
		h.logger.Warn("bill payment rejected", zap.String("user_id", uid), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	txn, err := h.orchestrator.GetTransaction(r.Context(), reference)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txn)
}

func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, total, err := h.orchestrator.History(r.Context(), uid, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"transactions": list,
		"total":        total,
	})
}

// FeeQuote prices a prospective transaction without touching the ledger.
func (h *PaymentHandler) FeeQuote(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || service == "" {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}

	breakdown := h.fees.Calculate(service, amount)
	respondJSON(w, http.StatusOK, map[string]any{
		"service":   service,
		"amount":    amount.StringFixed(2),
		"fee":       breakdown.Fee.StringFixed(2),
		"total":     amount.Add(breakdown.Fee).StringFixed(2),
		"reason":    breakdown.Reason,
		"breakdown": breakdown.Breakdown,
	})
}
