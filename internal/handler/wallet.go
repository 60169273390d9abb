package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/usecase"
)

func (h *PaymentHandler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var in usecase.OpenWalletInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}
	in.UserID = uid

	wallet, err := h.orchestrator.OpenWallet(r.Context(), in)
	if err != nil {
		h.logger.Error("open wallet failed", zap.String("user_id", uid), zap.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wallet)
}

func (h *PaymentHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	wallet, err := h.orchestrator.GetWallet(r.Context(), uid)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

func (h *PaymentHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}
	if err := h.pins.Set(r.Context(), uid, req.Pin); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pin set"})
}

func (h *PaymentHandler) VerifyBvn(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		respondError(w, err)
		return
	}

	var payload domain.BvnPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, xerrors.ErrInvalidRequest)
		return
	}

	result, err := h.orchestrator.VerifyBvn(r.Context(), payload)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
