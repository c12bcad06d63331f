package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/service"
	"go.uber.org/zap"
)

// CallbackHandler receives asynchronous payout results from providers.
type CallbackHandler struct {
	callbacks *service.CallbackService
}

// NewCallbackHandler creates a new CallbackHandler instance.
func NewCallbackHandler(callbacks *service.CallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

// HandlePayoutCallback handles POST /callbacks/payouts.
// It verifies the HMAC signature and applies the result to the payout row.
func (h *CallbackHandler) HandlePayoutCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		zap.L().Error("read callback body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	row, err := h.callbacks.HandlePayoutCallback(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		zap.L().Warn("payout callback rejected", zap.Error(err))
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, row)
}

type darajaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// HandleMpesaResult handles POST /callbacks/mpesa/b2c/result. Daraja redelivers
// anything that is not acknowledged, so results for unknown or already
// completed rows are logged and acknowledged.
func (h *CallbackHandler) HandleMpesaResult(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	row, err := h.callbacks.HandleMpesaResult(r.Context(), body)
	switch {
	case err == nil:
		zap.L().Info("mpesa result applied",
			zap.String("payout_id", row.ID.String()),
			zap.String("status", row.Status),
		)
	case errors.Is(err, domain.ErrPayoutNotFound), errors.Is(err, domain.ErrAlreadyCompleted):
		zap.L().Warn("mpesa result ignored", zap.Error(err))
	default:
		zap.L().Error("mpesa result rejected", zap.Error(err))
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, darajaAck{ResultCode: 0, ResultDesc: "Accepted"})
}
