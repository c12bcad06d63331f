package handler

import (
	"net/http"

	"github.com/innovasure/settlement-orchestrator/internal/service"
)

// PayoutHandler serves row-level payout routes under a settlement.
type PayoutHandler struct {
	dispatch *service.DispatchService
	manual   *service.ManualReconciliationService
	ledger   *service.PayoutLedger
}

// NewPayoutHandler creates a new PayoutHandler instance.
func NewPayoutHandler(dispatch *service.DispatchService, manual *service.ManualReconciliationService, ledger *service.PayoutLedger) *PayoutHandler {
	return &PayoutHandler{dispatch: dispatch, manual: manual, ledger: ledger}
}

// Retry handles POST /settlements/{id}/payouts/{payoutId}/retry.
// The row is requeued; its outcome shows up in the next status poll.
func (h *PayoutHandler) Retry(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	batchID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	payoutID, ok := pathUUID(w, r, "payoutId")
	if !ok {
		return
	}

	row, err := h.dispatch.Retry(r.Context(), batchID, payoutID, actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, row)
}

// manualRequest accepts the console's camelCase keys as well as snake_case.
type manualRequest struct {
	TransactionRef       string `json:"transactionRef"`
	TransactionDate      string `json:"transactionDate"`
	Phone                string `json:"phone"`
	Notes                string `json:"notes"`
	TransactionRefSnake  string `json:"transaction_ref"`
	TransactionDateSnake string `json:"transaction_date"`
}

func (m manualRequest) entry() service.ManualEntry {
	e := service.ManualEntry{
		TransactionRef:  m.TransactionRef,
		TransactionDate: m.TransactionDate,
		Phone:           m.Phone,
		Notes:           m.Notes,
	}
	if e.TransactionRef == "" {
		e.TransactionRef = m.TransactionRefSnake
	}
	if e.TransactionDate == "" {
		e.TransactionDate = m.TransactionDateSnake
	}
	return e
}

// RecordManual handles POST /settlements/{id}/payouts/{payoutId}/manual.
func (h *PayoutHandler) RecordManual(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	batchID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	payoutID, ok := pathUUID(w, r, "payoutId")
	if !ok {
		return
	}
	var req manualRequest
	if !decodeBody(w, r, &req) {
		return
	}

	row, err := h.manual.RecordManual(r.Context(), batchID, payoutID, req.entry(), actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, row)
}

// History handles GET /settlements/{id}/payouts/{payoutId}/audit.
func (h *PayoutHandler) History(w http.ResponseWriter, r *http.Request) {
	batchID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	payoutID, ok := pathUUID(w, r, "payoutId")
	if !ok {
		return
	}
	entries, err := h.ledger.History(r.Context(), batchID, payoutID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": entries})
}
