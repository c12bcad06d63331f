package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/export"
	"github.com/innovasure/settlement-orchestrator/internal/models"
	"github.com/innovasure/settlement-orchestrator/internal/service"
	"go.uber.org/zap"
)

// SettlementHandler serves batch-level settlement routes.
type SettlementHandler struct {
	settlements *service.SettlementService
	dispatch    *service.DispatchService
	status      *service.StatusService
}

func NewSettlementHandler(settlements *service.SettlementService, dispatch *service.DispatchService, status *service.StatusService) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, dispatch: dispatch, status: status}
}

type generateRequest struct {
	Date string `json:"date"`
}

type generateResponse struct {
	*models.SettlementBatch
	Warning string `json:"warning,omitempty"`
}

// Generate handles POST /settlements/generate.
func (h *SettlementHandler) Generate(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, verr := parseSettlementDate(req.Date)
	if verr != nil {
		RespondServiceError(w, r, verr)
		return
	}

	batch, err := h.settlements.Generate(r.Context(), date, actorID)
	if errors.Is(err, domain.ErrNoPayments) && batch != nil {
		RespondJSON(w, http.StatusCreated, generateResponse{SettlementBatch: batch, Warning: err.Error()})
		return
	}
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, generateResponse{SettlementBatch: batch})
}

func parseSettlementDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	verr := &domain.ValidationError{}
	if raw == "" {
		verr.Add("date", "Settlement date is required")
		return time.Time{}, verr
	}
	if d, err := time.Parse("2006-01-02", raw); err == nil {
		return d, nil
	}
	if d, err := time.Parse(time.RFC3339, raw); err == nil {
		return d, nil
	}
	verr.Add("date", "Settlement date must be YYYY-MM-DD or RFC 3339")
	return time.Time{}, verr
}

// List handles GET /settlements?status=&limit=&offset=.
func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", err.Error())
		return
	}

	batches, err := h.settlements.List(r.Context(), r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  batches,
		"count":  len(batches),
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /settlements/{id}.
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.settlements.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, batch)
}

// InitiateCommissions handles POST /settlements/{id}/payouts/commissions.
// Rows are dispatched in the background; progress is read from payout-status.
func (h *SettlementHandler) InitiateCommissions(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.dispatch.InitiateCommissionPayouts(r.Context(), id, actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusAccepted, batch)
}

// PayoutCategory handles POST /settlements/{id}/payouts/{category}
// for the insurance and administrative allocations.
func (h *SettlementHandler) PayoutCategory(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.settlements.PayoutCategory(r.Context(), id, chi.URLParam(r, "category"), actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, batch)
}

type processRequest struct {
	Notes string `json:"notes"`
}

// Process handles POST /settlements/{id}/process.
func (h *SettlementHandler) Process(w http.ResponseWriter, r *http.Request) {
	actorID, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req processRequest
	if !decodeBody(w, r, &req) {
		return
	}
	batch, err := h.settlements.Process(r.Context(), id, strings.TrimSpace(req.Notes), actorID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, batch)
}

// PayoutStatus handles GET /settlements/{id}/payout-status.
func (h *SettlementHandler) PayoutStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	status, err := h.status.GetStatus(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, status)
}

// PayoutDetails handles GET /settlements/{id}/payouts/details?status=.
func (h *SettlementHandler) PayoutDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.status.GetDetails(r.Context(), id, r.URL.Query().Get("status"))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": rows,
		"count": len(rows),
	})
}

// Export handles GET /settlements/{id}/export. PDF by default, ?format=xlsx
// for a workbook.
func (h *SettlementHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = export.FormatPDF
	}
	if format != export.FormatPDF && format != export.FormatXLSX {
		RespondError(w, r, http.StatusBadRequest, "export/unsupported-format", "format must be pdf or xlsx")
		return
	}

	batch, err := h.settlements.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	status, err := h.status.GetStatus(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	rows, err := h.status.GetDetails(r.Context(), id, "")
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}

	report := export.Report{
		Batch:                *batch,
		Rows:                 rows,
		CompletionPercentage: status.CompletionPercentage,
		GeneratedAt:          time.Now().UTC(),
	}
	var (
		body        []byte
		contentType string
	)
	if format == export.FormatXLSX {
		body, err = export.BuildXLSX(report)
		contentType = export.ContentTypeXLSX
	} else {
		body, err = export.BuildPDF(report)
		contentType = export.ContentTypePDF
	}
	if err != nil {
		zap.L().Error("export settlement failed", zap.Error(err), zap.String("settlement_id", id.String()))
		RespondError(w, r, http.StatusInternalServerError, "export/render-failed", "Failed to render report")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
