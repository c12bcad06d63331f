package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/innovasure/settlement-orchestrator/internal/api/middleware"
	"github.com/innovasure/settlement-orchestrator/internal/api/problem"
	"github.com/innovasure/settlement-orchestrator/internal/domain"
	"github.com/innovasure/settlement-orchestrator/internal/repository"
	"github.com/innovasure/settlement-orchestrator/internal/service"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps a service error onto a problem document.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		problem.WriteDetails(w, r, problem.Details{
			Type:   problem.Type("validation"),
			Status: http.StatusBadRequest,
			Detail: verr.Error(),
			Errors: verr.Fields,
		})
		return
	}

	var serr *domain.InvalidStateError
	switch {
	case errors.As(err, &serr):
		RespondError(w, r, http.StatusConflict, "settlement/invalid-state", serr.Error())
	case errors.Is(err, domain.ErrBatchNotFound):
		RespondError(w, r, http.StatusNotFound, "settlement/not-found", err.Error())
	case errors.Is(err, domain.ErrPayoutNotFound):
		RespondError(w, r, http.StatusNotFound, "payout/not-found", err.Error())
	case errors.Is(err, domain.ErrDuplicateBatch):
		RespondError(w, r, http.StatusConflict, "settlement/duplicate", err.Error())
	case errors.Is(err, domain.ErrMaxAttemptsExceeded):
		RespondError(w, r, http.StatusConflict, "payout/max-attempts", err.Error())
	case errors.Is(err, domain.ErrAlreadyCompleted):
		RespondError(w, r, http.StatusConflict, "payout/already-completed", err.Error())
	case errors.Is(err, domain.ErrDispatchInProgress):
		RespondError(w, r, http.StatusConflict, "payout/dispatch-in-progress", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		RespondError(w, r, http.StatusConflict, "settlement/invalid-state", err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "callback/invalid-signature", err.Error())
	default:
		if status, slug, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, slug, msg)
			return
		}
		middleware.LoggerFromContext(r.Context()).Error("request failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
		)
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

// requestActor returns the operator recorded as actor in the audit log.
func requestActor(r *http.Request) (*uuid.UUID, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return nil, errors.New("missing principal in auth context")
	}
	return &p.UserID, nil
}

// pathUUID parses a chi URL parameter, answering 400 itself when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody reads an optional JSON body. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "failed to read request body")
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "request body must be valid JSON")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	if errors.Is(err, repository.ErrUniqueViolation) {
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
