package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/innovasure/settlement-orchestrator/internal/api/problem"
	"github.com/innovasure/settlement-orchestrator/internal/idempotency"
	"github.com/innovasure/settlement-orchestrator/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayHeader      = "X-Idempotent-Replay"
	maxIdempotentBody = 1 << 20
	maxIdempotencyKey = 255
)

// idempotencyGuard replays the first outcome of a settlement mutation when the
// console resends it with the same key, e.g. after a timeout on Generate.
type idempotencyGuard struct {
	store  *idempotency.Store
	logger *zap.Logger
}

// IdempotencyMiddleware guards POST routes. The key is optional and scoped to
// the operator; requests without one run normally.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	g := &idempotencyGuard{store: store, logger: logger}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *idempotencyGuard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	clientKey := r.Header.Get(IdempotencyHeader)
	if r.Method != http.MethodPost || clientKey == "" {
		if r.Method == http.MethodPost {
			observability.IncrementIdempotencyEvent("missing_key")
		}
		next.ServeHTTP(w, r)
		return
	}
	if len(clientKey) > maxIdempotencyKey {
		problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/invalid-key"), http.StatusText(http.StatusBadRequest), "Idempotency-Key is too long")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
		return
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	ctx := r.Context()
	key := UserIDFromContext(ctx) + ":" + clientKey
	hash := requestHash(r.Method, r.URL.Path, body)

	rec, err := g.store.Lookup(ctx, key, hash)
	switch {
	case err == nil:
		g.replay(w, rec, "replay")
		return
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict), "Idempotency-Key was used with a different request")
		return
	case errors.Is(err, idempotency.ErrInProgress):
		g.awaitFirst(w, r, key, hash)
		return
	case !errors.Is(err, idempotency.ErrNotFound):
		observability.IncrementIdempotencyEvent("lookup_error")
		g.logger.Warn("idempotency lookup failed", zap.Error(err))
	}

	reserved, err := g.store.Reserve(ctx, key, hash, r.Method, r.URL.Path)
	if err != nil {
		observability.IncrementIdempotencyEvent("reserve_error")
		g.logger.Error("idempotency reserve failed", zap.Error(err))
		problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), http.StatusText(http.StatusServiceUnavailable), "idempotency store unavailable")
		return
	}
	if !reserved {
		g.awaitFirst(w, r, key, hash)
		return
	}
	observability.IncrementIdempotencyEvent("reserved")

	rw := &capturingWriter{statusRecorder: statusRecorder{ResponseWriter: w}}
	next.ServeHTTP(rw, r)
	g.settle(r, key, hash, rw)
}

// settle stores the handler's outcome. Server faults are released so the
// console can retry with the same key.
func (g *idempotencyGuard) settle(r *http.Request, key, hash string, rw *capturingWriter) {
	ctx := r.Context()
	if rw.Status() >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, key); err != nil {
			g.logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", key))
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}

	contentType := rw.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := g.store.Finalize(ctx, key, hash, rw.Status(), rw.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		g.logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

// awaitFirst blocks until the request holding the key finishes, then replays it.
func (g *idempotencyGuard) awaitFirst(w http.ResponseWriter, r *http.Request, key, hash string) {
	rec, err := g.store.WaitForCompletion(r.Context(), key, hash)
	if err == nil {
		g.replay(w, rec, "replay_after_wait")
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	g.logger.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), http.StatusText(http.StatusConflict), "a request with this Idempotency-Key is still running")
}

func (g *idempotencyGuard) replay(w http.ResponseWriter, rec *idempotency.Record, event string) {
	observability.IncrementIdempotencyEvent(event)
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(ReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// capturingWriter keeps a copy of the body for Finalize.
type capturingWriter struct {
	statusRecorder
	body bytes.Buffer
}

func (cw *capturingWriter) Write(b []byte) (int, error) {
	cw.body.Write(b)
	return cw.statusRecorder.Write(b)
}
