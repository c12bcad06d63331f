package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	TraceHeader   = "X-Trace-ID"
	requestHeader = "X-Request-ID"
	maxTraceLen   = 128
)

// TraceMiddleware tags each request with a trace id. The console and the
// Daraja gateway send their own ids; anything unusable is replaced.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r.Header.Set(TraceHeader, traceID)
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, traceID)))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, h := range []string{TraceHeader, requestHeader} {
		if v := r.Header.Get(h); validTraceID(v) {
			return v
		}
	}
	return ""
}

func validTraceID(v string) bool {
	if v == "" || len(v) > maxTraceLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
