package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const readinessTimeout = time.Second

// Pinger is satisfied by both storage drivers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db    Pinger
	redis redis.Cmdable
}

func NewHealthHandler(db Pinger, redis redis.Cmdable) *HealthHandler {
	return &HealthHandler{db: db, redis: redis}
}

type readiness struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Live reports OK while the process can serve HTTP.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

// Ready checks the database and, when leases live there, Redis. Without Redis
// the service still runs with in-process leases, so that is reported but not fatal.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := readiness{Status: "ready", Components: map[string]string{}}
	slug := ""

	if err := h.db.Ping(ctx); err != nil {
		report.Components["database"] = "unavailable"
		slug = "health/database-unavailable"
	} else {
		report.Components["database"] = "ok"
	}

	switch {
	case h.redis == nil:
		report.Components["redis"] = "disabled"
	case h.redis.Ping(ctx).Err() != nil:
		report.Components["redis"] = "unavailable"
		if slug == "" {
			slug = "health/redis-unavailable"
		}
	default:
		report.Components["redis"] = "ok"
	}

	if slug != "" {
		RespondError(w, r, http.StatusServiceUnavailable, slug, "dependency unavailable: "+describe(report.Components))
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

func describe(components map[string]string) string {
	var down []string
	for _, name := range []string{"database", "redis"} {
		if components[name] == "unavailable" {
			down = append(down, name)
		}
	}
	return strings.Join(down, ", ")
}
