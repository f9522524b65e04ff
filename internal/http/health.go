package http

import (
	"context"
	"net/http"
	"time"

	"github.com/capy-town/capyauth/internal/observability/logger"
)

// ReadyCheck es un chequeo de disponibilidad con nombre (pg, engine, redis).
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewHealthzHandler: liveness pura, sin tocar dependencias.
func NewHealthzHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	}
}

// NewReadyzHandler corre los chequeos con un timeout corto cada uno.
// Cualquier fallo degrada a 503 pero reporta el estado de todos.
func NewReadyzHandler(checks []ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))

		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := c.Check(ctx)
			cancel()
			if err != nil {
				logger.From(r.Context()).Warn("readiness check falló",
					logger.Component(c.Name), logger.Err(err))
				results[c.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "ok"
		}

		body := map[string]any{"checks": results}
		if status == http.StatusOK {
			body["status"] = "ok"
		} else {
			body["status"] = "degraded"
		}
		WriteJSON(w, status, body)
	}
}
