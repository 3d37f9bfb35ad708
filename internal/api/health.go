package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rexproai/rexpro/internal/log"
)

// health is a liveness probe. Returns 200 OK with {"status":"ok"}.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether the server can take traffic. With a pool
// configured it pings the database and includes pool stats; without one
// (in-memory store) it always reports ready.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
			return
		}

		if err := pool.Ping(r.Context()); err != nil {
			logger.Warn("readiness ping failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			}, logger)
			return
		}

		stats := pool.Stat()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ready",
			"totalConns":       stats.TotalConns(),
			"idleConns":        stats.IdleConns(),
			"acquiredConns":    stats.AcquiredConns(),
			"maxConns":         stats.MaxConns(),
			"newConnsCount":    stats.NewConnsCount(),
			"acquireCount":     stats.AcquireCount(),
			"canceledAcquires": stats.CanceledAcquireCount(),
		}, logger)
	}
}
