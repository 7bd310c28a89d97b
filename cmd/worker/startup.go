// cmd/worker/startup.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"bookresale-backend/pkg/container"
)

// startServices performs health checks and starts the health endpoint.
func startServices(c *container.Container, cfg *WorkerConfig) error {
	log.Info().Msg("============================================")
	log.Info().Msg("Bookresale Worker Starting...")
	log.Info().Msg("============================================")

	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"Database", c.DB.HealthCheck},
		{"Redis", c.Redis.HealthCheck},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			log.Error().Err(err).Str("check", check.name).Msg("[Startup] Check failed")
			return fmt.Errorf("%s check failed: %w", check.name, err)
		}
		log.Info().Str("check", check.name).Msg("[Startup] OK")
	}

	go startHealthCheckServer(c, cfg.HealthPort)
	return nil
}

// startHealthCheckServer exposes liveness and readiness for the
// orchestrator probes.
func startHealthCheckServer(c *container.Container, port string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := c.DB.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable",
			})
			return
		}
		if err := c.Redis.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	log.Info().Str("port", port).Msg("[Startup] Health endpoint listening")
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error().Err(err).Msg("[Startup] Health endpoint failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
