package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/carnil/carnil/internal/service"
	"github.com/redis/go-redis/v9"
)

type HealthController struct {
	client *service.Client
	redis  *redis.Client
}

// NewHealthController reports readiness of Redis when rc is non-nil.
func NewHealthController(client *service.Client, rc *redis.Client) *HealthController {
	return &HealthController{client: client, redis: rc}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": string(h.client.Provider()),
	})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
