// health.go — обработчики health endpoints KIT-сервера.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (MongoDB доступна)
// /metrics — Prometheus метрики
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/matthewmerkas/kit-server/internal/config"
	"github.com/matthewmerkas/kit-server/internal/database"
)

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	client      *mongo.Client
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(client *mongo.Client) *HealthHandler {
	return &HealthHandler{
		client:      client,
		promHandler: promhttp.Handler(),
	}
}

// healthResponse — тело ответа health probe.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Message   string `json:"message,omitempty"`
}

// HealthLive — liveness probe. Возвращает 200, если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "kit-server",
	})
}

// HealthReady — readiness probe. Возвращает 200, если MongoDB
// доступна, и 503 в противном случае.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "kit-server",
	}

	if err := database.Ready(r.Context(), h.client); err != nil {
		resp.Status = "fail"
		resp.Message = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}
