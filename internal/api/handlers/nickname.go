// nickname.go — обработчики никнеймов.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/matthewmerkas/kit-server/internal/api/errors"
	"github.com/matthewmerkas/kit-server/internal/api/middleware"
	"github.com/matthewmerkas/kit-server/internal/service"
)

// NicknameHandler — обработчик маршрутов никнеймов.
type NicknameHandler struct {
	nicknames *service.NicknameService
	resource  *ResourceHandler
	logger    *slog.Logger
}

// NewNicknameHandler создаёт обработчик никнеймов.
func NewNicknameHandler(nicknames *service.NicknameService, resource *ResourceHandler, logger *slog.Logger) *NicknameHandler {
	return &NicknameHandler{
		nicknames: nicknames,
		resource:  resource,
		logger:    logger.With(slog.String("component", "nickname_handler")),
	}
}

// Mount монтирует маршруты никнеймов. Создание и обновление идут
// через транзакционный upsert по паре (вызывающий, собеседник).
func (h *NicknameHandler) Mount(r chi.Router) {
	r.Post("/", h.Upsert)
	r.Get("/", h.resource.List)
	r.Get("/last-updated", h.resource.LastUpdated)
	r.Get("/{id}", h.resource.Get)
	r.Delete("/peer/{peerId}", h.Remove)
	r.Delete("/{id}", h.resource.Delete)
}

// Upsert — POST /: установка никнейма собеседнику.
func (h *NicknameHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PeerID string `json:"peerId"`
		Value  string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "некорректное JSON-тело запроса")
		return
	}
	doc, err := h.nicknames.Upsert(r.Context(), body.PeerID, body.Value, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Remove — DELETE /peer/{peerId}: снятие никнейма с собеседника.
func (h *NicknameHandler) Remove(w http.ResponseWriter, r *http.Request) {
	err := h.nicknames.Remove(r.Context(), chi.URLParam(r, "peerId"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
