// message.go — обработчики сообщений: конвейер отправки и сводка
// последних сообщений по перепискам.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/matthewmerkas/kit-server/internal/api/errors"
	"github.com/matthewmerkas/kit-server/internal/api/middleware"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/service"
)

// MessageHandler — обработчик маршрутов сообщений.
type MessageHandler struct {
	messages *service.MessageService
	resource *ResourceHandler
	logger   *slog.Logger
}

// NewMessageHandler создаёт обработчик сообщений.
func NewMessageHandler(messages *service.MessageService, resource *ResourceHandler, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		resource: resource,
		logger:   logger.With(slog.String("component", "message_handler")),
	}
}

// Mount монтирует маршруты сообщений. Создание идёт через конвейер
// отправки, а не через обобщённый Create.
func (h *MessageHandler) Mount(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.resource.List)
	r.Get("/latest", h.Latest)
	r.Get("/last-updated", h.resource.LastUpdated)
	r.Get("/{id}", h.resource.Get)
	r.Put("/{id}", h.resource.Set)
	r.Patch("/{id}", h.resource.Patch)
	r.Delete("/{id}", h.resource.Delete)
}

// Create — POST /: отправка сообщения через конвейер.
// Возвращает запись отправителя.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input model.MessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		apierrors.ValidationError(w, "некорректное JSON-тело запроса")
		return
	}
	doc, err := h.messages.Create(r.Context(), input, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// Latest — GET /latest: последнее сообщение каждой переписки
// вызывающего с резолвнутым собеседником.
func (h *MessageHandler) Latest(w http.ResponseWriter, r *http.Request) {
	docs, err := h.messages.Latest(r.Context(), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}
