// resource.go — обобщённый HTTP-обработчик ресурса поверх движка
// доступа. Один экземпляр на тип ресурса; маршруты CRUD и lastUpdated
// монтируются единообразно для всех типов.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	apierrors "github.com/matthewmerkas/kit-server/internal/api/errors"
	"github.com/matthewmerkas/kit-server/internal/api/middleware"
	"github.com/matthewmerkas/kit-server/internal/store"
)

// ResourceHandler — обобщённый обработчик одного типа ресурса.
type ResourceHandler struct {
	engine     *store.Engine
	projection bson.M
	logger     *slog.Logger
}

// NewResourceHandler создаёт обработчик ресурса.
// projection применяется ко всем ответам чтения (nil — без проекции).
func NewResourceHandler(engine *store.Engine, projection bson.M, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{
		engine:     engine,
		projection: projection,
		logger:     logger.With(slog.String("component", "resource_handler"), slog.String("resource", engine.Descriptor().Name)),
	}
}

// Mount монтирует маршруты CRUD на роутер.
func (h *ResourceHandler) Mount(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/last-updated", h.LastUpdated)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Set)
	r.Patch("/{id}", h.Patch)
	r.Delete("/{id}", h.Delete)
}

// Create — POST /: создание документа.
func (h *ResourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}
	doc, err := h.engine.Create(r.Context(), data, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, h.scrub(doc))
}

// List — GET /: список документов в скоупе вызывающего.
// Query-параметры становятся предикатами; sort и limit управляют выдачей.
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	docs, err := h.engine.GetList(r.Context(), params, h.projection, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Get — GET /{id}: документ по идентификатору.
func (h *ResourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"), h.projection, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Set — PUT /{id}: полное обновление документа.
func (h *ResourceHandler) Set(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}
	doc, err := h.engine.Set(r.Context(), chi.URLParam(r, "id"), data, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, h.scrub(doc))
}

// Patch — PATCH /{id}: частичное обновление документа.
func (h *ResourceHandler) Patch(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}
	doc, err := h.engine.Patch(r.Context(), chi.URLParam(r, "id"), data, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, h.scrub(doc))
}

// Delete — DELETE /{id}: двухфазное удаление документа.
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Delete(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, h.scrub(doc))
}

// LastUpdated — GET /last-updated: отметка времени последнего
// изменения в скоупе вызывающего.
func (h *ResourceHandler) LastUpdated(w http.ResponseWriter, r *http.Request) {
	ts, err := h.engine.LastUpdated(r.Context(), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastUpdated": ts.UTC().Format(time.RFC3339Nano)})
}

// scrub применяет исключающую проекцию чтения к ответу мутации:
// движок возвращает полный документ после записи, чувствительные
// поля удаляются перед сериализацией.
func (h *ResourceHandler) scrub(doc bson.M) bson.M {
	for key, value := range h.projection {
		if excluded, ok := value.(int); ok && excluded == 0 {
			delete(doc, key)
		}
	}
	return doc
}

// --- Вспомогательные функции пакета ---

// decodeBody декодирует JSON-тело запроса. Некорректный JSON — 422.
func decodeBody(w http.ResponseWriter, r *http.Request) (bson.M, bool) {
	var data bson.M
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		apierrors.ValidationError(w, "некорректное JSON-тело запроса")
		return nil, false
	}
	return data, true
}

// writeJSON сериализует ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
