// user.go — обработчики пользователей: аутентификация, регистрация,
// профиль текущего пользователя и обновление профиля.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/matthewmerkas/kit-server/internal/api/errors"
	"github.com/matthewmerkas/kit-server/internal/api/middleware"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/service"
)

// UserHandler — обработчик пользовательских маршрутов.
type UserHandler struct {
	users    *service.UserService
	resource *ResourceHandler
	logger   *slog.Logger
}

// NewUserHandler создаёт обработчик пользователей.
// resource обслуживает обобщённые операции (list, get, patch, delete).
func NewUserHandler(users *service.UserService, resource *ResourceHandler, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		resource: resource,
		logger:   logger.With(slog.String("component", "user_handler")),
	}
}

// Mount монтирует пользовательские маршруты. Специализированные
// операции перекрывают обобщённые; аутентификационные маршруты
// освобождены от JWT на уровне middleware.
func (h *UserHandler) Mount(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/signup", h.Signup)
	r.Get("/me", h.Me)
	r.Get("/", h.resource.List)
	r.Get("/last-updated", h.resource.LastUpdated)
	r.Get("/{id}", h.resource.Get)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}", h.Patch)
	r.Delete("/{id}", h.Delete)
}

// Login — POST /login: обмен пары логин/пароль на пару токенов.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var login model.Login
	if err := json.NewDecoder(r.Body).Decode(&login); err != nil {
		apierrors.ValidationError(w, "некорректное JSON-тело запроса")
		return
	}

	pair, user, err := h.users.Login(r.Context(), login)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			apierrors.Unauthorized(w, "неверные учётные данные")
			return
		}
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"user":         user,
	})
}

// Refresh — POST /refresh: обмен refresh-токена на новую пару токенов.
func (h *UserHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		apierrors.ValidationError(w, "требуется refreshToken")
		return
	}

	pair, err := h.users.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			apierrors.Unauthorized(w, "недействительный refresh-токен")
			return
		}
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Signup — POST /signup: регистрация нового пользователя.
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}
	doc, err := h.users.Signup(r.Context(), data)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// Me — GET /me: профиль текущего пользователя с наложением никнеймов.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if caller == nil {
		apierrors.Unauthorized(w, "требуется аутентификация")
		return
	}
	doc, err := h.resource.engine.Get(r.Context(), caller.ID, h.resource.projection, caller)
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Update — PUT /{id}: полное обновление профиля (пароль, аватар, роли).
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}
	doc, err := h.users.Update(r.Context(), chi.URLParam(r, "id"), data, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Patch — PATCH /{id}: частичное обновление профиля через сервис
// пользователей (границы записи и правила для ролей/пароля).
func (h *UserHandler) Patch(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeBody(w, r)
	if !ok {
		return
	}
	doc, err := h.users.Patch(r.Context(), chi.URLParam(r, "id"), data, middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Delete — DELETE /{id}: удаление профиля владельцем либо администратором.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, err := h.users.Delete(r.Context(), chi.URLParam(r, "id"), middleware.CallerFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
