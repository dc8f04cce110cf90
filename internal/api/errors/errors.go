// Пакет errors — конструкторы стандартных ошибок API KIT.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/matthewmerkas/kit-server/internal/store"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidID       = "INVALID_ID"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате KIT.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromError транслирует типизированные ошибки слоя доступа в
// HTTP-ответы. Нарушения валидации и некорректные идентификаторы —
// 422 (данные имеют верную форму JSON, но не проходят семантическую
// проверку). Неклассифицированные ошибки — 500 с обезличенным телом.
func FromError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		WriteError(w, http.StatusUnprocessableEntity, CodeValidationError, verr.Error())
		return
	}
	var iderr *store.InvalidIDError
	if errors.As(err, &iderr) {
		WriteError(w, http.StatusUnprocessableEntity, CodeInvalidID, iderr.Error())
		return
	}
	var ferr *store.ForbiddenError
	if errors.As(err, &ferr) {
		WriteError(w, http.StatusForbidden, CodeForbidden, ferr.Error())
		return
	}
	var nferr *store.NotFoundError
	if errors.As(err, &nferr) {
		WriteError(w, http.StatusNotFound, CodeNotFound, nferr.Error())
		return
	}
	var cerr *store.ConflictError
	if errors.As(err, &cerr) {
		WriteError(w, http.StatusConflict, CodeConflict, cerr.Error())
		return
	}

	logger.Error("внутренняя ошибка запроса", slog.Any("error", err))
	InternalError(w, "внутренняя ошибка сервера")
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 422 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующееся значение).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
