// logging.go — структурное логирование HTTP-запросов.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader — заголовок с идентификатором запроса в ответе.
const RequestIDHeader = "X-Request-Id"

// RequestLogger возвращает middleware, логирующее каждый запрос с
// уникальным идентификатором, статусом и длительностью.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()
			w.Header().Set(RequestIDHeader, requestID)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			logger.Info("запрос обработан",
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
