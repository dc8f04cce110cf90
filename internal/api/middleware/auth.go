// auth.go — JWT middleware аутентификации KIT-сервера.
// Проверяет подпись HS256, извлекает личность вызывающего
// (идентификатор и роли) и помещает её в контекст запроса.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/matthewmerkas/kit-server/internal/api/errors"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyCaller — личность вызывающего в контексте запроса.
const ContextKeyCaller contextKey = "caller"

// CallerFromContext извлекает вызывающего из контекста запроса.
func CallerFromContext(ctx context.Context) *model.Caller {
	caller, _ := ctx.Value(ContextKeyCaller).(*model.Caller)
	return caller
}

// Auth возвращает middleware аутентификации. Запросы к путям из
// exempt (точное совпадение) и к путям с префиксами из exemptPrefixes
// пропускаются без токена; остальные требуют валидный Bearer-токен HS256.
func Auth(secret string, exempt map[string]bool, exemptPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			for _, prefix := range exemptPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				apierrors.Unauthorized(w, "требуется Bearer-токен")
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			caller, err := parseToken(raw, secret)
			if err != nil {
				apierrors.Unauthorized(w, "недействительный токен")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseToken проверяет подпись и срок действия токена и извлекает
// личность вызывающего из claims.
func parseToken(raw, secret string) (*model.Caller, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("ошибка проверки токена: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("неожиданный формат claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("токен без subject")
	}

	roles := []string{}
	if list, ok := claims["roles"].([]any); ok {
		for _, r := range list {
			if role, ok := r.(string); ok {
				roles = append(roles, role)
			}
		}
	}

	return &model.Caller{ID: sub, Roles: roles}, nil
}

// RequireRole возвращает middleware, допускающее только вызывающих
// с указанной ролью. Должно стоять после Auth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFromContext(r.Context())
			if caller == nil {
				apierrors.Unauthorized(w, "требуется аутентификация")
				return
			}
			for _, have := range caller.Roles {
				if have == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierrors.Forbidden(w, "недостаточно прав")
		})
	}
}
