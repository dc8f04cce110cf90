// info.go — публичная информация о сервере.
package handlers

import (
	"net/http"

	"github.com/matthewmerkas/kit-server/internal/config"
)

// InfoHandler — обработчик публичного описания сервера.
type InfoHandler struct {
	appName string
}

// NewInfoHandler создаёт обработчик информации.
func NewInfoHandler(appName string) *InfoHandler {
	return &InfoHandler{appName: appName}
}

// Info — GET /info: имя приложения и версия. Маршрут доступен без
// аутентификации: клиенты используют его для обнаружения сервера.
func (h *InfoHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    h.appName,
		"version": config.Version,
	})
}
