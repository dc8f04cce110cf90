// Пакет events — широковещательные события реального времени.
// Sink инжектируется в движок доступа при создании; движок никогда
// не обращается к глобальному состоянию.
package events

import "encoding/json"

// Sink — приёмник широковещательных событий
// (`create <resource>`, `update <resource>`, `patch <resource>`).
type Sink interface {
	// Emit отправляет событие всем подписчикам. Доставка best-effort:
	// ошибки отправки не влияют на вызвавшую операцию.
	Emit(event string, payload any)
}

// NopSink — заглушка для тестов и конфигураций без реального транспорта.
type NopSink struct{}

// Emit ничего не делает.
func (NopSink) Emit(string, any) {}

// envelope — формат кадра события на проводе.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// marshalEnvelope сериализует событие в JSON-кадр.
func marshalEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(envelope{Event: event, Data: payload})
}
