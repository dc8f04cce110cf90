// Пакет push — доставка push-уведомлений на устройства получателей.
package push

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// Notification — уведомление для набора устройств одного получателя.
type Notification struct {
	// Tokens — push-токены устройств получателя.
	Tokens []string
	// Title — заголовок (отображаемая метка отправителя).
	Title string
	// Body — текст уведомления.
	Body string
	// Data — полезная нагрузка для клиента.
	Data map[string]string
	// GroupKey — ключ группировки уведомлений одного отправителя.
	GroupKey string
}

// Sender отправляет уведомление. Ошибки доставки не должны
// прерывать объемлющую операцию.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// NopSender — заглушка для конфигураций без push.
type NopSender struct{}

// Send ничего не делает.
func (NopSender) Send(context.Context, Notification) error { return nil }

// FCMSender — доставка через Firebase Cloud Messaging.
// Учётные данные берутся из GOOGLE_APPLICATION_CREDENTIALS.
type FCMSender struct {
	client *messaging.Client
	logger *slog.Logger
}

// NewFCMSender инициализирует Firebase-приложение и messaging-клиент.
func NewFCMSender(ctx context.Context, logger *slog.Logger) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("инициализация firebase: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("создание messaging-клиента: %w", err)
	}
	return &FCMSender{
		client: client,
		logger: logger.With(slog.String("component", "fcm")),
	}, nil
}

// Send рассылает уведомление на все токены получателя одним
// multicast-запросом. Частичные отказы логируются.
func (s *FCMSender) Send(ctx context.Context, n Notification) error {
	if len(n.Tokens) == 0 {
		return nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: n.Tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: n.Data,
		Android: &messaging.AndroidConfig{
			CollapseKey: n.GroupKey,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-collapse-id": n.GroupKey,
			},
		},
	}

	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("отправка multicast: %w", err)
	}
	if resp.FailureCount > 0 {
		s.logger.Warn("часть уведомлений не доставлена",
			slog.Int("success", resp.SuccessCount),
			slog.Int("failure", resp.FailureCount),
		)
	}
	return nil
}
