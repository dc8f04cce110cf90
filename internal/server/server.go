// Пакет server — HTTP-сервер KIT с graceful shutdown.
// Без TLS — терминация на реверс-прокси перед сервером.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matthewmerkas/kit-server/internal/api/handlers"
	"github.com/matthewmerkas/kit-server/internal/api/middleware"
	"github.com/matthewmerkas/kit-server/internal/config"
	"github.com/matthewmerkas/kit-server/internal/domain/model"
	"github.com/matthewmerkas/kit-server/internal/events"
)

// Handlers — набор обработчиков, монтируемых на роутер.
type Handlers struct {
	Health    *handlers.HealthHandler
	Info      *handlers.InfoHandler
	Users     *handlers.UserHandler
	Messages  *handlers.MessageHandler
	Nicknames *handlers.NicknameHandler
	Rfids     *handlers.ResourceHandler
	AdminUser *handlers.ResourceHandler
}

// Server — HTTP-сервер KIT.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными маршрутами и middleware.
// hub обслуживает websocket-подписчиков (может быть nil).
func New(cfg *config.Config, logger *slog.Logger, h Handlers, hub *events.Hub) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// JWT middleware с исключениями для публичных endpoints.
	// Health и metrics проверяются оркестратором напрямую.
	exempt := map[string]bool{
		cfg.Prefix + "/info":        true,
		cfg.Prefix + "/user/login":  true,
		cfg.Prefix + "/user/signup": true,
		cfg.Prefix + "/user/refresh": true,
		"/health/live":  true,
		"/health/ready": true,
		"/metrics":      true,
		"/ws":           true,
	}
	router.Use(middleware.Auth(cfg.JWTSecret, exempt, "/public/"))

	// Health и метрики
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	// API-маршруты
	router.Route(cfg.Prefix, func(r chi.Router) {
		r.Get("/info", h.Info.Info)
		r.Route("/user", h.Users.Mount)
		r.Route("/message", h.Messages.Mount)
		r.Route("/nickname", h.Nicknames.Mount)
		r.Route("/rfid", h.Rfids.Mount)

		// Административный доступ к пользователям без проекции.
		r.Route("/admin/user", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))
			h.AdminUser.Mount(r)
		})
	})

	// Websocket-подписка на события
	if hub != nil {
		router.Get("/ws", hub.ServeWS)
	}

	// Статическая раздача публичной зоны (аудио, аватары)
	fs := http.StripPrefix("/public/", http.FileServer(http.Dir(cfg.PublicDir)))
	router.Get("/public/*", fs.ServeHTTP)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
