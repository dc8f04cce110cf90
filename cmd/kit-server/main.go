// Точка входа KIT-сервера — backend голосового мессенджера KIT.
// Загружает конфигурацию, подключается к MongoDB, обеспечивает индексы,
// создаёт движки доступа к ресурсам и сервисный слой, запускает
// websocket-хаб событий и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/matthewmerkas/kit-server/internal/api/handlers"
	"github.com/matthewmerkas/kit-server/internal/audio"
	"github.com/matthewmerkas/kit-server/internal/config"
	"github.com/matthewmerkas/kit-server/internal/database"
	"github.com/matthewmerkas/kit-server/internal/events"
	"github.com/matthewmerkas/kit-server/internal/push"
	"github.com/matthewmerkas/kit-server/internal/server"
	"github.com/matthewmerkas/kit-server/internal/service"
	"github.com/matthewmerkas/kit-server/internal/store"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func main() {
	createUser := flag.String("create-user", "", "создать администратора с указанным именем и выйти")
	flag.Parse()

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("KIT-сервер запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Подключение к MongoDB и обеспечение индексов
	ctx := context.Background()
	client, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к MongoDB", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database(cfg.MongoDatabase)
	if err := database.EnsureIndexes(ctx, db, logger); err != nil {
		logger.Error("Ошибка создания индексов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Websocket-хаб событий
	hub := events.NewHub(logger)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	// 5. Движки доступа к ресурсам
	userEngine := store.NewEngine(db, store.Users(), hub, logger)
	messageEngine := store.NewEngine(db, store.Messages(), hub, logger)
	nicknameEngine := store.NewEngine(db, store.Nicknames(), hub, logger)
	rfidEngine := store.NewEngine(db, store.Rfids(), hub, logger)

	// 6. Сервисный слой
	userSvc, err := service.NewUserService(userEngine, service.UserConfig{
		JWTSecret:         cfg.JWTSecret,
		JWTRefreshSecret:  cfg.JWTRefreshSecret,
		JWTExpiry:         cfg.JWTExpiry,
		JWTRefreshExpiry:  cfg.JWTRefreshExpiry,
		MinPasswordLength: cfg.MinPasswordLength,
		PublicDir:         cfg.PublicDir,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания сервиса пользователей", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Флаг первоначальной настройки: создание администратора и выход.
	if *createUser != "" {
		password, err := userSvc.CreateAdmin(ctx, *createUser)
		if err != nil {
			logger.Error("Ошибка создания администратора", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Printf("Пользователь %q создан. Пароль: %s\n", *createUser, password)
		return
	}

	storage, err := audio.NewStorage(cfg.PublicDir)
	if err != nil {
		logger.Error("Ошибка создания файлового хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	normalizer := audio.NewFFmpegNormalizer(cfg.NormalizeTarget, logger)

	// Push-уведомления: FCM при включённом флаге, иначе заглушка.
	var sender push.Sender = push.NopSender{}
	if cfg.FCMEnabled {
		fcm, err := push.NewFCMSender(ctx, logger)
		if err != nil {
			logger.Warn("FCM недоступен, уведомления отключены", slog.String("error", err.Error()))
		} else {
			sender = fcm
			logger.Info("FCM-уведомления включены")
		}
	}

	messageSvc := service.NewMessageService(
		messageEngine, userEngine,
		storage, normalizer, sender, hub,
		cfg.AppName, logger,
	)
	nicknameSvc := service.NewNicknameService(nicknameEngine, userEngine, logger)

	// 7. HTTP-обработчики
	userProjection := bson.M{"password": 0, "fcmTokens": 0}
	userResource := handlers.NewResourceHandler(userEngine, userProjection, logger)

	h := server.Handlers{
		Health:    handlers.NewHealthHandler(client),
		Info:      handlers.NewInfoHandler(cfg.AppName),
		Users:     handlers.NewUserHandler(userSvc, userResource, logger),
		Messages:  handlers.NewMessageHandler(messageSvc, handlers.NewResourceHandler(messageEngine, nil, logger), logger),
		Nicknames: handlers.NewNicknameHandler(nicknameSvc, handlers.NewResourceHandler(nicknameEngine, nil, logger), logger),
		Rfids:     handlers.NewResourceHandler(rfidEngine, nil, logger),
		AdminUser: handlers.NewResourceHandler(userEngine, bson.M{"password": 0}, logger),
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, hub)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("KIT-сервер остановлен")
}
