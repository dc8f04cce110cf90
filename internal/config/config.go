// Пакет config — загрузка и валидация конфигурации KIT-сервера
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации KIT-сервера.
type Config struct {
	// --- Сервер ---

	// Хост HTTP-сервера
	Host string
	// Порт HTTP-сервера
	Port int
	// Префикс API-маршрутов
	Prefix string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- MongoDB ---

	// URI подключения MongoDB
	MongoURI string
	// Имя базы данных
	MongoDatabase string

	// --- JWT ---

	// Секрет подписи access-токенов (HS256)
	JWTSecret string
	// Секрет подписи refresh-токенов
	JWTRefreshSecret string
	// Срок жизни access-токена
	JWTExpiry time.Duration
	// Срок жизни refresh-токена
	JWTRefreshExpiry time.Duration

	// --- Пользователи ---

	// Минимальная длина пароля
	MinPasswordLength int

	// --- Файловое хранилище ---

	// Корень публичной зоны (audio/, avatars/)
	PublicDir string

	// --- Сообщения ---

	// Имя приложения (fallback отображаемого имени в push)
	AppName string
	// Целевая integrated loudness нормализации, LUFS
	NormalizeTarget float64
	// Push-уведомления через FCM (требует GOOGLE_APPLICATION_CREDENTIALS)
	FCMEnabled bool

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// KIT_HOST — адрес HTTP-сервера (по умолчанию 127.0.0.1)
	cfg.Host = getEnvDefault("KIT_HOST", "127.0.0.1")

	// KIT_PORT — порт HTTP-сервера (по умолчанию 3000)
	cfg.Port, err = getEnvInt("KIT_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("KIT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("KIT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// KIT_PREFIX — префикс API (по умолчанию /api)
	cfg.Prefix = getEnvDefault("KIT_PREFIX", "/api")
	if !strings.HasPrefix(cfg.Prefix, "/") {
		return nil, fmt.Errorf("KIT_PREFIX: значение %q должно начинаться с /", cfg.Prefix)
	}

	// KIT_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("KIT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("KIT_LOG_LEVEL: %w", err)
	}

	// KIT_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("KIT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("KIT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- MongoDB ---

	// KIT_MONGO_URI — обязательный
	cfg.MongoURI, err = getEnvRequired("KIT_MONGO_URI")
	if err != nil {
		return nil, err
	}

	// KIT_MONGO_DB — имя базы (по умолчанию kit)
	cfg.MongoDatabase = getEnvDefault("KIT_MONGO_DB", "kit")

	// --- JWT ---

	// KIT_JWT_SECRET — обязательный
	cfg.JWTSecret, err = getEnvRequired("KIT_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// KIT_JWT_REFRESH_SECRET — обязательный
	cfg.JWTRefreshSecret, err = getEnvRequired("KIT_JWT_REFRESH_SECRET")
	if err != nil {
		return nil, err
	}

	// KIT_JWT_EXPIRY — срок жизни access-токена (по умолчанию 1h)
	cfg.JWTExpiry, err = getEnvDuration("KIT_JWT_EXPIRY", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("KIT_JWT_EXPIRY: %w", err)
	}

	// KIT_JWT_REFRESH_EXPIRY — срок жизни refresh-токена (по умолчанию 720h)
	cfg.JWTRefreshExpiry, err = getEnvDuration("KIT_JWT_REFRESH_EXPIRY", 720*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("KIT_JWT_REFRESH_EXPIRY: %w", err)
	}

	// --- Пользователи ---

	// KIT_MIN_PASSWORD_LENGTH — минимальная длина пароля (по умолчанию 8)
	cfg.MinPasswordLength, err = getEnvInt("KIT_MIN_PASSWORD_LENGTH", 8)
	if err != nil {
		return nil, fmt.Errorf("KIT_MIN_PASSWORD_LENGTH: %w", err)
	}
	if cfg.MinPasswordLength < 1 {
		return nil, fmt.Errorf("KIT_MIN_PASSWORD_LENGTH: значение должно быть положительным")
	}

	// --- Файловое хранилище ---

	// KIT_PUBLIC_DIR — корень публичной зоны (по умолчанию ./public)
	cfg.PublicDir = getEnvDefault("KIT_PUBLIC_DIR", "./public")

	// --- Сообщения ---

	// KIT_APP_NAME — имя приложения (по умолчанию KIT)
	cfg.AppName = getEnvDefault("KIT_APP_NAME", "KIT")

	// KIT_NORMALIZE_TARGET — целевая громкость, LUFS (по умолчанию -16)
	cfg.NormalizeTarget, err = getEnvFloat("KIT_NORMALIZE_TARGET", -16)
	if err != nil {
		return nil, fmt.Errorf("KIT_NORMALIZE_TARGET: %w", err)
	}

	// KIT_FCM_ENABLED — включение push-уведомлений (по умолчанию false)
	cfg.FCMEnabled, err = getEnvBool("KIT_FCM_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("KIT_FCM_ENABLED: %w", err)
	}

	// --- Graceful shutdown ---

	// KIT_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("KIT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("KIT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает вещественное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
