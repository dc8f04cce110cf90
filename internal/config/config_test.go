package config

import (
	"log/slog"
	"testing"
	"time"
)

// setRequiredEnv задаёт обязательные переменные окружения для тестов.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KIT_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("KIT_JWT_SECRET", "test-secret")
	t.Setenv("KIT_JWT_REFRESH_SECRET", "test-refresh-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, ожидается 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, ожидается 3000", cfg.Port)
	}
	if cfg.Prefix != "/api" {
		t.Errorf("Prefix = %q, ожидается /api", cfg.Prefix)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.MongoDatabase != "kit" {
		t.Errorf("MongoDatabase = %q, ожидается kit", cfg.MongoDatabase)
	}
	if cfg.JWTExpiry != time.Hour {
		t.Errorf("JWTExpiry = %v, ожидается 1h", cfg.JWTExpiry)
	}
	if cfg.JWTRefreshExpiry != 720*time.Hour {
		t.Errorf("JWTRefreshExpiry = %v, ожидается 720h", cfg.JWTRefreshExpiry)
	}
	if cfg.MinPasswordLength != 8 {
		t.Errorf("MinPasswordLength = %d, ожидается 8", cfg.MinPasswordLength)
	}
	if cfg.PublicDir != "./public" {
		t.Errorf("PublicDir = %q, ожидается ./public", cfg.PublicDir)
	}
	if cfg.AppName != "KIT" {
		t.Errorf("AppName = %q, ожидается KIT", cfg.AppName)
	}
	if cfg.NormalizeTarget != -16 {
		t.Errorf("NormalizeTarget = %v, ожидается -16", cfg.NormalizeTarget)
	}
	if cfg.FCMEnabled {
		t.Error("FCMEnabled = true, ожидается false")
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		missing string
	}{
		{"без URI MongoDB", "KIT_MONGO_URI"},
		{"без секрета JWT", "KIT_JWT_SECRET"},
		{"без refresh-секрета JWT", "KIT_JWT_REFRESH_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.missing, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load() без %s должен вернуть ошибку", tt.missing)
			}
		})
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"нечисловой порт", "KIT_PORT", "abc"},
		{"порт вне диапазона", "KIT_PORT", "70000"},
		{"префикс без слеша", "KIT_PREFIX", "api"},
		{"неизвестный уровень логирования", "KIT_LOG_LEVEL", "verbose"},
		{"неизвестный формат логов", "KIT_LOG_FORMAT", "xml"},
		{"некорректная длительность", "KIT_JWT_EXPIRY", "1 hour"},
		{"нулевая длина пароля", "KIT_MIN_PASSWORD_LENGTH", "0"},
		{"некорректная громкость", "KIT_NORMALIZE_TARGET", "loud"},
		{"некорректный флаг FCM", "KIT_FCM_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() с %s=%q должен вернуть ошибку", tt.key, tt.value)
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KIT_HOST", "0.0.0.0")
	t.Setenv("KIT_PORT", "8080")
	t.Setenv("KIT_LOG_LEVEL", "debug")
	t.Setenv("KIT_LOG_FORMAT", "text")
	t.Setenv("KIT_MONGO_DB", "kit_test")
	t.Setenv("KIT_JWT_EXPIRY", "30m")
	t.Setenv("KIT_NORMALIZE_TARGET", "-14")
	t.Setenv("KIT_FCM_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, ожидается 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.MongoDatabase != "kit_test" {
		t.Errorf("MongoDatabase = %q, ожидается kit_test", cfg.MongoDatabase)
	}
	if cfg.JWTExpiry != 30*time.Minute {
		t.Errorf("JWTExpiry = %v, ожидается 30m", cfg.JWTExpiry)
	}
	if cfg.NormalizeTarget != -14 {
		t.Errorf("NormalizeTarget = %v, ожидается -14", cfg.NormalizeTarget)
	}
	if !cfg.FCMEnabled {
		t.Error("FCMEnabled = false, ожидается true")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLogLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseLogLevel(%q) должен вернуть ошибку", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLogLevel(%q) вернул ошибку: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, ожидается %v", tt.input, got, tt.want)
			}
		})
	}
}
