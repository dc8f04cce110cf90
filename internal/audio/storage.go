// Пакет audio — файловое хранилище голосовых сообщений и
// нормализация громкости записей.
package audio

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Storage — файловое хранилище audio-зоны публичного каталога.
// Имена файлов генерируются сервером; клиентские имена не принимаются.
type Storage struct {
	root string
}

// NewStorage создаёт хранилище и каталог audio-зоны, если его нет.
func NewStorage(publicDir string) (*Storage, error) {
	root := filepath.Join(publicDir, "audio")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("создание каталога аудио %s: %w", root, err)
	}
	return &Storage{root: root}, nil
}

// FileName генерирует уникальное имя файла вида
// {prefix}_{yyMMdd-HHmmss}_{8 hex}.{ext}.
func FileName(prefix, ext string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("генерация случайного суффикса: %w", err)
	}
	stamp := time.Now().UTC().Format("060102-150405")
	return fmt.Sprintf("%s_%s_%s.%s", prefix, stamp, hex.EncodeToString(buf), ext), nil
}

// Path возвращает абсолютный путь файла в audio-зоне.
func (s *Storage) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Write записывает содержимое под указанным именем.
func (s *Storage) Write(name string, data []byte) error {
	if err := os.WriteFile(s.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("запись файла %s: %w", name, err)
	}
	return nil
}

// Rename переименовывает файл внутри audio-зоны.
func (s *Storage) Rename(oldName, newName string) error {
	if err := os.Rename(s.Path(oldName), s.Path(newName)); err != nil {
		return fmt.Errorf("переименование %s -> %s: %w", oldName, newName, err)
	}
	return nil
}

// Remove удаляет файл; отсутствие файла не является ошибкой.
func (s *Storage) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("удаление файла %s: %w", name, err)
	}
	return nil
}
