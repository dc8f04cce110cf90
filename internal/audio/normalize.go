package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// Normalizer выравнивает громкость аудиофайла. Вход и выход —
// разные файлы в одной audio-зоне.
type Normalizer interface {
	Normalize(ctx context.Context, inPath, outPath string) error
}

// FFmpegNormalizer — нормализация через внешний ffmpeg
// (однопроходный фильтр loudnorm).
type FFmpegNormalizer struct {
	// Target — целевая integrated loudness, LUFS.
	Target float64
	logger *slog.Logger
}

// NewFFmpegNormalizer создаёт нормализатор с целевой громкостью target.
func NewFFmpegNormalizer(target float64, logger *slog.Logger) *FFmpegNormalizer {
	return &FFmpegNormalizer{
		Target: target,
		logger: logger.With(slog.String("component", "normalizer")),
	}
}

// Normalize запускает ffmpeg с фильтром loudnorm. Ошибка включает
// stderr утилиты для диагностики.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, inPath, outPath string) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-af", fmt.Sprintf("loudnorm=I=%g", n.Target),
		"-y", outPath,
	}

	n.logger.Debug("запуск нормализации", slog.String("input", inPath), slog.String("output", outPath))

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg loudnorm: %w: %s", err, out)
	}
	return nil
}
