// rotate.go — ротация лог-файла транзактора.
//
// Транзактор пишет в один файл без собственной ротации. Перед каждым
// циклом управляющего цикла файл проверяется на превышение порога
// (TK_LOG_ROTATE_THRESHOLD) и при необходимости переименовывается
// с UTC-меткой времени; транзактор продолжит писать в свежесозданный файл.
package service

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rotationTimestampLayout — формат UTC-метки в имени архивного файла.
const rotationTimestampLayout = "20060102T150405Z"

// Prometheus метрики ротации
var (
	// logRotationsTotal — количество выполненных ротаций.
	logRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tk_log_rotations_total",
		Help: "Общее количество ротаций лог-файла транзактора",
	})
)

// LogRotator выполняет ротацию лог-файла по порогу размера.
type LogRotator struct {
	path      string
	threshold int64
	logger    *slog.Logger
}

// NewLogRotator создаёт ротатор.
//
// Параметры:
//   - path: путь к лог-файлу транзактора (TK_TRANSACTOR_LOG)
//   - threshold: порог размера в байтах (TK_LOG_ROTATE_THRESHOLD)
func NewLogRotator(path string, threshold int64, logger *slog.Logger) *LogRotator {
	return &LogRotator{
		path:      path,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "log_rotator")),
	}
}

// RotateIfNeeded проверяет размер лог-файла и при превышении порога
// переименовывает его в path.<UTC-метка> и создаёт пустой файл на месте.
// Отсутствие лог-файла не является ошибкой.
func (r *LogRotator) RotateIfNeeded() error {
	info, err := os.Stat(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("проверка размера лог-файла: %w", err)
	}

	if info.Size() <= r.threshold {
		return nil
	}

	archive := r.path + "." + time.Now().UTC().Format(rotationTimestampLayout)
	if err := os.Rename(r.path, archive); err != nil {
		return fmt.Errorf("переименование лог-файла: %w", err)
	}

	// Создаём пустой файл сразу: транзактор с уже открытым дескриптором
	// продолжит писать в архив до переоткрытия, новые запуски — сюда.
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("создание нового лог-файла: %w", err)
	}
	_ = f.Close()

	logRotationsTotal.Inc()
	r.logger.Info("лог-файл транзактора ротирован",
		slog.String("archive", archive),
		slog.Int64("size", info.Size()),
		slog.Int64("threshold", r.threshold),
	)

	return nil
}
