// syncer.go — синхронизация локальных данных транзактора с лидером.
//
// После потери лидерства узел запускает внешнюю утилиту синхронизации
// (TK_SYNC_CMD), передавая ей адрес нового лидера и каталог данных.
// Утилита выполняется с ограничением по времени (TK_SYNC_TIMEOUT).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики синхронизации
var (
	// syncRunsTotal — количество запусков синхронизации по исходам.
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tk_sync_runs_total",
		Help: "Общее количество запусков синхронизации данных",
	}, []string{"outcome"})

	// syncDurationSeconds — длительность синхронизации.
	syncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tk_sync_duration_seconds",
		Help:    "Длительность синхронизации данных в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// Syncer запускает внешнюю утилиту синхронизации данных.
type Syncer struct {
	cmd     []string
	dataDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSyncer создаёт сервис синхронизации.
//
// Параметры:
//   - cmd: команда синхронизации (argv, TK_SYNC_CMD)
//   - dataDir: каталог данных транзактора (TK_DATA_DIR)
//   - timeout: предел времени одного запуска (TK_SYNC_TIMEOUT)
func NewSyncer(cmd []string, dataDir string, timeout time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		cmd:     cmd,
		dataDir: dataDir,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "syncer")),
	}
}

// Sync запускает синхронизацию с узла peerAddr.
// Вывод утилиты логируется при ошибке. Ошибка синхронизации не фатальна
// для узла: данные догонятся при следующей потере лидерства или вручную.
func (s *Syncer) Sync(ctx context.Context, peerAddr string) error {
	if len(s.cmd) == 0 {
		return fmt.Errorf("пустая команда синхронизации")
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string{}, s.cmd[1:]...), peerAddr, s.dataDir)
	cmd := exec.CommandContext(syncCtx, s.cmd[0], args...)

	s.logger.Info("синхронизация данных начата",
		slog.String("peer", peerAddr),
		slog.String("data_dir", s.dataDir),
	)

	start := time.Now()
	output, err := cmd.CombinedOutput()
	duration := time.Since(start)
	syncDurationSeconds.Observe(duration.Seconds())

	if err != nil {
		syncRunsTotal.WithLabelValues("error").Inc()
		s.logger.Error("синхронизация данных завершилась с ошибкой",
			slog.String("peer", peerAddr),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
			slog.String("output", string(output)),
		)
		return fmt.Errorf("синхронизация с %s: %w", peerAddr, err)
	}

	syncRunsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("синхронизация данных завершена",
		slog.String("peer", peerAddr),
		slog.Duration("duration", duration),
	)

	return nil
}
