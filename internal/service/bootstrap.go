// bootstrap.go — ожидание готовности кластера при старте.
//
// До входа в управляющий цикл узел убеждается, что локальный узел цепочки
// полностью синхронизирован с сетью: преждевременные выборы на
// рассинхронизированном реестре могут дать ложного лидера.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrClusterNotReady — кластер не достиг готовности за отведённые попытки.
// Фатальная ошибка запуска: узел должен завершиться с ненулевым кодом.
var ErrClusterNotReady = errors.New("кластер не достиг готовности за отведённые попытки")

// SyncProber — проба готовности кластера.
type SyncProber interface {
	// SyncStatus возвращает true, если узел цепочки синхронизирован с сетью.
	SyncStatus(ctx context.Context) (bool, error)
}

// Bootstrap ожидает готовности кластера ограниченным числом проб.
type Bootstrap struct {
	prober        SyncProber
	maxAttempts   int
	probeInterval time.Duration
	logger        *slog.Logger
}

// NewBootstrap создаёт ожидание готовности.
//
// Параметры:
//   - prober: источник статуса синхронизации
//   - maxAttempts: предел попыток (TK_BOOTSTRAP_MAX_ATTEMPTS)
//   - probeInterval: пауза между попытками (TK_BOOTSTRAP_PROBE_INTERVAL)
func NewBootstrap(prober SyncProber, maxAttempts int, probeInterval time.Duration, logger *slog.Logger) *Bootstrap {
	return &Bootstrap{
		prober:        prober,
		maxAttempts:   maxAttempts,
		probeInterval: probeInterval,
		logger:        logger.With(slog.String("component", "bootstrap")),
	}
}

// Wait пробует статус синхронизации до maxAttempts раз с паузой
// probeInterval между попытками. Первая проба выполняется сразу.
// Ошибка пробы считается отрицательным ответом, а не фатальной ошибкой.
// Возвращает ErrClusterNotReady после исчерпания попыток.
func (b *Bootstrap) Wait(ctx context.Context) error {
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		synced, err := b.prober.SyncStatus(ctx)
		if err != nil {
			b.logger.Warn("проба готовности кластера не удалась",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", b.maxAttempts),
				slog.String("error", err.Error()),
			)
		} else if synced {
			b.logger.Info("кластер готов",
				slog.Int("attempt", attempt),
			)
			return nil
		} else {
			b.logger.Info("кластер ещё не готов",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", b.maxAttempts),
			)
		}

		if attempt == b.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.probeInterval):
		}
	}

	return ErrClusterNotReady
}
