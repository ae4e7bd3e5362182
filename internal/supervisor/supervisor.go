// Пакет supervisor — надзор за локальным процессом транзактора.
//
// Супервизор — единственный компонент, которому позволено запускать и
// останавливать транзактор. Он владеет liveness record (pid-файлом) и
// конечным автоматом жизненного цикла: любое расхождение между записью
// и реальным состоянием процесса разрешается в пользу реальности.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/transactor-keeper/internal/domain/lifecycle"
)

// Ошибки супервизора.
var (
	// ErrAlreadyRunning — попытка запуска при живом процессе.
	ErrAlreadyRunning = errors.New("транзактор уже запущен")
	// ErrNotRunning — попытка остановки при отсутствии процесса.
	ErrNotRunning = errors.New("транзактор не запущен")
)

// aliveCheckInterval — период опроса процесса при ожидании завершения.
const aliveCheckInterval = 200 * time.Millisecond

// Prometheus метрики супервизора
var (
	// transactorStarts — количество запусков транзактора.
	transactorStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tk_transactor_starts_total",
		Help: "Общее количество запусков транзактора",
	})

	// transactorStops — количество остановок транзактора по исходам.
	transactorStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tk_transactor_stops_total",
		Help: "Общее количество остановок транзактора",
	}, []string{"outcome"})

	// staleRecordsCleaned — количество очисток устаревших liveness record.
	staleRecordsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tk_stale_records_cleaned_total",
		Help: "Общее количество обнаруженных и удалённых устаревших liveness record",
	})

	// transactorRunning — 1, если транзактор запущен под надзором.
	transactorRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tk_transactor_running",
		Help: "Признак работы транзактора под надзором (1 — запущен)",
	})
)

// Supervisor управляет процессом транзактора: запуск, остановка,
// проверка живости, восстановление после устаревших записей.
type Supervisor struct {
	cmd         []string
	pidFile     string
	logFile     string
	stopTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	pid  int
	proc *os.Process
	fsm  *lifecycle.StateMachine
}

// New создаёт супервизор и сверяет liveness record с реальностью.
//
// Если запись существует и процесс жив — супервизор принимает его под
// надзор (состояние Running). Если запись устарела — она удаляется,
// супервизор стартует в состоянии Stopped.
//
// Параметры:
//   - cmd: команда запуска транзактора (argv, TK_TRANSACTOR_CMD)
//   - pidFile: путь liveness record (TK_PID_FILE)
//   - logFile: путь лог-файла транзактора (TK_TRANSACTOR_LOG)
//   - stopTimeout: предел ожидания мягкой остановки (TK_STOP_TIMEOUT)
func New(cmd []string, pidFile, logFile string, stopTimeout time.Duration, logger *slog.Logger) (*Supervisor, error) {
	if len(cmd) == 0 {
		return nil, errors.New("пустая команда запуска транзактора")
	}

	s := &Supervisor{
		cmd:         cmd,
		pidFile:     pidFile,
		logFile:     logFile,
		stopTimeout: stopTimeout,
		logger:      logger.With(slog.String("component", "supervisor")),
	}

	pid, err := LoadRecord(pidFile)
	switch {
	case err == nil && processAlive(pid):
		// Живой процесс от предыдущего запуска keeper-а — принимаем под надзор.
		s.pid = pid
		s.proc, _ = os.FindProcess(pid)
		s.fsm, err = lifecycle.NewStateMachine(lifecycle.StateStopped)
		if err != nil {
			return nil, err
		}
		if trErr := s.fsm.TransitionTo(lifecycle.StateRunning, lifecycle.ReasonAdopted); trErr != nil {
			return nil, trErr
		}
		transactorRunning.Set(1)
		s.logger.Info("транзактор принят под надзор",
			slog.Int("pid", pid),
		)
	case err == nil:
		// Запись устарела: процесс мёртв.
		if rmErr := RemoveRecord(pidFile); rmErr != nil {
			return nil, rmErr
		}
		staleRecordsCleaned.Inc()
		s.logger.Warn("удалена устаревшая liveness record",
			slog.Int("pid", pid),
			slog.String("path", pidFile),
		)
		s.fsm, err = lifecycle.NewStateMachine(lifecycle.StateStopped)
		if err != nil {
			return nil, err
		}
		transactorRunning.Set(0)
	case os.IsNotExist(err):
		s.fsm, err = lifecycle.NewStateMachine(lifecycle.StateStopped)
		if err != nil {
			return nil, err
		}
		transactorRunning.Set(0)
	default:
		return nil, fmt.Errorf("чтение liveness record: %w", err)
	}

	return s, nil
}

// IsRunning сообщает, жив ли поднадзорный транзактор.
// Попутно обнаруживает и чинит расхождения: мёртвый процесс при живой
// записи приводит к удалению записи и переходу в Stopped.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunningLocked()
}

// isRunningLocked — тело IsRunning; вызывается под s.mu.
func (s *Supervisor) isRunningLocked() bool {
	if s.fsm.Current() != lifecycle.StateRunning {
		return false
	}
	if processAlive(s.pid) {
		return true
	}

	// Процесс умер без участия Stop: чистим запись и состояние.
	reason := lifecycle.ReasonProcessDied
	if s.proc == nil {
		reason = lifecycle.ReasonStaleRecord
	}
	s.logger.Warn("транзактор завершился вне управляемой остановки",
		slog.Int("pid", s.pid),
		slog.String("reason", string(reason)),
	)
	if err := RemoveRecord(s.pidFile); err != nil {
		s.logger.Error("ошибка удаления liveness record",
			slog.String("error", err.Error()),
		)
	}
	staleRecordsCleaned.Inc()
	if err := s.fsm.TransitionTo(lifecycle.StateStopped, reason); err != nil {
		s.logger.Error("ошибка перехода состояния",
			slog.String("error", err.Error()),
		)
	}
	s.pid = 0
	s.proc = nil
	transactorRunning.Set(0)
	return false
}

// Start запускает транзактор и сохраняет liveness record.
// Возвращает ErrAlreadyRunning, если процесс уже жив.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunningLocked() {
		return ErrAlreadyRunning
	}

	logOut, err := os.OpenFile(s.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("открытие лог-файла транзактора: %w", err)
	}

	cmd := exec.Command(s.cmd[0], s.cmd[1:]...)
	cmd.Stdout = logOut
	cmd.Stderr = logOut

	if err := cmd.Start(); err != nil {
		_ = logOut.Close()
		return fmt.Errorf("запуск транзактора: %w", err)
	}
	// Дескриптор унаследован дочерним процессом, родителю он больше не нужен.
	_ = logOut.Close()

	if err := SaveRecord(s.pidFile, cmd.Process.Pid); err != nil {
		// Запись не сохранилась — процесс останется без liveness record,
		// гасим его, чтобы не потерять над ним контроль.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("сохранение liveness record: %w", err)
	}

	s.pid = cmd.Process.Pid
	s.proc = cmd.Process

	if err := s.fsm.TransitionTo(lifecycle.StateRunning, lifecycle.ReasonStarted); err != nil {
		s.logger.Error("ошибка перехода состояния",
			slog.String("error", err.Error()),
		)
	}

	// Пожинаем процесс в фоне, иначе после смерти он останется зомби
	// и проверка живости будет давать ложный положительный результат.
	go func() {
		_ = cmd.Wait()
	}()

	transactorStarts.Inc()
	transactorRunning.Set(1)
	s.logger.Info("транзактор запущен",
		slog.Int("pid", s.pid),
		slog.String("log", s.logFile),
	)

	return nil
}

// Stop останавливает транзактор: SIGTERM, ограниченное ожидание,
// затем SIGKILL. Liveness record удаляется в любом случае.
// Возвращает ErrNotRunning, если процесса нет; обнаруженная при этом
// устаревшая запись тоже удаляется.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunningLocked() {
		return ErrNotRunning
	}

	pid := s.pid
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		transactorStops.WithLabelValues("error").Inc()
		return fmt.Errorf("отправка SIGTERM транзактору (pid %d): %w", pid, err)
	}

	outcome := "graceful"
	deadline := time.Now().Add(s.stopTimeout)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			s.logger.Warn("транзактор не завершился за отведённое время, отправляем SIGKILL",
				slog.Int("pid", pid),
				slog.Duration("timeout", s.stopTimeout),
			)
			_ = syscall.Kill(pid, syscall.SIGKILL)
			outcome = "killed"
			// Даём ядру добить процесс.
			for processAlive(pid) {
				time.Sleep(aliveCheckInterval)
			}
			break
		}
		select {
		case <-ctx.Done():
			transactorStops.WithLabelValues("error").Inc()
			return ctx.Err()
		case <-time.After(aliveCheckInterval):
		}
	}

	if err := RemoveRecord(s.pidFile); err != nil {
		s.logger.Error("ошибка удаления liveness record",
			slog.String("error", err.Error()),
		)
	}

	if err := s.fsm.TransitionTo(lifecycle.StateStopped, lifecycle.ReasonStopped); err != nil {
		s.logger.Error("ошибка перехода состояния",
			slog.String("error", err.Error()),
		)
	}
	s.pid = 0
	s.proc = nil

	transactorStops.WithLabelValues(outcome).Inc()
	transactorRunning.Set(0)
	s.logger.Info("транзактор остановлен",
		slog.Int("pid", pid),
		slog.String("outcome", outcome),
	)

	return nil
}

// State возвращает текущее состояние жизненного цикла транзактора.
func (s *Supervisor) State() lifecycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// History возвращает историю переходов жизненного цикла.
func (s *Supervisor) History() []lifecycle.TransitionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.History()
}

// Pid возвращает PID поднадзорного процесса (0, если не запущен).
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// processAlive проверяет существование процесса нулевым сигналом.
// EPERM означает, что процесс есть, но принадлежит другому пользователю —
// считаем его живым.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
