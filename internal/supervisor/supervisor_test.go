package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/transactor-keeper/internal/domain/lifecycle"
)

// newTestLogger создаёт логгер для тестов.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestSupervisor создаёт супервизор над /bin/sleep во временном каталоге.
func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	dir := t.TempDir()

	s, err := New(
		[]string{"/bin/sleep", "60"},
		filepath.Join(dir, "transactor.pid"),
		filepath.Join(dir, "transactor.log"),
		2*time.Second,
		newTestLogger(),
	)
	if err != nil {
		t.Fatalf("ошибка создания супервизора: %v", err)
	}

	t.Cleanup(func() {
		if s.IsRunning() {
			_ = s.Stop(context.Background())
		}
	})

	return s
}

// deadPid возвращает PID гарантированно завершившегося процесса.
func deadPid(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("ошибка запуска /bin/true: %v", err)
	}
	return cmd.Process.Pid
}

// TestSaveLoadRecord — запись и чтение liveness record.
func TestSaveLoadRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactor.pid")

	if err := SaveRecord(path, 12345); err != nil {
		t.Fatalf("ошибка SaveRecord: %v", err)
	}

	pid, err := LoadRecord(path)
	if err != nil {
		t.Fatalf("ошибка LoadRecord: %v", err)
	}
	if pid != 12345 {
		t.Errorf("ожидался PID 12345, получен %d", pid)
	}

	if err := RemoveRecord(path); err != nil {
		t.Fatalf("ошибка RemoveRecord: %v", err)
	}
	if _, err := LoadRecord(path); !os.IsNotExist(err) {
		t.Errorf("после удаления ожидался os.ErrNotExist, получено %v", err)
	}

	// Повторное удаление — не ошибка.
	if err := RemoveRecord(path); err != nil {
		t.Errorf("повторное RemoveRecord вернуло ошибку: %v", err)
	}
}

// TestLoadRecord_Invalid — мусор в pid-файле отклоняется.
func TestLoadRecord_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"не число", "abc\n"},
		{"отрицательный", "-5\n"},
		{"ноль", "0\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "transactor.pid")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("ошибка подготовки файла: %v", err)
			}
			if _, err := LoadRecord(path); err == nil {
				t.Error("ожидалась ошибка для невалидного PID")
			}
		})
	}
}

// TestStartStop — полный цикл запуска и остановки.
func TestStartStop(t *testing.T) {
	s := newTestSupervisor(t)

	if s.IsRunning() {
		t.Fatal("транзактор не должен быть запущен до Start")
	}
	if s.State() != lifecycle.StateStopped {
		t.Fatalf("ожидалось состояние stopped, получено %s", s.State())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("ошибка Start: %v", err)
	}

	if !s.IsRunning() {
		t.Fatal("транзактор должен быть запущен после Start")
	}
	if s.State() != lifecycle.StateRunning {
		t.Errorf("ожидалось состояние running, получено %s", s.State())
	}

	// Liveness record содержит PID запущенного процесса.
	pid, err := LoadRecord(s.pidFile)
	if err != nil {
		t.Fatalf("ошибка чтения liveness record: %v", err)
	}
	if pid != s.Pid() {
		t.Errorf("PID в записи %d не совпадает с PID процесса %d", pid, s.Pid())
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("ошибка Stop: %v", err)
	}

	if s.IsRunning() {
		t.Error("транзактор не должен быть запущен после Stop")
	}
	if _, err := LoadRecord(s.pidFile); !os.IsNotExist(err) {
		t.Errorf("liveness record должна быть удалена после Stop, получено %v", err)
	}
}

// TestStart_AlreadyRunning — повторный запуск отклоняется.
func TestStart_AlreadyRunning(t *testing.T) {
	s := newTestSupervisor(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("ошибка Start: %v", err)
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("ожидался ErrAlreadyRunning, получено %v", err)
	}
}

// TestStop_NotRunning — остановка без процесса отклоняется.
func TestStop_NotRunning(t *testing.T) {
	s := newTestSupervisor(t)

	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ожидался ErrNotRunning, получено %v", err)
	}

	// Идемпотентность: двойная остановка после запуска.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("ошибка Start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("ошибка Stop: %v", err)
	}
	if err := s.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ожидался ErrNotRunning при повторной остановке, получено %v", err)
	}
}

// TestNew_StaleRecord — устаревшая запись удаляется при создании.
func TestNew_StaleRecord(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "transactor.pid")

	if err := SaveRecord(pidFile, deadPid(t)); err != nil {
		t.Fatalf("ошибка подготовки записи: %v", err)
	}

	s, err := New(
		[]string{"/bin/sleep", "60"},
		pidFile,
		filepath.Join(dir, "transactor.log"),
		2*time.Second,
		newTestLogger(),
	)
	if err != nil {
		t.Fatalf("ошибка создания супервизора: %v", err)
	}

	if s.IsRunning() {
		t.Error("супервизор не должен считать мёртвый процесс запущенным")
	}
	if s.State() != lifecycle.StateStopped {
		t.Errorf("ожидалось состояние stopped, получено %s", s.State())
	}
	if _, err := LoadRecord(pidFile); !os.IsNotExist(err) {
		t.Errorf("устаревшая запись должна быть удалена, получено %v", err)
	}
}

// TestNew_AdoptLiveProcess — живой процесс из записи принимается под надзор.
func TestNew_AdoptLiveProcess(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "transactor.pid")

	// Имитируем транзактор, переживший перезапуск keeper-а.
	orphan := exec.Command("/bin/sleep", "60")
	if err := orphan.Start(); err != nil {
		t.Fatalf("ошибка запуска процесса: %v", err)
	}
	// Процесс — дитя теста: пожинаем в фоне, чтобы после сигнала
	// он не остался зомби и проверка живости увидела завершение.
	go func() { _ = orphan.Wait() }()
	t.Cleanup(func() {
		_ = orphan.Process.Kill()
	})

	if err := SaveRecord(pidFile, orphan.Process.Pid); err != nil {
		t.Fatalf("ошибка подготовки записи: %v", err)
	}

	s, err := New(
		[]string{"/bin/sleep", "60"},
		pidFile,
		filepath.Join(dir, "transactor.log"),
		2*time.Second,
		newTestLogger(),
	)
	if err != nil {
		t.Fatalf("ошибка создания супервизора: %v", err)
	}

	if !s.IsRunning() {
		t.Error("живой процесс из записи должен быть принят под надзор")
	}
	if s.State() != lifecycle.StateRunning {
		t.Errorf("ожидалось состояние running, получено %s", s.State())
	}
	if s.Pid() != orphan.Process.Pid {
		t.Errorf("ожидался PID %d, получен %d", orphan.Process.Pid, s.Pid())
	}

	// В истории зафиксировано принятие под надзор.
	history := s.History()
	if len(history) != 1 || history[0].Reason != lifecycle.ReasonAdopted {
		t.Errorf("в истории нет перехода с причиной adopted: %+v", history)
	}

	// Принятый процесс останавливается обычным путём.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("ошибка Stop принятого процесса: %v", err)
	}
}

// TestIsRunning_DetectsDeath — смерть процесса вне Stop обнаруживается
// и liveness record удаляется.
func TestIsRunning_DetectsDeath(t *testing.T) {
	s := newTestSupervisor(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("ошибка Start: %v", err)
	}

	// Убиваем процесс в обход супервизора.
	proc, err := os.FindProcess(s.Pid())
	if err != nil {
		t.Fatalf("ошибка поиска процесса: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("ошибка kill: %v", err)
	}

	// Ждём, пока reaper пожнёт процесс и проверка живости увидит смерть.
	deadline := time.Now().Add(5 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("супервизор не обнаружил смерть процесса")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if s.State() != lifecycle.StateStopped {
		t.Errorf("ожидалось состояние stopped, получено %s", s.State())
	}
	if _, err := LoadRecord(s.pidFile); !os.IsNotExist(err) {
		t.Errorf("запись мёртвого процесса должна быть удалена, получено %v", err)
	}

	// История содержит переход с причиной process_died.
	var found bool
	for _, rec := range s.History() {
		if rec.Reason == lifecycle.ReasonProcessDied {
			found = true
		}
	}
	if !found {
		t.Error("в истории нет перехода с причиной process_died")
	}
}

// TestStart_WritesLog — вывод транзактора попадает в лог-файл.
func TestStart_WritesLog(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "transactor.log")

	s, err := New(
		[]string{"/bin/sh", "-c", "echo запись-в-лог; sleep 60"},
		filepath.Join(dir, "transactor.pid"),
		logFile,
		2*time.Second,
		newTestLogger(),
	)
	if err != nil {
		t.Fatalf("ошибка создания супервизора: %v", err)
	}
	t.Cleanup(func() {
		if s.IsRunning() {
			_ = s.Stop(context.Background())
		}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("ошибка Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, err := os.ReadFile(logFile)
		if err == nil && len(data) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("лог-файл транзактора остался пустым")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
