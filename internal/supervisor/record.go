// record.go — чтение/запись liveness record транзактора (pid-файл).
//
// Существование записи — единственное персистентное свидетельство того,
// что этот узел считает транзактор запущенным под своим надзором.
// Формат файла: одна строка, десятичный PID.
//
// Запись может устареть (указывать на мёртвый процесс) после падения
// keeper-а или самого транзактора — устаревание обнаруживается проверкой
// живости процесса, а не предполагается.
package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SaveRecord записывает liveness record атомарно: temp файл → fsync → rename.
func SaveRecord(path string, pid int) error {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания temp pid-файла: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи temp pid-файла: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync temp pid-файла: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия temp pid-файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка rename pid-файла: %w", err)
	}

	return nil
}

// LoadRecord читает PID из liveness record.
// Возвращает os.ErrNotExist, если записи нет.
func LoadRecord(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("невалидный PID в %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("невалидный PID в %s: %d", path, pid)
	}

	return pid, nil
}

// RemoveRecord удаляет liveness record. Отсутствие файла не является ошибкой.
func RemoveRecord(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления pid-файла: %w", err)
	}
	return nil
}
