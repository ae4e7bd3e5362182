// handler.go — общие интерфейсы обработчиков API keeper-а.
package handlers

import (
	"github.com/bigkaa/transactor-keeper/internal/domain/lifecycle"
)

// RoleProvider — источник текущей роли узла и сведений о лидере.
// Реализуется координатором.
type RoleProvider interface {
	// IsLeader — является ли узел лидером по последнему циклу.
	IsLeader() bool
	// CurrentRole — leader, follower или unknown до первого цикла.
	CurrentRole() string
	// LeaderID — ID текущего лидера ("" — неизвестен).
	LeaderID() string
	// LeaderAddr — адрес текущего лидера ("" — неизвестен).
	LeaderAddr() string
	// LastReference — опорное значение последнего цикла в hex.
	LastReference() string
	// Cycles — количество завершённых циклов выбора.
	Cycles() uint64
	// Ready — прошёл ли хотя бы один успешный цикл.
	Ready() bool
}

// SupervisorStatus — сведения о поднадзорном транзакторе.
// Реализуется супервизором.
type SupervisorStatus interface {
	// State — текущее состояние жизненного цикла.
	State() lifecycle.State
	// History — история переходов жизненного цикла.
	History() []lifecycle.TransitionRecord
	// Pid — PID поднадзорного процесса (0 — не запущен).
	Pid() int
}
