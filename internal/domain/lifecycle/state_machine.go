// Пакет lifecycle — конечный автомат жизненного цикла супервизируемого транзактора.
//
// Два состояния:
//   - stopped — транзактор не запущен под нашим надзором
//   - running — транзактор запущен, liveness record существует
//
// Допустимые переходы: stopped → running (запуск), running → stopped
// (остановка или обнаруженная смерть процесса). Других состояний нет.
//
// Потокобезопасен через sync.RWMutex.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State — состояние супервизируемого транзактора.
type State string

const (
	// StateStopped — транзактор не запущен.
	StateStopped State = "stopped"
	// StateRunning — транзактор запущен и отслеживается.
	StateRunning State = "running"
)

// Reason — причина перехода между состояниями.
type Reason string

const (
	// ReasonStarted — транзактор запущен по решению выбора.
	ReasonStarted Reason = "started"
	// ReasonStopped — транзактор остановлен по решению выбора или при завершении.
	ReasonStopped Reason = "stopped"
	// ReasonProcessDied — процесс, запущенный нами, умер.
	ReasonProcessDied Reason = "process_died"
	// ReasonStaleRecord — найдена устаревшая запись о мёртвом процессе.
	ReasonStaleRecord Reason = "stale_record"
	// ReasonAdopted — при старте обнаружен живой процесс из прежней жизни keeper-а.
	ReasonAdopted Reason = "adopted"
)

// maxHistory — максимальная длина хранимой истории переходов.
// Старые записи вытесняются: keeper живёт долго, история не должна расти бесконечно.
const maxHistory = 100

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	ID        string    `json:"id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    Reason    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateStopped: {StateRunning: true},
	StateRunning: {StateStopped: true},
}

// StateMachine — конечный автомат состояний транзактора с историей переходов.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// NewStateMachine создаёт конечный автомат с начальным состоянием.
// Возвращает ошибку, если состояние невалидное.
func NewStateMachine(initial State) (*StateMachine, error) {
	if !isValidState(initial) {
		return nil, fmt.Errorf("недопустимое начальное состояние: %q", initial)
	}

	return &StateMachine{
		current: initial,
		history: make([]TransitionRecord, 0),
	}, nil
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// TransitionTo выполняет переход в указанное состояние с указанной причиной.
// Возвращает *TransitionError, если переход недопустим.
func (sm *StateMachine) TransitionTo(target State, reason Reason) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !isValidState(target) {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("недопустимое целевое состояние: %q", target),
		}
	}

	transitions, ok := validTransitions[sm.current]
	if !ok || !transitions[target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}

	record := TransitionRecord{
		ID:        uuid.NewString(),
		From:      sm.current,
		To:        target,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}

	sm.current = target
	sm.history = append(sm.history, record)
	if len(sm.history) > maxHistory {
		sm.history = sm.history[len(sm.history)-maxHistory:]
	}

	return nil
}

// History возвращает историю переходов (копия, от старых к новым).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError — ошибка недопустимого перехода между состояниями.
// Сигнализирует о расхождении liveness record и решения выбора.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// isValidState проверяет, является ли значение допустимым состоянием.
func isValidState(s State) bool {
	switch s {
	case StateStopped, StateRunning:
		return true
	default:
		return false
	}
}
