package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedProber — проба с заранее заданной последовательностью ответов.
// После исчерпания сценария повторяет последний ответ.
type scriptedProber struct {
	answers []bool
	errs    []error
	calls   int
}

func (p *scriptedProber) SyncStatus(ctx context.Context) (bool, error) {
	i := p.calls
	if i >= len(p.answers) {
		i = len(p.answers) - 1
	}
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.answers[i], err
}

// TestWait_ReadyImmediately — готовый кластер не требует повторных проб.
func TestWait_ReadyImmediately(t *testing.T) {
	prober := &scriptedProber{answers: []bool{true}}
	b := NewBootstrap(prober, 30, time.Hour, newTestLogger())

	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("ошибка Wait: %v", err)
	}
	if prober.calls != 1 {
		t.Errorf("ожидалась 1 проба, выполнено %d", prober.calls)
	}
}

// TestWait_ReadyOnLastAttempt — успех на последней попытке засчитывается.
func TestWait_ReadyOnLastAttempt(t *testing.T) {
	answers := make([]bool, 5)
	answers[4] = true
	prober := &scriptedProber{answers: answers}
	b := NewBootstrap(prober, 5, time.Millisecond, newTestLogger())

	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("ошибка Wait: %v", err)
	}
	if prober.calls != 5 {
		t.Errorf("ожидалось 5 проб, выполнено %d", prober.calls)
	}
}

// TestWait_Exhausted — после исчерпания попыток возвращается ErrClusterNotReady.
func TestWait_Exhausted(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	b := NewBootstrap(prober, 3, time.Millisecond, newTestLogger())

	if err := b.Wait(context.Background()); !errors.Is(err, ErrClusterNotReady) {
		t.Errorf("ожидался ErrClusterNotReady, получено %v", err)
	}
	if prober.calls != 3 {
		t.Errorf("ожидалось 3 пробы, выполнено %d", prober.calls)
	}
}

// TestWait_ProbeErrorsAreNotFatal — ошибка пробы считается отрицательным
// ответом, а не срывом ожидания.
func TestWait_ProbeErrorsAreNotFatal(t *testing.T) {
	prober := &scriptedProber{
		answers: []bool{false, true},
		errs:    []error{errors.New("endpoint недоступен"), nil},
	}
	b := NewBootstrap(prober, 5, time.Millisecond, newTestLogger())

	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("ошибка Wait: %v", err)
	}
	if prober.calls != 2 {
		t.Errorf("ожидалось 2 пробы, выполнено %d", prober.calls)
	}
}

// TestWait_ContextCancel — отмена контекста прерывает ожидание.
func TestWait_ContextCancel(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	b := NewBootstrap(prober, 30, time.Hour, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидался context.DeadlineExceeded, получено %v", err)
	}
}
