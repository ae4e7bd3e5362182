package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/transactor-keeper/internal/domain/node"
	"github.com/bigkaa/transactor-keeper/internal/election"
)

// stubChain — управляемый источник членства и опорного значения.
type stubChain struct {
	mu        sync.Mutex
	snapshot  node.Snapshot
	reference []byte
	listErr   error
	rootErr   error
}

func (s *stubChain) MasternodeList(ctx context.Context) (node.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return node.Snapshot{}, s.listErr
	}
	return s.snapshot, nil
}

func (s *stubChain) CurrentMerkleRoot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootErr != nil {
		return nil, s.rootErr
	}
	return s.reference, nil
}

// stubSupervisor — супервизор, считающий вызовы.
type stubSupervisor struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (s *stubSupervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stubSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.running = true
	return nil
}

func (s *stubSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.running = false
	return nil
}

// stubSyncer — синхронизация, запоминающая адреса.
type stubSyncer struct {
	mu    sync.Mutex
	peers []string
}

func (s *stubSyncer) Sync(ctx context.Context, peerAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append(s.peers, peerAddr)
	return nil
}

// stubRotator — ротация без эффекта.
type stubRotator struct{}

func (stubRotator) RotateIfNeeded() error { return nil }

// localNode — идентичность тестового узла.
var localNode = node.Node{ID: "mn-local", Address: "10.0.0.1:8020", Enabled: true}

// newTestCoordinator собирает координатор на стабах.
func newTestCoordinator(chain *stubChain, sup *stubSupervisor, syn *stubSyncer) *Coordinator {
	return NewCoordinator(
		chain, chain, sup, syn, stubRotator{},
		localNode,
		time.Hour, // тики не нужны, циклы гоняются вручную
		time.Second,
		newTestLogger(),
	)
}

// closerPeer подбирает узел, который выигрывает выбор у localNode
// для данного опорного значения.
func closerPeer(t *testing.T, reference []byte, addr string) node.Node {
	t.Helper()
	localScore := election.Score(reference, []byte(localNode.ID))
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("mn-peer-%04d", i)
		score := election.Score(reference, []byte(id))
		if bytes.Compare(score[:], localScore[:]) < 0 {
			return node.Node{ID: id, Address: addr, Enabled: true}
		}
	}
	t.Fatal("не удалось подобрать выигрывающий узел")
	return node.Node{}
}

// fartherPeer подбирает узел, который проигрывает выбор localNode.
func fartherPeer(t *testing.T, reference []byte, addr string) node.Node {
	t.Helper()
	localScore := election.Score(reference, []byte(localNode.ID))
	for i := 0; i < 10000; i++ {
		id := fmt.Sprintf("mn-peer-%04d", i)
		score := election.Score(reference, []byte(id))
		if bytes.Compare(score[:], localScore[:]) > 0 {
			return node.Node{ID: id, Address: addr, Enabled: true}
		}
	}
	t.Fatal("не удалось подобрать проигрывающий узел")
	return node.Node{}
}

// TestRunOnce_GainLeadership — выбранный лидер запускает транзактор один раз.
func TestRunOnce_GainLeadership(t *testing.T) {
	reference := []byte("block-ref-1")
	chain := &stubChain{
		snapshot: node.Snapshot{Nodes: []node.Node{
			localNode,
			fartherPeer(t, reference, "10.0.0.2:8020"),
		}},
		reference: reference,
	}
	sup := &stubSupervisor{}
	syn := &stubSyncer{}
	c := newTestCoordinator(chain, sup, syn)

	c.RunOnce(context.Background())

	if !c.IsLeader() {
		t.Fatal("узел должен быть лидером")
	}
	if c.CurrentRole() != RoleLeader {
		t.Errorf("ожидалась роль leader, получена %s", c.CurrentRole())
	}
	if sup.starts != 1 {
		t.Errorf("ожидался 1 запуск транзактора, выполнено %d", sup.starts)
	}

	// Повторный цикл с тем же исходом не перезапускает процесс.
	c.RunOnce(context.Background())
	if sup.starts != 1 {
		t.Errorf("повторный цикл не должен перезапускать транзактор, запусков %d", sup.starts)
	}
	if c.Cycles() != 2 {
		t.Errorf("ожидалось 2 цикла, получено %d", c.Cycles())
	}
}

// TestRunOnce_LoseLeadership — потеря лидерства: ровно одна остановка,
// затем ровно одна синхронизация с адресом нового лидера.
func TestRunOnce_LoseLeadership(t *testing.T) {
	reference := []byte("block-ref-1")
	chain := &stubChain{
		snapshot:  node.Snapshot{Nodes: []node.Node{localNode}},
		reference: reference,
	}
	sup := &stubSupervisor{}
	syn := &stubSyncer{}
	c := newTestCoordinator(chain, sup, syn)

	// Единственный узел — лидер.
	c.RunOnce(context.Background())
	if !c.IsLeader() || sup.starts != 1 {
		t.Fatalf("узел должен был стать лидером и запустить транзактор")
	}

	// В реестре появляется более близкий узел.
	winner := closerPeer(t, reference, "10.0.0.9:8020")
	chain.mu.Lock()
	chain.snapshot = node.Snapshot{Nodes: []node.Node{localNode, winner}}
	chain.mu.Unlock()

	c.RunOnce(context.Background())

	if c.IsLeader() {
		t.Error("узел не должен оставаться лидером")
	}
	if c.CurrentRole() != RoleFollower {
		t.Errorf("ожидалась роль follower, получена %s", c.CurrentRole())
	}
	if sup.stops != 1 {
		t.Errorf("ожидалась 1 остановка транзактора, выполнено %d", sup.stops)
	}
	if len(syn.peers) != 1 || syn.peers[0] != winner.Address {
		t.Errorf("ожидалась 1 синхронизация с %s, получено %v", winner.Address, syn.peers)
	}
	if c.LeaderID() != winner.ID {
		t.Errorf("ожидался лидер %s, получен %s", winner.ID, c.LeaderID())
	}

	// Повторный цикл без смены роли — без повторной синхронизации.
	c.RunOnce(context.Background())
	if sup.stops != 1 || len(syn.peers) != 1 {
		t.Errorf("повторный цикл не должен повторять остановку и синхронизацию")
	}
}

// TestRunOnce_SkipOnFetchFailure — недоступность реестра или оракула
// пропускает цикл, не меняя роль и состояние транзактора.
func TestRunOnce_SkipOnFetchFailure(t *testing.T) {
	reference := []byte("block-ref-1")
	chain := &stubChain{
		snapshot:  node.Snapshot{Nodes: []node.Node{localNode}},
		reference: reference,
	}
	sup := &stubSupervisor{}
	syn := &stubSyncer{}
	c := newTestCoordinator(chain, sup, syn)

	c.RunOnce(context.Background())
	if !c.IsLeader() {
		t.Fatal("узел должен был стать лидером")
	}

	testCases := []struct {
		name string
		set  func()
	}{
		{"реестр недоступен", func() { chain.listErr = errors.New("реестр недоступен") }},
		{"оракул недоступен", func() { chain.rootErr = errors.New("оракул недоступен") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			chain.mu.Lock()
			tc.set()
			chain.mu.Unlock()

			cyclesBefore := c.Cycles()
			c.RunOnce(context.Background())

			if c.Cycles() != cyclesBefore {
				t.Error("пропущенный цикл не должен засчитываться")
			}
			if !c.IsLeader() {
				t.Error("роль не должна меняться при пропуске цикла")
			}
			if sup.stops != 0 {
				t.Error("транзактор не должен останавливаться при пропуске цикла")
			}

			chain.mu.Lock()
			chain.listErr = nil
			chain.rootErr = nil
			chain.mu.Unlock()
		})
	}
}

// blockingSyncer — синхронизация, которая сигнализирует о старте
// и не завершается до закрытия release.
type blockingSyncer struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSyncer) Sync(ctx context.Context, peerAddr string) error {
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

// TestRunOnce_ReadersNotBlockedDuringSync — читатели роли не ждут
// завершения долгой синхронизации: решение публикуется до сверки роли.
func TestRunOnce_ReadersNotBlockedDuringSync(t *testing.T) {
	reference := []byte("block-ref-1")
	chain := &stubChain{
		snapshot:  node.Snapshot{Nodes: []node.Node{localNode}},
		reference: reference,
	}
	sup := &stubSupervisor{}
	syn := &blockingSyncer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewCoordinator(
		chain, chain, sup, syn, stubRotator{},
		localNode,
		time.Hour,
		time.Second,
		newTestLogger(),
	)

	// Первый цикл: единственный узел — лидер.
	c.RunOnce(context.Background())
	if !c.IsLeader() {
		t.Fatal("узел должен был стать лидером")
	}

	// В реестре появляется более близкий узел, цикл уходит в синхронизацию.
	winner := closerPeer(t, reference, "10.0.0.9:8020")
	chain.mu.Lock()
	chain.snapshot = node.Snapshot{Nodes: []node.Node{localNode, winner}}
	chain.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunOnce(context.Background())
	}()

	<-syn.started

	// Цикл стоит в Sync. Читатели обязаны отвечать сразу
	// и уже видеть нового лидера.
	begin := time.Now()
	role := c.CurrentRole()
	leader := c.LeaderAddr()
	elapsed := time.Since(begin)

	close(syn.release)
	<-done

	if elapsed > time.Second {
		t.Fatalf("читатели роли заблокированы на %s во время синхронизации", elapsed)
	}
	if role != RoleFollower {
		t.Errorf("ожидалась роль follower во время синхронизации, получена %s", role)
	}
	if leader != winner.Address {
		t.Errorf("ожидался адрес лидера %s, получен %s", winner.Address, leader)
	}
}

// TestCurrentRole_UnknownBeforeFirstCycle — до первого цикла роль неизвестна.
func TestCurrentRole_UnknownBeforeFirstCycle(t *testing.T) {
	chain := &stubChain{}
	c := newTestCoordinator(chain, &stubSupervisor{}, &stubSyncer{})

	if c.CurrentRole() != RoleUnknown {
		t.Errorf("ожидалась роль unknown, получена %s", c.CurrentRole())
	}
	if c.Ready() {
		t.Error("узел не должен быть готов до первого цикла")
	}
	if c.LeaderAddr() != "" {
		t.Error("адрес лидера должен быть пуст до первого цикла")
	}
}

// TestRunOnce_DisabledWinnerIgnored — узел с неактивным статусом
// не участвует в выборе, даже если его расстояние меньше.
func TestRunOnce_DisabledWinnerIgnored(t *testing.T) {
	reference := []byte("block-ref-1")
	winner := closerPeer(t, reference, "10.0.0.9:8020")
	winner.Enabled = false

	chain := &stubChain{
		snapshot:  node.Snapshot{Nodes: []node.Node{localNode, winner}},
		reference: reference,
	}
	sup := &stubSupervisor{}
	c := newTestCoordinator(chain, sup, &stubSyncer{})

	c.RunOnce(context.Background())

	if !c.IsLeader() {
		t.Error("неактивный узел не должен выигрывать выбор")
	}
	if sup.starts != 1 {
		t.Errorf("ожидался 1 запуск транзактора, выполнено %d", sup.starts)
	}
}
