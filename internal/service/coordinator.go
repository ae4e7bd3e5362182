// coordinator.go — управляющий цикл координатора лидерства.
//
// Каждый тик (TK_POLL_INTERVAL) цикл выполняет фиксированную
// последовательность:
//  1. Ротация лог-файла транзактора (не фатальна).
//  2. Свежий срез членства и опорное значение от цепочки — любая ошибка
//     здесь пропускает цикл без изменения состояния: retry на следующем тике.
//  3. Детерминированный выбор лидера по XOR-расстоянию.
//  4. Сверка роли с супервизором: лидер без процесса — запуск;
//     не-лидер с процессом — остановка и синхронизация с новым лидером.
//
// Цикл намеренно без консенсуса и блокировок: одинаковые входы дают
// одинаковый выбор на всех узлах, расхождения сходятся за один-два тика.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/transactor-keeper/internal/domain/node"
	"github.com/bigkaa/transactor-keeper/internal/election"
	"github.com/bigkaa/transactor-keeper/internal/supervisor"
)

// Роли узла для внешних потребителей (API статуса).
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
	// RoleUnknown — до первого успешного цикла роль не определена.
	RoleUnknown = "unknown"
)

// MembershipSource — источник среза членства.
type MembershipSource interface {
	MasternodeList(ctx context.Context) (node.Snapshot, error)
}

// ReferenceOracle — источник опорного значения цикла.
type ReferenceOracle interface {
	CurrentMerkleRoot(ctx context.Context) ([]byte, error)
}

// TransactorSupervisor — управление процессом транзактора.
type TransactorSupervisor interface {
	IsRunning() bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SyncProvider — синхронизация данных с лидером.
type SyncProvider interface {
	Sync(ctx context.Context, peerAddr string) error
}

// Rotator — ротация лог-файла транзактора.
type Rotator interface {
	RotateIfNeeded() error
}

// Prometheus метрики координатора
var (
	// electionCyclesTotal — количество завершённых циклов выбора.
	electionCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tk_election_cycles_total",
		Help: "Общее количество завершённых циклов выбора лидера",
	})

	// cycleSkipsTotal — количество пропущенных циклов по причинам.
	cycleSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tk_cycle_skips_total",
		Help: "Общее количество пропущенных циклов выбора",
	}, []string{"reason"})

	// leadershipTransitionsTotal — смены роли по направлениям.
	leadershipTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tk_leadership_transitions_total",
		Help: "Общее количество смен роли узла",
	}, []string{"direction"})

	// isLeaderGauge — 1, если узел сейчас лидер.
	isLeaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tk_is_leader",
		Help: "Признак лидерства узла (1 — лидер)",
	})

	// cycleDurationSeconds — длительность цикла выбора.
	cycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tk_cycle_duration_seconds",
		Help:    "Длительность цикла выбора лидера в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// Coordinator — управляющий цикл координатора лидерства.
type Coordinator struct {
	membership MembershipSource
	oracle     ReferenceOracle
	sup        TransactorSupervisor
	syncer     SyncProvider
	rotator    Rotator

	local        node.Node
	pollInterval time.Duration
	rpcTimeout   time.Duration
	logger       *slog.Logger

	// loopMu сериализует циклы RunOnce. Долгие операции (остановка
	// транзактора, синхронизация) идут под ним, но НЕ под mu:
	// читатели роли не должны ждать завершения цикла.
	loopMu sync.Mutex

	// mu защищает только опубликованное состояние последнего решения.
	mu            sync.Mutex
	cancel        context.CancelFunc
	hasDecision   bool
	lastDecision  election.Decision
	lastReference []byte
	cycles        uint64
}

// NewCoordinator создаёт координатор.
//
// Параметры:
//   - membership, oracle: клиент цепочки
//   - sup: супервизор транзактора
//   - syncer: синхронизация данных после потери лидерства
//   - rotator: ротация лог-файла транзактора
//   - local: идентичность этого узла (TK_NODE_ID, TK_ADVERTISE_ADDRESS)
//   - pollInterval: период цикла (TK_POLL_INTERVAL)
//   - rpcTimeout: таймаут внешних вызовов цикла (TK_RPC_TIMEOUT)
func NewCoordinator(
	membership MembershipSource,
	oracle ReferenceOracle,
	sup TransactorSupervisor,
	syncer SyncProvider,
	rotator Rotator,
	local node.Node,
	pollInterval time.Duration,
	rpcTimeout time.Duration,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		membership:   membership,
		oracle:       oracle,
		sup:          sup,
		syncer:       syncer,
		rotator:      rotator,
		local:        local,
		pollInterval: pollInterval,
		rpcTimeout:   rpcTimeout,
		logger:       logger.With(slog.String("component", "coordinator")),
	}
}

// Start запускает фоновую горутину управляющего цикла.
// Вызывается один раз при старте приложения.
func (c *Coordinator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(loopCtx)

	c.logger.Info("управляющий цикл запущен",
		slog.String("node_id", c.local.ID),
		slog.String("interval", c.pollInterval.String()),
	)
}

// Stop останавливает фоновый цикл.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.logger.Info("управляющий цикл остановлен")
}

// run — основной цикл фоновой горутины.
func (c *Coordinator) run(ctx context.Context) {
	// Первый цикл — сразу после старта
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл выбора и сверки роли.
// Потокобезопасен: loopMu защищает от параллельного запуска цикла.
// Решение публикуется до долгой сверки роли, поэтому читатели роли
// (статус, фасад, readiness) видят нового лидера, не дожидаясь
// завершения остановки транзактора и синхронизации.
func (c *Coordinator) RunOnce(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	start := time.Now()
	cycleID := uuid.New().String()
	logger := c.logger.With(slog.String("cycle_id", cycleID))

	logger.Debug("цикл выбора начат")

	// Ротация лога не должна срывать цикл.
	if err := c.rotator.RotateIfNeeded(); err != nil {
		logger.Warn("ошибка ротации лог-файла",
			slog.String("error", err.Error()),
		)
	}

	// Членство и опорное значение — строго свежие, под общим таймаутом.
	rpcCtx, cancel := context.WithTimeout(ctx, c.rpcTimeout)
	defer cancel()

	snapshot, err := c.membership.MasternodeList(rpcCtx)
	if err != nil {
		cycleSkipsTotal.WithLabelValues("registry").Inc()
		logger.Warn("реестр недоступен, цикл пропущен",
			slog.String("error", err.Error()),
		)
		return
	}

	reference, err := c.oracle.CurrentMerkleRoot(rpcCtx)
	if err != nil {
		cycleSkipsTotal.WithLabelValues("oracle").Inc()
		logger.Warn("оракул недоступен, цикл пропущен",
			slog.String("error", err.Error()),
		)
		return
	}

	decision := election.Decide(snapshot, reference, c.local)

	c.mu.Lock()
	wasLeader := c.hasDecision && c.lastDecision.IsLeader
	c.lastDecision = decision
	c.lastReference = reference
	c.hasDecision = true
	c.cycles++
	c.mu.Unlock()

	logger.Debug("выбор завершён",
		slog.Bool("is_leader", decision.IsLeader),
		slog.String("leader_id", decision.Leader.ID),
		slog.String("score", decision.LocalScore.Hex()),
		slog.Int("nodes", snapshot.Len()),
		slog.Int("enabled", len(snapshot.EnabledNodes())),
	)

	c.reconcileRole(ctx, logger, decision, reference, wasLeader)

	electionCyclesTotal.Inc()
	if decision.IsLeader {
		isLeaderGauge.Set(1)
	} else {
		isLeaderGauge.Set(0)
	}
	cycleDurationSeconds.Observe(time.Since(start).Seconds())
}

// reconcileRole приводит состояние транзактора в соответствие роли.
// Вызывается под loopMu, но без mu: долгие остановка и синхронизация
// не блокируют читателей опубликованного решения.
func (c *Coordinator) reconcileRole(ctx context.Context, logger *slog.Logger, decision election.Decision, reference []byte, wasLeader bool) {
	running := c.sup.IsRunning()

	switch {
	case decision.IsLeader && !running:
		if !wasLeader && c.Cycles() > 1 {
			leadershipTransitionsTotal.WithLabelValues("gained").Inc()
		}
		logger.Info("узел выбран лидером, запускаем транзактор",
			slog.String("reference", hex.EncodeToString(reference)),
		)
		if err := c.sup.Start(ctx); err != nil {
			// Параллельный запуск извне — не ошибка цикла.
			if errors.Is(err, supervisor.ErrAlreadyRunning) {
				logger.Warn("транзактор уже запущен")
				return
			}
			logger.Error("ошибка запуска транзактора",
				slog.String("error", err.Error()),
			)
		}

	case !decision.IsLeader && running:
		leadershipTransitionsTotal.WithLabelValues("lost").Inc()
		logger.Info("лидерство потеряно, останавливаем транзактор",
			slog.String("new_leader", decision.Leader.ID),
		)
		if err := c.sup.Stop(ctx); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			logger.Error("ошибка остановки транзактора",
				slog.String("error", err.Error()),
			)
			return
		}
		// Данные догоняют нового лидера. Ошибка не фатальна.
		if decision.Leader.Address != "" {
			if err := c.syncer.Sync(ctx, decision.Leader.Address); err != nil {
				logger.Error("ошибка синхронизации с лидером",
					slog.String("leader", decision.Leader.Address),
					slog.String("error", err.Error()),
				)
			}
		} else {
			logger.Warn("адрес нового лидера неизвестен, синхронизация пропущена",
				slog.String("leader_id", decision.Leader.ID),
			)
		}
	}
}

// IsLeader сообщает, является ли узел лидером по последнему циклу.
func (c *Coordinator) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasDecision && c.lastDecision.IsLeader
}

// CurrentRole возвращает роль узла: leader, follower или unknown
// до первого успешного цикла.
func (c *Coordinator) CurrentRole() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDecision {
		return RoleUnknown
	}
	if c.lastDecision.IsLeader {
		return RoleLeader
	}
	return RoleFollower
}

// LeaderAddr возвращает адрес текущего лидера ("" — если неизвестен).
func (c *Coordinator) LeaderAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDecision {
		return ""
	}
	return c.lastDecision.Leader.Address
}

// LeaderID возвращает ID текущего лидера ("" — если неизвестен).
func (c *Coordinator) LeaderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDecision {
		return ""
	}
	return c.lastDecision.Leader.ID
}

// LastReference возвращает опорное значение последнего цикла в hex.
func (c *Coordinator) LastReference() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return hex.EncodeToString(c.lastReference)
}

// Cycles возвращает количество завершённых циклов выбора.
func (c *Coordinator) Cycles() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// Ready сообщает, прошёл ли хотя бы один успешный цикл выбора.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasDecision
}
