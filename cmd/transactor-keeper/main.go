// Точка входа Transactor Keeper — координатора единственного
// транзактора в сети мастернод.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/transactor-keeper/internal/api/handlers"
	"github.com/bigkaa/transactor-keeper/internal/api/middleware"
	"github.com/bigkaa/transactor-keeper/internal/chainclient"
	"github.com/bigkaa/transactor-keeper/internal/config"
	"github.com/bigkaa/transactor-keeper/internal/domain/node"
	"github.com/bigkaa/transactor-keeper/internal/server"
	"github.com/bigkaa/transactor-keeper/internal/service"
	"github.com/bigkaa/transactor-keeper/internal/supervisor"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Transactor Keeper запускается",
		slog.String("node_id", cfg.NodeID),
		slog.String("version", config.Version),
		slog.String("advertise_address", cfg.AdvertiseAddress),
		slog.Int("port", cfg.Port),
	)

	// --- Инициализация компонентов ---

	// 1. Супервизор транзактора: сверяет liveness record с реальностью,
	// живой процесс от прошлого запуска принимается под надзор.
	sup, err := supervisor.New(cfg.TransactorCmd, cfg.PidFile, cfg.TransactorLog, cfg.StopTimeout, logger)
	if err != nil {
		logger.Error("Ошибка инициализации супервизора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Клиент цепочки: реестр мастернод, оракул, проба готовности
	chain := chainclient.New(cfg.ChainRPCURL, cfg.RPCTimeout, cfg.BlockCacheSize, cfg.BlockCacheTTL, logger)

	// 3. Bootstrap: ждём готовности кластера, без неё выборы бессмысленны
	bootstrap := service.NewBootstrap(chain, cfg.BootstrapMaxAttempts, cfg.BootstrapProbeInterval, logger)
	if err := bootstrap.Wait(context.Background()); err != nil {
		if errors.Is(err, service.ErrClusterNotReady) {
			logger.Error("Кластер не достиг готовности, завершение",
				slog.Int("max_attempts", cfg.BootstrapMaxAttempts),
			)
		} else {
			logger.Error("Ошибка ожидания готовности кластера", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}

	// 4. Управляющий цикл
	local := node.Node{ID: cfg.NodeID, Address: cfg.AdvertiseAddress, Enabled: true}
	rotator := service.NewLogRotator(cfg.TransactorLog, cfg.LogRotateThreshold, logger)
	syncer := service.NewSyncer(cfg.SyncCmd, cfg.DataDir, cfg.SyncTimeout, logger)
	coordinator := service.NewCoordinator(
		chain, chain, sup, syncer, rotator,
		local,
		cfg.PollInterval,
		cfg.RPCTimeout,
		logger,
	)

	ctx := context.Background()
	coordinator.Start(ctx)

	// 5. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(
		cfg.NodeID,
		cfg.DephealthGroup,
		cfg.DephealthDepName,
		cfg.ChainRPCURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("dep_name", cfg.DephealthDepName),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 6. Handlers
	h := server.Handlers{
		Health: handlers.NewHealthHandler(cfg.DataDir, coordinator),
		Status: handlers.NewStatusHandler(cfg.NodeID, coordinator, sup),
		Facade: handlers.NewFacadeHandler(coordinator, cfg.TransactorPort, cfg.RPCTimeout, logger),
	}

	// 7. JWT middleware фасада (включается наличием TK_JWKS_URL)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   cfg.RPCTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			// JWT недоступен — запускаем без аутентификации (для разработки)
			logger.Warn("JWT JWKS недоступен, запуск без аутентификации",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("JWT аутентификация настроена",
				slog.String("jwks_url", cfg.JWKSUrl),
			)
		}
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, jwtAuth)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	coordinator.Stop()
	if dephealthSvc != nil && dephealthErr == nil {
		dephealthSvc.Stop()
	}

	// Поднадзорный транзактор не переживает keeper: лидерство на этом
	// узле заканчивается вместе с ним.
	if sup.IsRunning() {
		if err := sup.Stop(context.Background()); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			logger.Error("Ошибка остановки транзактора", slog.String("error", err.Error()))
		}
	}

	logger.Info("Transactor Keeper остановлен")
}
