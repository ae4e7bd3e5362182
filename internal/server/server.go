// Пакет server — HTTP-сервер keeper-а с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/transactor-keeper/internal/api/errors"
	"github.com/bigkaa/transactor-keeper/internal/api/handlers"
	"github.com/bigkaa/transactor-keeper/internal/api/middleware"
	"github.com/bigkaa/transactor-keeper/internal/config"
)

// Scopes операций фасада. Проверяются только при включённой аутентификации.
const (
	ScopeSubmit = "transactor:submit"
	ScopeQuery  = "transactor:query"
)

// Handlers — набор обработчиков, монтируемых сервером.
type Handlers struct {
	Health *handlers.HealthHandler
	Status *handlers.StatusHandler
	Facade *handlers.FacadeHandler
}

// Server — HTTP-сервер keeper-а.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// newRouter монтирует маршруты и middleware keeper-а.
// auth — JWT middleware фасада; nil — аутентификация выключена (TK_JWKS_URL пуст).
func newRouter(logger *slog.Logger, h Handlers, auth *middleware.JWTAuth) chi.Router {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Неизвестные маршруты получают стандартное тело ошибки, а не
	// plain-text 404 chi.
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "Неизвестный маршрут: "+r.URL.Path)
	})

	// Публичные endpoints: probes, метрики, статус.
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Get("/api/v1/status", h.Status.GetStatus)

	// Фасад транзактора — под JWT, когда аутентификация включена.
	router.Group(func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Middleware())
			r.With(middleware.RequireScope(ScopeSubmit)).Post("/api/v1/submit", h.Facade.Submit)
			r.With(middleware.RequireScope(ScopeQuery)).Post("/api/v1/query", h.Facade.Query)
			return
		}
		r.Post("/api/v1/submit", h.Facade.Submit)
		r.Post("/api/v1/query", h.Facade.Query)
	})

	return router
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, auth *middleware.JWTAuth) *Server {
	router := newRouter(logger, h, auth)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// TK_SHUTDOWN_TIMEOUT.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
