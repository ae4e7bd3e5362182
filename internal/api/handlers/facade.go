// facade.go — фасад клиентских операций транзактора.
//
// Клиенты ходят на любой узел: фасад проксирует запрос транзактору
// текущего лидера. Если лидер — этот же узел, запрос уходит на
// локальный транзактор (127.0.0.1), минуя внешний адрес.
// До первого успешного цикла лидер неизвестен — фасад отвечает 503.
package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/transactor-keeper/internal/api/errors"
	"github.com/bigkaa/transactor-keeper/internal/api/middleware"
)

// Prometheus метрики фасада
var (
	// facadeProxiedTotal — количество проксированных запросов по операциям и исходам.
	facadeProxiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tk_facade_proxied_total",
		Help: "Общее количество запросов, проксированных транзактору лидера",
	}, []string{"operation", "outcome"})
)

// FacadeHandler проксирует submit/query транзактору текущего лидера.
type FacadeHandler struct {
	roleProvider   RoleProvider
	transactorPort int
	httpClient     *http.Client
	logger         *slog.Logger
}

// NewFacadeHandler создаёт фасад.
//
// Параметры:
//   - roleProvider: источник текущего лидера
//   - transactorPort: порт API транзактора (TK_TRANSACTOR_PORT)
//   - timeout: таймаут проксируемого запроса
func NewFacadeHandler(roleProvider RoleProvider, transactorPort int, timeout time.Duration, logger *slog.Logger) *FacadeHandler {
	return &FacadeHandler{
		roleProvider:   roleProvider,
		transactorPort: transactorPort,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(slog.String("component", "facade")),
	}
}

// Submit обрабатывает POST /api/v1/submit.
func (h *FacadeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "submit")
}

// Query обрабатывает POST /api/v1/query.
func (h *FacadeHandler) Query(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "query")
}

// proxy пересылает тело запроса транзактору лидера и возвращает ответ как есть.
func (h *FacadeHandler) proxy(w http.ResponseWriter, r *http.Request, operation string) {
	// Обе операции принимают JSON-документ; пустой запрос отсекается
	// на фасаде, не тратя цикл обращения к транзактору.
	if r.ContentLength == 0 {
		facadeProxiedTotal.WithLabelValues(operation, "invalid").Inc()
		apierrors.ValidationError(w, "Пустое тело запроса: ожидается JSON-документ операции")
		return
	}

	host, err := h.leaderHost()
	if err != nil {
		facadeProxiedTotal.WithLabelValues(operation, "no_leader").Inc()
		apierrors.LeaderUnknown(w, "Текущий лидер не определён: "+err.Error())
		return
	}

	url := fmt.Sprintf("http://%s/%s", net.JoinHostPort(host, strconv.Itoa(h.transactorPort)), operation)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, r.Body)
	if err != nil {
		facadeProxiedTotal.WithLabelValues(operation, "error").Inc()
		apierrors.InternalError(w, "Создание запроса к транзактору: "+err.Error())
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		facadeProxiedTotal.WithLabelValues(operation, "upstream_error").Inc()
		h.logger.Error("транзактор лидера недоступен",
			slog.String("operation", operation),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		apierrors.UpstreamUnavailable(w, "Транзактор лидера недоступен")
		return
	}
	defer resp.Body.Close()

	h.logger.Debug("запрос проксирован транзактору",
		slog.String("operation", operation),
		slog.String("host", host),
		slog.Int("status", resp.StatusCode),
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)

	facadeProxiedTotal.WithLabelValues(operation, "ok").Inc()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// leaderHost возвращает хост транзактора текущего лидера.
// Локальное лидерство — всегда loopback: внешний адрес узла может быть
// недостижим изнутри (NAT).
func (h *FacadeHandler) leaderHost() (string, error) {
	if !h.roleProvider.Ready() {
		return "", fmt.Errorf("первый цикл выбора ещё не завершён")
	}

	if h.roleProvider.IsLeader() {
		return "127.0.0.1", nil
	}

	addr := h.roleProvider.LeaderAddr()
	if addr == "" {
		return "", fmt.Errorf("адрес лидера отсутствует в реестре")
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// Адрес без порта — используем как есть.
		return addr, nil
	}
	return host, nil
}
