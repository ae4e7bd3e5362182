// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/transactor-keeper/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к каталогу данных транзактора (для проверки FS)
	dataDir string
	// roleProvider — готовность управляющего цикла
	roleProvider RoleProvider
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataDir string, roleProvider RoleProvider) *HealthHandler {
	return &HealthHandler{
		version:      config.Version,
		dataDir:      dataDir,
		roleProvider: roleProvider,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс keeper-а жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "transactor-keeper",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, первый успешный цикл выбора.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	// Проверка файловой системы
	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Проверка управляющего цикла: до первого успешного цикла
	// роль неизвестна и узел не готов обслуживать фасад.
	cycleCheck := h.checkCoordinator()
	if cycleCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "transactor-keeper",
		"checks": map[string]any{
			"filesystem":  fsCheck,
			"coordinator": cycleCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkFilesystem проверяет доступность каталога данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.dataDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Каталог данных недоступен для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// checkCoordinator проверяет, что управляющий цикл дал хотя бы один результат.
func (h *HealthHandler) checkCoordinator() map[string]any {
	if h.roleProvider == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	if !h.roleProvider.Ready() {
		return map[string]any{
			"status":  statusFail,
			"message": "Первый цикл выбора ещё не завершён",
		}
	}

	return map[string]any{
		"status": "ok",
		"role":   h.roleProvider.CurrentRole(),
	}
}
