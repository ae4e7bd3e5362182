// Пакет config — загрузка и валидация конфигурации Transactor Keeper
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Transactor Keeper.
type Config struct {
	// Порт HTTP-сервера keeper-а
	Port int
	// Уникальный стабильный идентификатор узла в сети мастернод (обязательный)
	NodeID string
	// Анонсируемый адрес узла (host:port); пустая строка — hostname:Port
	AdvertiseAddress string
	// Путь к директории данных транзактора
	DataDir string
	// Базовый URL RPC-endpoint-а цепочки (реестр мастернод + оракул)
	ChainRPCURL string
	// Командная строка запуска транзактора (исполняемый файл и аргументы)
	TransactorCmd []string
	// Порт HTTP-интерфейса транзактора (для фасада submit/query)
	TransactorPort int
	// Путь к лог-файлу транзактора
	TransactorLog string
	// Путь к pid-файлу (liveness record)
	PidFile string
	// Командная строка sync-провайдера (исполняемый файл и аргументы);
	// вызывается как: cmd [args...] <leader-addr> <data-dir>
	SyncCmd []string
	// Интервал управляющего цикла
	PollInterval time.Duration
	// Максимальное число попыток bootstrap-проверки готовности кластера
	BootstrapMaxAttempts int
	// Интервал между bootstrap-проверками
	BootstrapProbeInterval time.Duration
	// Порог ротации лога транзактора в байтах
	LogRotateThreshold int64
	// Таймаут одного RPC-вызова к цепочке
	RPCTimeout time.Duration
	// Таймаут вызова sync-провайдера
	SyncTimeout time.Duration
	// Таймаут graceful-остановки транзактора (SIGTERM → SIGKILL)
	StopTimeout time.Duration
	// Размер LRU-кэша merkle root по хэшу блока
	BlockCacheSize int
	// TTL записей кэша блоков
	BlockCacheTTL time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string
	// URL JWKS endpoint для JWT-аутентификации фасада (пусто — аутентификация выключена)
	JWKSUrl string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя зависимости (целевого сервиса) в метриках topologymetrics
	DephealthDepName string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// TK_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("TK_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("TK_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TK_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// TK_NODE_ID — обязательный
	cfg.NodeID, err = getEnvRequired("TK_NODE_ID")
	if err != nil {
		return nil, err
	}

	// TK_ADVERTISE_ADDRESS — анонсируемый адрес (по умолчанию hostname:TK_PORT)
	cfg.AdvertiseAddress = getEnvDefault("TK_ADVERTISE_ADDRESS", "")
	if cfg.AdvertiseAddress == "" {
		hostname, hostErr := os.Hostname()
		if hostErr != nil {
			hostname = "localhost"
		}
		cfg.AdvertiseAddress = fmt.Sprintf("%s:%d", hostname, cfg.Port)
	}

	// TK_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("TK_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// TK_CHAIN_RPC_URL — обязательный
	cfg.ChainRPCURL, err = getEnvRequired("TK_CHAIN_RPC_URL")
	if err != nil {
		return nil, err
	}

	// TK_TRANSACTOR_CMD — обязательный, командная строка запуска транзактора
	transactorCmd, err := getEnvRequired("TK_TRANSACTOR_CMD")
	if err != nil {
		return nil, err
	}
	cfg.TransactorCmd = strings.Fields(transactorCmd)
	if len(cfg.TransactorCmd) == 0 {
		return nil, fmt.Errorf("TK_TRANSACTOR_CMD: пустая командная строка")
	}

	// TK_TRANSACTOR_PORT — порт транзактора (по умолчанию 4334)
	cfg.TransactorPort, err = getEnvInt("TK_TRANSACTOR_PORT", 4334)
	if err != nil {
		return nil, fmt.Errorf("TK_TRANSACTOR_PORT: %w", err)
	}

	// TK_TRANSACTOR_LOG — лог транзактора (по умолчанию {TK_DATA_DIR}/transactor.log)
	cfg.TransactorLog = getEnvDefault("TK_TRANSACTOR_LOG", cfg.DataDir+"/transactor.log")

	// TK_PID_FILE — liveness record (по умолчанию {TK_DATA_DIR}/transactor.pid)
	cfg.PidFile = getEnvDefault("TK_PID_FILE", cfg.DataDir+"/transactor.pid")

	// TK_SYNC_CMD — обязательный, командная строка sync-провайдера
	syncCmd, err := getEnvRequired("TK_SYNC_CMD")
	if err != nil {
		return nil, err
	}
	cfg.SyncCmd = strings.Fields(syncCmd)
	if len(cfg.SyncCmd) == 0 {
		return nil, fmt.Errorf("TK_SYNC_CMD: пустая командная строка")
	}

	// TK_POLL_INTERVAL — интервал управляющего цикла (по умолчанию 10s)
	cfg.PollInterval, err = getEnvDuration("TK_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_POLL_INTERVAL: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("TK_POLL_INTERVAL: значение должно быть положительным")
	}

	// TK_BOOTSTRAP_MAX_ATTEMPTS — число попыток проверки готовности (по умолчанию 30)
	cfg.BootstrapMaxAttempts, err = getEnvInt("TK_BOOTSTRAP_MAX_ATTEMPTS", 30)
	if err != nil {
		return nil, fmt.Errorf("TK_BOOTSTRAP_MAX_ATTEMPTS: %w", err)
	}
	if cfg.BootstrapMaxAttempts < 1 {
		return nil, fmt.Errorf("TK_BOOTSTRAP_MAX_ATTEMPTS: значение должно быть положительным")
	}

	// TK_BOOTSTRAP_PROBE_INTERVAL — интервал проверки готовности (по умолчанию 10s)
	cfg.BootstrapProbeInterval, err = getEnvDuration("TK_BOOTSTRAP_PROBE_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_BOOTSTRAP_PROBE_INTERVAL: %w", err)
	}

	// TK_LOG_ROTATE_THRESHOLD — порог ротации лога (по умолчанию 10 MiB)
	cfg.LogRotateThreshold, err = getEnvInt64("TK_LOG_ROTATE_THRESHOLD", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("TK_LOG_ROTATE_THRESHOLD: %w", err)
	}
	if cfg.LogRotateThreshold <= 0 {
		return nil, fmt.Errorf("TK_LOG_ROTATE_THRESHOLD: значение должно быть положительным")
	}

	// TK_RPC_TIMEOUT — таймаут RPC-вызова (по умолчанию 5s)
	cfg.RPCTimeout, err = getEnvDuration("TK_RPC_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_RPC_TIMEOUT: %w", err)
	}

	// TK_SYNC_TIMEOUT — таймаут sync-провайдера (по умолчанию 10m)
	cfg.SyncTimeout, err = getEnvDuration("TK_SYNC_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TK_SYNC_TIMEOUT: %w", err)
	}

	// TK_STOP_TIMEOUT — таймаут graceful-остановки транзактора (по умолчанию 15s)
	cfg.StopTimeout, err = getEnvDuration("TK_STOP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_STOP_TIMEOUT: %w", err)
	}

	// TK_BLOCK_CACHE_SIZE — размер кэша блоков (по умолчанию 256)
	cfg.BlockCacheSize, err = getEnvInt("TK_BLOCK_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("TK_BLOCK_CACHE_SIZE: %w", err)
	}
	if cfg.BlockCacheSize < 1 {
		return nil, fmt.Errorf("TK_BLOCK_CACHE_SIZE: значение должно быть положительным")
	}

	// TK_BLOCK_CACHE_TTL — TTL кэша блоков (по умолчанию 1h)
	cfg.BlockCacheTTL, err = getEnvDuration("TK_BLOCK_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TK_BLOCK_CACHE_TTL: %w", err)
	}

	// TK_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TK_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TK_LOG_LEVEL: %w", err)
	}

	// TK_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TK_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TK_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// TK_TLS_CERT / TK_TLS_KEY — TLS (опционально, но только парой)
	cfg.TLSCert = getEnvDefault("TK_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("TK_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("TK_TLS_CERT и TK_TLS_KEY должны задаваться вместе")
	}

	// TK_JWKS_URL — JWT-аутентификация фасада (пусто — выключена)
	cfg.JWKSUrl = getEnvDefault("TK_JWKS_URL", "")

	// TK_JWKS_REFRESH_INTERVAL — интервал обновления JWKS-ключей (по умолчанию 5m)
	cfg.JWKSRefreshInterval, err = getEnvDuration("TK_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TK_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// TK_JWT_LEEWAY — допустимое отклонение времени JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("TK_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_JWT_LEEWAY: %w", err)
	}

	// TK_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("TK_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// TK_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("TK_DEPHEALTH_GROUP", "transactor-keeper")

	// TK_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics
	cfg.DephealthDepName = getEnvDefault("TK_DEPHEALTH_DEP_NAME", "chain-rpc")

	// TK_SHUTDOWN_TIMEOUT — таймаут graceful shutdown HTTP-сервера (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("TK_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TK_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 10s, 5m, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
