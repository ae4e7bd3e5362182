// Пакет chainclient — HTTP-клиент RPC-endpoint-а цепочки.
//
// Один endpoint обслуживает три роли ядра:
//   - реестр мастернод (/masternodelist) — источник членства;
//   - оракул опорного значения (/getbestblockhash + /getblock) — merkle root
//     лучшего блока, одинаково наблюдаемый всеми узлами;
//   - проба готовности кластера (/mnsync) — для bootstrap.
//
// Merkle root по хэшу блока неизменяем, поэтому кэшируется в expirable LRU:
// пока лучший блок не сменился, повторные циклы не ходят за /getblock.
package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/transactor-keeper/internal/domain/node"
)

// Классы ошибок внешних вызовов. Управляющий цикл по ним пропускает цикл
// без изменения состояния (retry — следующий тик).
var (
	// ErrRegistryUnreachable — реестр мастернод недоступен.
	ErrRegistryUnreachable = errors.New("реестр мастернод недоступен")
	// ErrOracleUnavailable — оракул опорного значения недоступен.
	ErrOracleUnavailable = errors.New("оракул опорного значения недоступен")
)

// enabledStatus — статус узла в реестре, означающий участие в выборе.
const enabledStatus = "ENABLED"

// Prometheus метрики RPC-клиента
var (
	// rpcRequestsTotal — количество RPC-вызовов по методам и исходам.
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tk_chain_rpc_requests_total",
		Help: "Общее количество RPC-вызовов к цепочке",
	}, []string{"method", "outcome"})

	// blockCacheHitsTotal — попадания в кэш merkle root.
	blockCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tk_block_cache_hits_total",
		Help: "Общее количество попаданий в кэш merkle root",
	})

	// blockCacheMissesTotal — промахи кэша merkle root.
	blockCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tk_block_cache_misses_total",
		Help: "Общее количество промахов кэша merkle root",
	})
)

// Client — HTTP-клиент RPC-endpoint-а цепочки.
type Client struct {
	baseURL    string
	httpClient *http.Client
	blockCache *expirable.LRU[string, string]
	logger     *slog.Logger
}

// New создаёт клиент цепочки.
//
// Параметры:
//   - baseURL: базовый URL RPC-endpoint-а (TK_CHAIN_RPC_URL)
//   - timeout: таймаут одного HTTP-вызова (TK_RPC_TIMEOUT)
//   - cacheSize, cacheTTL: параметры LRU-кэша merkle root
//   - logger: логгер
func New(baseURL string, timeout time.Duration, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		blockCache: expirable.NewLRU[string, string](cacheSize, nil, cacheTTL),
		logger:     logger.With(slog.String("component", "chain_client")),
	}
}

// masternodeEntry — запись одного узла в ответе /masternodelist.
type masternodeEntry struct {
	Status  string `json:"status"`
	Address string `json:"address"`
}

// MasternodeList запрашивает реестр мастернод и возвращает свежий срез членства.
// Узлы отсортированы по ID. Любая ошибка транспорта, статуса или
// десериализации оборачивается в ErrRegistryUnreachable.
func (c *Client) MasternodeList(ctx context.Context) (node.Snapshot, error) {
	body, err := c.get(ctx, "masternodelist", c.baseURL+"/masternodelist")
	if err != nil {
		return node.Snapshot{}, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}

	entries := make(map[string]masternodeEntry)
	if err := json.Unmarshal(body, &entries); err != nil {
		return node.Snapshot{}, fmt.Errorf("%w: десериализация ответа: %v", ErrRegistryUnreachable, err)
	}

	nodes := make([]node.Node, 0, len(entries))
	for id, entry := range entries {
		nodes = append(nodes, node.Node{
			ID:      id,
			Address: entry.Address,
			Enabled: entry.Status == enabledStatus,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return node.Snapshot{Nodes: nodes}, nil
}

// blockResponse — интересующая часть ответа /getblock.
type blockResponse struct {
	MerkleRoot string `json:"merkleroot"`
}

// CurrentMerkleRoot возвращает merkle root лучшего блока цепочки —
// опорное значение текущего цикла. Ошибки оборачиваются в ErrOracleUnavailable.
func (c *Client) CurrentMerkleRoot(ctx context.Context) ([]byte, error) {
	hashBody, err := c.get(ctx, "getbestblockhash", c.baseURL+"/getbestblockhash")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	blockHash := strings.TrimSpace(string(hashBody))
	if blockHash == "" {
		return nil, fmt.Errorf("%w: пустой хэш лучшего блока", ErrOracleUnavailable)
	}

	// Merkle root блока неизменяем — сначала смотрим в кэш.
	if root, ok := c.blockCache.Get(blockHash); ok {
		blockCacheHitsTotal.Inc()
		return []byte(root), nil
	}
	blockCacheMissesTotal.Inc()

	blockBody, err := c.get(ctx, "getblock", c.baseURL+"/getblock?blockhash="+blockHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	var block blockResponse
	if err := json.Unmarshal(blockBody, &block); err != nil {
		return nil, fmt.Errorf("%w: десериализация блока: %v", ErrOracleUnavailable, err)
	}
	if block.MerkleRoot == "" {
		return nil, fmt.Errorf("%w: блок %s без merkle root", ErrOracleUnavailable, blockHash)
	}

	c.blockCache.Add(blockHash, block.MerkleRoot)
	return []byte(block.MerkleRoot), nil
}

// syncResponse — ответ /mnsync.
type syncResponse struct {
	IsSynced bool `json:"IsSynced"`
}

// SyncStatus возвращает true, если узел цепочки полностью синхронизирован
// с сетью. Используется bootstrap-ожиданием готовности кластера.
func (c *Client) SyncStatus(ctx context.Context) (bool, error) {
	body, err := c.get(ctx, "mnsync", c.baseURL+"/mnsync")
	if err != nil {
		return false, err
	}

	var status syncResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return false, fmt.Errorf("десериализация статуса синхронизации: %w", err)
	}

	return status.IsSynced, nil
}

// get выполняет GET-запрос и возвращает тело ответа.
// Любой статус, кроме 200, считается ошибкой.
func (c *Client) get(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		rpcRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("создание запроса %s: %w", method, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		rpcRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("запрос %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rpcRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("запрос %s: неожиданный статус %d", method, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rpcRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("чтение ответа %s: %w", method, err)
	}

	rpcRequestsTotal.WithLabelValues(method, "ok").Inc()
	return body, nil
}
