// status.go — обработчик GET /api/v1/status: роль узла, лидер,
// состояние поднадзорного транзактора.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bigkaa/transactor-keeper/internal/config"
	"github.com/bigkaa/transactor-keeper/internal/domain/lifecycle"
)

// StatusHandler реализует endpoint статуса узла.
type StatusHandler struct {
	nodeID       string
	roleProvider RoleProvider
	sup          SupervisorStatus
}

// NewStatusHandler создаёт обработчик статуса.
func NewStatusHandler(nodeID string, roleProvider RoleProvider, sup SupervisorStatus) *StatusHandler {
	return &StatusHandler{
		nodeID:       nodeID,
		roleProvider: roleProvider,
		sup:          sup,
	}
}

// statusResponse — тело ответа GET /api/v1/status.
type statusResponse struct {
	NodeID        string                       `json:"node_id"`
	Version       string                       `json:"version"`
	Role          string                       `json:"role"`
	LeaderID      string                       `json:"leader_id,omitempty"`
	LeaderAddr    string                       `json:"leader_addr,omitempty"`
	LastReference string                       `json:"last_reference,omitempty"`
	Cycles        uint64                       `json:"cycles"`
	Transactor    transactorStatus             `json:"transactor"`
	History       []lifecycle.TransitionRecord `json:"history"`
	Timestamp     string                       `json:"timestamp"`
}

// transactorStatus — состояние поднадзорного процесса.
type transactorStatus struct {
	State lifecycle.State `json:"state"`
	Pid   int             `json:"pid,omitempty"`
}

// GetStatus обрабатывает GET /api/v1/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		NodeID:        h.nodeID,
		Version:       config.Version,
		Role:          h.roleProvider.CurrentRole(),
		LeaderID:      h.roleProvider.LeaderID(),
		LeaderAddr:    h.roleProvider.LeaderAddr(),
		LastReference: h.roleProvider.LastReference(),
		Cycles:        h.roleProvider.Cycles(),
		Transactor: transactorStatus{
			State: h.sup.State(),
			Pid:   h.sup.Pid(),
		},
		History:   h.sup.History(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
