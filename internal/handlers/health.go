package handlers

import (
	"net/http"

	"github.com/gluk-w/pingmatrix/internal/model"
	"github.com/gluk-w/pingmatrix/internal/respond"
	"github.com/gluk-w/pingmatrix/internal/sshproxy"
	"github.com/gluk-w/pingmatrix/internal/worker"
)

// HealthCheck reports whether the store answers.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	pairs := 0
	if Store == nil {
		storeStatus = "disconnected"
	} else if pings, err := Store.List(r.Context()); err != nil {
		storeStatus = "disconnected"
	} else {
		pairs = len(pings)
	}

	status, code := "healthy", http.StatusOK
	if storeStatus != "connected" {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	subscribers := 0
	if Stream != nil {
		subscribers = Stream.Len()
	}
	respond.JSON(w, code, map[string]interface{}{
		"status":      status,
		"store":       storeStatus,
		"pairs":       pairs,
		"subscribers": subscribers,
	})
}

// AgentStatus is implemented by worker.Agent.
type AgentStatus interface {
	Status() worker.Status
}

// SessionStates is implemented by sshproxy.SessionCache.
type SessionStates interface {
	States() map[model.HostID]sshproxy.StateInfo
}

type agentHealthResponse struct {
	Status   string                              `json:"status"`
	Agent    worker.Status                       `json:"agent"`
	Sessions map[model.HostID]sshproxy.StateInfo `json:"sessions"`
}

// AgentHealth serves the agent's /health: loop state, last round and the
// connection state of every router session.
func AgentHealth(agent AgentStatus, sessions SessionStates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := agent.Status()
		status := "healthy"
		if !st.Running {
			status = "stopped"
		}
		respond.JSON(w, http.StatusOK, agentHealthResponse{
			Status:   status,
			Agent:    st,
			Sessions: sessions.States(),
		})
	}
}
