// state.go tracks the last known session state per router for the agent's
// health endpoint.

package sshproxy

import (
	"sync"
	"time"

	"github.com/gluk-w/pingmatrix/internal/model"
)

// ConnectionState represents the current state of a router's SSH session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the human-readable name of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateInfo is the current state of one router's session.
type StateInfo struct {
	State  ConnectionState `json:"state"`
	Since  time.Time       `json:"since"`
	Reason string          `json:"reason,omitempty"`
}

type stateTracker struct {
	mu     sync.RWMutex
	states map[model.HostID]StateInfo
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[model.HostID]StateInfo)}
}

func (t *stateTracker) setState(host model.HostID, state ConnectionState, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[host] = StateInfo{State: state, Since: time.Now(), Reason: reason}
}

func (t *stateTracker) getState(host model.HostID) ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[host].State
}

func (t *stateTracker) snapshot() map[model.HostID]StateInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.HostID]StateInfo, len(t.states))
	for host, info := range t.states {
		out[host] = info
	}
	return out
}
