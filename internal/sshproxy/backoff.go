// backoff.go keeps a router that repeatedly refuses SSH connections from
// stalling every round. After connectFailureThreshold consecutive connect
// failures the host is blocked for a cooldown that starts at
// connectInitialBlock and doubles on each further block, capped at
// connectMaxBlock. A successful connect clears the host's state.

package sshproxy

import (
	"fmt"
	"sync"
	"time"

	"github.com/gluk-w/pingmatrix/internal/model"
)

const (
	connectFailureThreshold = 3
	connectInitialBlock     = 30 * time.Second
	connectMaxBlock         = 5 * time.Minute
)

// ErrBackoff is returned by Acquire while a host is cooling down after
// consecutive connect failures.
type ErrBackoff struct {
	Host       model.HostID
	Failures   int
	RetryAfter time.Duration
}

func (e *ErrBackoff) Error() string {
	return fmt.Sprintf("ssh connect to %s suspended after %d consecutive failures (retry after %s)",
		e.Host, e.Failures, e.RetryAfter.Round(time.Second))
}

type hostBackoff struct {
	consecutiveFailures int
	blockedUntil        time.Time
	blockDuration       time.Duration
}

// connectBackoff tracks consecutive connect failures per host.
type connectBackoff struct {
	mu    sync.Mutex
	hosts map[model.HostID]*hostBackoff

	nowFunc func() time.Time
}

func newConnectBackoff() *connectBackoff {
	return &connectBackoff{
		hosts:   make(map[model.HostID]*hostBackoff),
		nowFunc: time.Now,
	}
}

// Allow returns nil when a connect attempt to host may proceed.
func (b *connectBackoff) Allow(host model.HostID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.hosts[host]
	if !ok {
		return nil
	}
	now := b.nowFunc()
	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		return &ErrBackoff{
			Host:       host,
			Failures:   state.consecutiveFailures,
			RetryAfter: state.blockedUntil.Sub(now),
		}
	}
	return nil
}

// RecordFailure counts a failed connect and starts or extends the block once
// the threshold is reached.
func (b *connectBackoff) RecordFailure(host model.HostID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.hosts[host]
	if !ok {
		state = &hostBackoff{}
		b.hosts[host] = state
	}
	state.consecutiveFailures++
	if state.consecutiveFailures < connectFailureThreshold {
		return
	}

	if state.blockDuration == 0 {
		state.blockDuration = connectInitialBlock
	} else {
		state.blockDuration *= 2
		if state.blockDuration > connectMaxBlock {
			state.blockDuration = connectMaxBlock
		}
	}
	state.blockedUntil = b.nowFunc().Add(state.blockDuration)
}

// RecordSuccess forgets everything known about host.
func (b *connectBackoff) RecordSuccess(host model.HostID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.hosts, host)
}
