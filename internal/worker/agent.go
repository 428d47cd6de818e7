package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/model"
)

// idleWait is how long Run sleeps when the roster has fewer than two hosts.
const idleWait = 10 * time.Second

// Roster supplies the current host set.
type Roster interface {
	Hosts() []model.HostID
	WaitReady(ctx context.Context) error
}

type AgentOptions struct {
	Concurrency int
	Delay       time.Duration
	// Pause is slept between rounds.
	Pause time.Duration
}

// Agent repeats probing rounds over the latest roster.
type Agent struct {
	pool   *Pool
	roster Roster
	opts   AgentOptions

	running atomic.Bool
	rounds  atomic.Int64

	mu   sync.RWMutex
	last *RoundStats
}

func NewAgent(pool *Pool, roster Roster, opts AgentOptions) *Agent {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Agent{pool: pool, roster: roster, opts: opts}
}

// RunOnce waits for a roster and runs a single round over it.
func (a *Agent) RunOnce(ctx context.Context) (RoundStats, error) {
	if err := a.roster.WaitReady(ctx); err != nil {
		return RoundStats{}, err
	}
	hosts := a.roster.Hosts()
	if len(hosts) < 2 {
		log.Warn().Int("hosts", len(hosts)).Msg("roster too small to probe")
	}
	stats := a.pool.RunRound(ctx, hosts, a.opts.Concurrency, a.opts.Delay)
	a.rounds.Add(1)
	a.mu.Lock()
	a.last = &stats
	a.mu.Unlock()
	if stats.Cancelled {
		return stats, ctx.Err()
	}
	return stats, nil
}

// Run loops over rounds until ctx is cancelled. The roster is re-read at
// the start of each round.
func (a *Agent) Run(ctx context.Context) error {
	a.running.Store(true)
	defer a.running.Store(false)

	for {
		stats, err := a.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("agent stopping")
				return nil
			}
			return err
		}

		wait := a.opts.Pause
		if stats.Hosts < 2 && wait < idleWait {
			wait = idleWait
		}
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info().Msg("agent stopping")
			return nil
		case <-t.C:
		}
	}
}

// Status is the agent's view for the health endpoint.
type Status struct {
	Running   bool        `json:"running"`
	Rounds    int64       `json:"rounds"`
	Hosts     int         `json:"hosts"`
	LastRound *RoundStats `json:"last_round,omitempty"`
}

func (a *Agent) Status() Status {
	a.mu.RLock()
	var last *RoundStats
	if a.last != nil {
		cp := *a.last
		last = &cp
	}
	a.mu.RUnlock()
	return Status{
		Running:   a.running.Load(),
		Rounds:    a.rounds.Load(),
		Hosts:     len(a.roster.Hosts()),
		LastRound: last,
	}
}
