package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/model"
)

const refreshTimeout = time.Minute

// Watcher keeps the latest good roster from a Source, refreshing it on a
// cron schedule. A failed refresh keeps the previous roster.
type Watcher struct {
	source   Source
	schedule string

	mu          sync.RWMutex
	hosts       []model.HostID
	refreshedAt time.Time

	ready     chan struct{}
	readyOnce sync.Once
}

// NewWatcher accepts any robfig/cron expression, including "@every 10m".
func NewWatcher(source Source, schedule string) *Watcher {
	return &Watcher{
		source:   source,
		schedule: schedule,
		ready:    make(chan struct{}),
	}
}

// Start refreshes once immediately, then on schedule until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.Refresh(ctx) }); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", w.schedule, err)
	}

	w.Refresh(ctx)
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Refresh pulls the roster now. It returns the error for callers that care;
// the watcher state is only replaced on success.
func (w *Watcher) Refresh(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	hosts, err := w.source.Refresh(rctx)
	if err != nil {
		log.Warn().Err(err).Int("kept_hosts", len(w.Hosts())).Msg("host directory refresh failed")
		return err
	}

	w.mu.Lock()
	prev := len(w.hosts)
	w.hosts = hosts
	w.refreshedAt = time.Now()
	w.mu.Unlock()
	w.readyOnce.Do(func() { close(w.ready) })

	if prev != len(hosts) {
		log.Info().Int("hosts", len(hosts)).Int("previous", prev).Msg("host roster updated")
	}
	return nil
}

// Hosts returns a copy of the current roster.
func (w *Watcher) Hosts() []model.HostID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.HostID, len(w.hosts))
	copy(out, w.hosts)
	return out
}

// RefreshedAt is the time of the last successful refresh.
func (w *Watcher) RefreshedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.refreshedAt
}

// WaitReady blocks until the first successful refresh or ctx is done.
func (w *Watcher) WaitReady(ctx context.Context) error {
	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
