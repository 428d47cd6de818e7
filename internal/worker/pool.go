// Package worker runs probing rounds: every router pings every other router,
// one probe at a time per source, with sources spread over a bounded set of
// workers.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/gluk-w/pingmatrix/internal/metrics"
	"github.com/gluk-w/pingmatrix/internal/model"
)

// Acquirer hands out SSH clients per router.
type Acquirer interface {
	Acquire(ctx context.Context, host model.HostID) (*ssh.Client, error)
	Invalidate(host model.HostID, reason string)
}

// Prober runs one probe over an acquired client.
type Prober interface {
	Probe(ctx context.Context, client *ssh.Client, src, dst model.HostID, count int) (model.Measurement, error)
}

// Deliverer ships a measurement to the store.
type Deliverer interface {
	Deliver(ctx context.Context, m model.Measurement) error
}

type Options struct {
	// ProbeCount is the number of echo requests per probe.
	ProbeCount int
	// ProbeTimeout bounds one probe, session setup included. Zero means
	// two seconds per echo request plus ten.
	ProbeTimeout time.Duration
}

// RoundStats summarizes one RunRound call.
type RoundStats struct {
	RoundID          string        `json:"round_id"`
	Hosts            int           `json:"hosts"`
	Attempted        int           `json:"attempted"`
	Succeeded        int           `json:"succeeded"`
	Skipped          int           `json:"skipped"`
	AbandonedHosts   int           `json:"abandoned_hosts"`
	DeliveryFailures int           `json:"delivery_failures"`
	Cancelled        bool          `json:"cancelled"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration_ns"`
}

type Pool struct {
	cache   Acquirer
	prober  Prober
	sink    Deliverer
	count   int
	timeout time.Duration
}

func NewPool(cache Acquirer, prober Prober, sink Deliverer, opts Options) *Pool {
	if opts.ProbeCount < 1 {
		opts.ProbeCount = 8
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = time.Duration(opts.ProbeCount)*2*time.Second + 10*time.Second
	}
	return &Pool{cache: cache, prober: prober, sink: sink, count: opts.ProbeCount, timeout: opts.ProbeTimeout}
}

type roundState struct {
	mu    sync.Mutex
	stats RoundStats
}

func (r *roundState) add(fn func(s *RoundStats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// RunRound probes every ordered pair of distinct hosts once. hosts is
// copied, so later roster changes do not affect a running round. At most
// concurrency sources are probed at the same time; each worker runs its
// probes sequentially with delay between them, including the step from one
// source to the next. RunRound returns when all sources are done or
// promptly after ctx is cancelled.
func (p *Pool) RunRound(ctx context.Context, hosts []model.HostID, concurrency int, delay time.Duration) RoundStats {
	roster := append([]model.HostID(nil), hosts...)
	rs := &roundState{stats: RoundStats{
		RoundID:   uuid.NewString(),
		Hosts:     len(roster),
		StartedAt: time.Now(),
	}}
	logger := log.With().Str("round", rs.stats.RoundID).Logger()
	logger.Info().Int("hosts", len(roster)).Int("concurrency", concurrency).Msg("round started")

	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(roster) {
		concurrency = len(roster)
	}

	queue := make(chan model.HostID, len(roster))
	for _, src := range roster {
		queue <- src
	}
	close(queue)

	var g errgroup.Group
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			pace := &pacer{delay: delay}
			for src := range queue {
				if ctx.Err() != nil {
					return nil
				}
				p.runSource(ctx, src, roster, pace, rs)
				logger.Debug().Str("src", src).Int("remaining", len(queue)).Msg("source finished")
			}
			return nil
		})
	}
	g.Wait()

	rs.mu.Lock()
	stats := rs.stats
	rs.mu.Unlock()
	stats.Duration = time.Since(stats.StartedAt)
	stats.Cancelled = ctx.Err() != nil

	if !stats.Cancelled {
		metrics.RoundsTotal.Inc()
		metrics.RoundDuration.Observe(stats.Duration.Seconds())
	}
	logger.Info().
		Int("attempted", stats.Attempted).
		Int("succeeded", stats.Succeeded).
		Int("skipped", stats.Skipped).
		Int("abandoned_hosts", stats.AbandonedHosts).
		Int("delivery_failures", stats.DeliveryFailures).
		Bool("cancelled", stats.Cancelled).
		Dur("duration", stats.Duration).
		Msg("round finished")
	return stats
}

// pacer spaces the probes of one worker. wait returns immediately the first
// time and sleeps delay on every later call; it reports false once ctx is
// done.
type pacer struct {
	delay   time.Duration
	started bool
}

func (pc *pacer) wait(ctx context.Context) bool {
	if pc.started && pc.delay > 0 {
		t := time.NewTimer(pc.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
	pc.started = true
	return ctx.Err() == nil
}

func (p *Pool) runSource(ctx context.Context, src model.HostID, roster []model.HostID, pace *pacer, rs *roundState) {
	for _, dst := range roster {
		if dst == src {
			continue
		}
		if !pace.wait(ctx) {
			return
		}

		outcome := p.probePair(ctx, src, dst, rs)
		metrics.ProbesTotal.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case OutcomeAbandonHost:
			rs.add(func(s *RoundStats) { s.AbandonedHosts++ })
			return
		case OutcomeCancelled:
			return
		}
	}
}

func (p *Pool) probePair(ctx context.Context, src, dst model.HostID, rs *roundState) Outcome {
	rs.add(func(s *RoundStats) { s.Attempted++ })

	client, err := p.cache.Acquire(ctx, src)
	if err != nil {
		outcome := p.classify(ctx, err)
		if outcome == OutcomeSkipPair {
			outcome = OutcomeAbandonHost
		}
		if outcome == OutcomeAbandonHost {
			log.Warn().Err(err).Str("src", src).Msg("cannot reach source, skipping its remaining destinations")
		}
		return outcome
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	m, err := p.prober.Probe(probeCtx, client, src, dst, p.count)
	cancel()
	if err == nil {
		err = m.Validate()
	}
	outcome := p.classify(ctx, err)
	switch outcome {
	case OutcomeOK:
		metrics.ProbeLatency.Observe(float64(m.LatencyMillis))
		rs.add(func(s *RoundStats) { s.Succeeded++ })
		log.Debug().Str("src", src).Str("dst", dst).Int64("latency_ms", m.LatencyMillis).Msg("probe ok")
		p.deliver(ctx, m, rs)
	case OutcomeSkipPair:
		rs.add(func(s *RoundStats) { s.Skipped++ })
		log.Info().Err(err).Str("src", src).Str("dst", dst).Msg("probe failed, skipping pair")
	case OutcomeAbandonHost:
		p.cache.Invalidate(src, err.Error())
		log.Warn().Err(err).Str("src", src).Str("dst", dst).Msg("session to source broke, abandoning it for this round")
	}
	return outcome
}

// classify is Classify, except that a deadline or cancellation not caused by
// the round's own ctx counts as a broken transport.
func (p *Pool) classify(ctx context.Context, err error) Outcome {
	outcome := Classify(err)
	if outcome == OutcomeCancelled && ctx.Err() == nil {
		return OutcomeAbandonHost
	}
	return outcome
}

func (p *Pool) deliver(ctx context.Context, m model.Measurement, rs *roundState) {
	if err := p.sink.Deliver(ctx, m); err != nil {
		metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		rs.add(func(s *RoundStats) { s.DeliveryFailures++ })
		log.Warn().Err(err).Str("src", m.Source).Str("dst", m.Destination).Msg("measurement not delivered")
		return
	}
	metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
}
