package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/pingmatrix/internal/model"
)

type staticRoster struct {
	mu    sync.Mutex
	hosts []model.HostID
	ready bool
}

func (r *staticRoster) Hosts() []model.HostID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.HostID(nil), r.hosts...)
}

func (r *staticRoster) WaitReady(ctx context.Context) error {
	if r.ready {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestAgentRunOnce(t *testing.T) {
	prober := &fakeProber{fn: func(src, dst model.HostID) (int64, error) { return 4, nil }}
	sink := &fakeSink{}
	a := NewAgent(NewPool(newFakeCache(), prober, sink, Options{}), &staticRoster{hosts: hostsN(3), ready: true}, AgentOptions{Concurrency: 3})

	stats, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if stats.Succeeded != 6 || len(sink.delivered) != 6 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	st := a.Status()
	if st.Rounds != 1 || st.LastRound == nil || st.LastRound.RoundID != stats.RoundID || st.Hosts != 3 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Running {
		t.Fatal("RunOnce must not mark the agent running")
	}
}

func TestAgentRunOnceWaitsForRoster(t *testing.T) {
	a := NewAgent(NewPool(newFakeCache(), &fakeProber{}, &fakeSink{}, Options{}), &staticRoster{}, AgentOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := a.RunOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunOnce = %v", err)
	}
}

func TestAgentRunStopsOnCancel(t *testing.T) {
	prober := &fakeProber{fn: func(src, dst model.HostID) (int64, error) { return 1, nil }}
	a := NewAgent(NewPool(newFakeCache(), prober, &fakeSink{}, Options{}), &staticRoster{hosts: hostsN(3), ready: true},
		AgentOptions{Concurrency: 2, Pause: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Status().Rounds < 2 {
		if time.Now().After(deadline) {
			t.Fatal("agent did not complete two rounds")
		}
		time.Sleep(time.Millisecond)
	}
	if !a.Status().Running {
		t.Fatal("Status().Running = false while Run is active")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Status().Running {
		t.Fatal("agent still marked running")
	}
}
