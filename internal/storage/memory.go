package storage

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/gluk-w/pingmatrix/internal/model"
)

const shardCount = 32

type shard struct {
	mu sync.RWMutex
	m  map[model.Pair]model.Measurement
}

// MemoryStore is a sharded in-process map. Contents are lost on exit.
type MemoryStore struct {
	shards [shardCount]shard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].m = make(map[model.Pair]model.Measurement)
	}
	return s
}

func (s *MemoryStore) shardFor(p model.Pair) *shard {
	h := fnv.New32a()
	h.Write([]byte(p.Source))
	h.Write([]byte{0})
	h.Write([]byte(p.Destination))
	return &s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Upsert(_ context.Context, m model.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	sh := s.shardFor(m.Pair())
	sh.mu.Lock()
	sh.m[m.Pair()] = m
	sh.mu.Unlock()
	return nil
}

// List takes each shard's read lock in turn, so the snapshot is consistent
// per pair but not across shards.
func (s *MemoryStore) List(_ context.Context) ([]model.Measurement, error) {
	out := make([]model.Measurement, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, m := range sh.m {
			out = append(out, m)
		}
		sh.mu.RUnlock()
	}
	sortMeasurements(out)
	return out, nil
}

// Len returns the number of stored pairs.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }
