// Package storage keeps the latest measurement per ordered host pair.
//
// Every backend is last-write-wins per (src, dst) and keeps no history.
// Writes to different pairs never block each other for longer than a
// single map or row update.
package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/gluk-w/pingmatrix/internal/config"
	"github.com/gluk-w/pingmatrix/internal/database"
	"github.com/gluk-w/pingmatrix/internal/model"
)

// Store is implemented by all backends.
type Store interface {
	// Upsert replaces the measurement for m's pair. Invalid measurements are
	// rejected with model.ErrInvalidMeasurement and leave the store unchanged.
	Upsert(ctx context.Context, m model.Measurement) error
	// List returns one entry per pair, ordered by source then destination.
	List(ctx context.Context) ([]model.Measurement, error)
	Close() error
}

// Open builds the backend selected by s.StorageBackend.
func Open(s config.Settings) (Store, error) {
	switch s.StorageBackend {
	case config.StorageMemory, "":
		return NewMemoryStore(), nil
	case config.StorageSQLite:
		db, err := database.Open(s.DatabasePath)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(db), nil
	case config.StorageRedis:
		return NewRedisStore(RedisOptions{Addr: s.RedisAddr, Key: s.RedisKey})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.StorageBackend)
	}
}

func sortMeasurements(ms []model.Measurement) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Source != ms[j].Source {
			return ms[i].Source < ms[j].Source
		}
		return ms[i].Destination < ms[j].Destination
	})
}
