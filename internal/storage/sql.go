package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gluk-w/pingmatrix/internal/database"
	"github.com/gluk-w/pingmatrix/internal/model"
)

// SQLStore persists measurements in the pings table.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore wraps a database opened with database.Open.
func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Upsert(ctx context.Context, m model.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	row := database.Ping{Src: m.Source, Dst: m.Destination, LatencyMs: m.LatencyMillis}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "src"}, {Name: "dst"}},
		DoUpdates: clause.AssignmentColumns([]string{"latency_ms", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", m.Pair(), err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]model.Measurement, error) {
	var rows []database.Ping
	if err := s.db.WithContext(ctx).Order("src, dst").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pings: %w", err)
	}
	out := make([]model.Measurement, len(rows))
	for i, r := range rows {
		out[i] = model.Measurement{Source: r.Src, Destination: r.Dst, LatencyMillis: r.LatencyMs}
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	return database.Close(s.db)
}
