package database

import "time"

// Ping is the latest measurement for one ordered host pair.
type Ping struct {
	Src       string    `gorm:"primaryKey;size:255" json:"src"`
	Dst       string    `gorm:"primaryKey;size:255" json:"dst"`
	LatencyMs int64     `gorm:"not null" json:"latency_ms"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
