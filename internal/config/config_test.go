package config

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
)

func TestDefaults(t *testing.T) {
	var s Settings
	if err := envconfig.Process("PINGMATRIX_TEST_UNSET", &s); err != nil {
		t.Fatalf("process: %v", err)
	}
	if s.Listen != ":8000" {
		t.Errorf("Listen = %q", s.Listen)
	}
	if s.Concurrency != 30 {
		t.Errorf("Concurrency = %d", s.Concurrency)
	}
	if s.ProbeCount != 8 {
		t.Errorf("ProbeCount = %d", s.ProbeCount)
	}
	if s.ProbeDelay != time.Second {
		t.Errorf("ProbeDelay = %s", s.ProbeDelay)
	}
	if s.ProbeTimeout != 30*time.Second {
		t.Errorf("ProbeTimeout = %s", s.ProbeTimeout)
	}
	if s.SSHPort != 222 {
		t.Errorf("SSHPort = %d", s.SSHPort)
	}
	if s.HostMarker != "r1." {
		t.Errorf("HostMarker = %q", s.HostMarker)
	}
	if err := Validate(s); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PINGMATRIX_CONCURRENCY", "4")
	t.Setenv("PINGMATRIX_PROBE_DELAY", "250ms")
	t.Setenv("PINGMATRIX_STORAGE", "sqlite")

	var s Settings
	if err := envconfig.Process("PINGMATRIX", &s); err != nil {
		t.Fatalf("process: %v", err)
	}
	if s.Concurrency != 4 || s.ProbeDelay != 250*time.Millisecond || s.StorageBackend != StorageSQLite {
		t.Fatalf("overrides not applied: %+v", s)
	}
}

func TestValidate(t *testing.T) {
	base := Settings{Concurrency: 1, ProbeCount: 1, ProbeTimeout: time.Second, SSHPort: 22, StorageBackend: StorageMemory}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero concurrency", func(s *Settings) { s.Concurrency = 0 }},
		{"zero probe count", func(s *Settings) { s.ProbeCount = 0 }},
		{"negative delay", func(s *Settings) { s.ProbeDelay = -time.Second }},
		{"zero probe timeout", func(s *Settings) { s.ProbeTimeout = 0 }},
		{"bad port", func(s *Settings) { s.SSHPort = 70000 }},
		{"unknown storage", func(s *Settings) { s.StorageBackend = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			if err := Validate(s); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
