package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Storage backends accepted by PINGMATRIX_STORAGE.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

type Settings struct {
	// Server
	Listen          string `envconfig:"LISTEN" default:":8000"`
	AllowedNetworks string `envconfig:"ALLOWED_NETWORKS" default:"127.0.0.0/8,::1/128"`
	UIPath          string `envconfig:"UI_PATH" default:"ui"`

	// Storage
	StorageBackend string `envconfig:"STORAGE" default:"memory"`
	DatabasePath   string `envconfig:"DATABASE_PATH" default:"data/pingmatrix.db"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisKey       string `envconfig:"REDIS_KEY" default:"pingmatrix:pings"`

	// Agent
	ServerURL       string        `envconfig:"SERVER_URL" default:"http://localhost:8000"`
	DirectoryURL    string        `envconfig:"DIRECTORY_URL" default:"https://encrypted.hamwan.org/host/ansible.json"`
	DirectoryFile   string        `envconfig:"DIRECTORY_FILE" default:""`
	DirectoryListA  string        `envconfig:"DIRECTORY_LIST_A" default:"mikrotik"`
	DirectoryListB  string        `envconfig:"DIRECTORY_LIST_B" default:"HamWAN"`
	HostMarker      string        `envconfig:"HOST_MARKER" default:"r1."`
	RefreshSchedule string        `envconfig:"REFRESH_SCHEDULE" default:"@every 10m"`
	ProbeCount      int           `envconfig:"PROBE_COUNT" default:"8"`
	ProbeDelay      time.Duration `envconfig:"PROBE_DELAY" default:"1s"`
	ProbeTimeout    time.Duration `envconfig:"PROBE_TIMEOUT" default:"30s"`
	Concurrency     int           `envconfig:"CONCURRENCY" default:"30"`
	RoundPause      time.Duration `envconfig:"ROUND_PAUSE" default:"0s"`
	AgentListen     string        `envconfig:"AGENT_LISTEN" default:"127.0.0.1:8085"`

	// SSH
	SSHUser    string        `envconfig:"SSH_USER" default:""`
	SSHPort    int           `envconfig:"SSH_PORT" default:"222"`
	SSHKeyPath string        `envconfig:"SSH_KEY_PATH" default:"data/ssh_key"`
	SSHTimeout time.Duration `envconfig:"SSH_TIMEOUT" default:"10s"`
	KnownHosts string        `envconfig:"KNOWN_HOSTS" default:""`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogPath   string `envconfig:"LOG_PATH" default:""`
}

var Cfg Settings

// Load reads PINGMATRIX_* environment variables into Cfg and exits the
// process when they cannot be parsed or fail validation.
func Load() {
	if err := envconfig.Process("PINGMATRIX", &Cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if Cfg.SSHUser == "" {
		Cfg.SSHUser = os.Getenv("SSH_USER")
	}
	if err := Validate(Cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
}

// Validate performs sanity checks that envconfig's type parsing cannot.
func Validate(s Settings) error {
	if s.Concurrency < 1 {
		return fmt.Errorf("PINGMATRIX_CONCURRENCY must be at least 1, got %d", s.Concurrency)
	}
	if s.ProbeCount < 1 {
		return fmt.Errorf("PINGMATRIX_PROBE_COUNT must be at least 1, got %d", s.ProbeCount)
	}
	if s.ProbeDelay < 0 || s.RoundPause < 0 {
		return fmt.Errorf("probe delay and round pause must not be negative")
	}
	if s.ProbeTimeout <= 0 {
		return fmt.Errorf("PINGMATRIX_PROBE_TIMEOUT must be positive, got %s", s.ProbeTimeout)
	}
	if s.SSHPort < 1 || s.SSHPort > 65535 {
		return fmt.Errorf("PINGMATRIX_SSH_PORT out of range: %d", s.SSHPort)
	}
	switch s.StorageBackend {
	case StorageMemory, StorageSQLite, StorageRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", s.StorageBackend)
	}
	return nil
}
