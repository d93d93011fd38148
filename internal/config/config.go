package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8022" yaml:"listen_addr"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data" yaml:"data_path"`
	LogPath      string `envconfig:"LOG_PATH" default:"" yaml:"log_path"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"" yaml:"database_path"`
	APIToken     string `envconfig:"API_TOKEN" default:"" yaml:"api_token"`
	// AllowedIPs is a comma-separated list of IPs and CIDRs allowed to call
	// the API. Empty allows everyone.
	AllowedIPs   string `envconfig:"ALLOWED_IPS" default:"" yaml:"allowed_ips"`

	// SSH connection settings
	ConnectTimeout        time.Duration `envconfig:"CONNECT_TIMEOUT" default:"15s" yaml:"connect_timeout"`
	TestConnectionTimeout time.Duration `envconfig:"TEST_CONNECTION_TIMEOUT" default:"10s" yaml:"test_connection_timeout"`
	KeepaliveInterval     time.Duration `envconfig:"KEEPALIVE_INTERVAL" default:"30s" yaml:"keepalive_interval"`
	KnownHostsPath        string        `envconfig:"KNOWN_HOSTS_PATH" default:"" yaml:"known_hosts_path"`
	// KeyDir holds the private keys a request may name by privateKeyPath.
	KeyDir                string        `envconfig:"KEY_DIR" default:"" yaml:"key_dir"`

	// Connection attempt limits per user@host:port
	ConnectMaxAttempts   int           `envconfig:"CONNECT_MAX_ATTEMPTS" default:"10" yaml:"connect_max_attempts"`
	ConnectMaxFailures   int           `envconfig:"CONNECT_MAX_FAILURES" default:"5" yaml:"connect_max_failures"`
	ConnectBlockDuration time.Duration `envconfig:"CONNECT_BLOCK_DURATION" default:"5m" yaml:"connect_block_duration"`

	// Terminal session settings
	ScrollbackBytes      int    `envconfig:"SCROLLBACK_BYTES" default:"1048576" yaml:"scrollback_bytes"`
	RecordingDir         string `envconfig:"RECORDING_DIR" default:"" yaml:"recording_dir"`
	BroadcastConcurrency int    `envconfig:"BROADCAST_CONCURRENCY" default:"16" yaml:"broadcast_concurrency"`
	// TransferDir is the only server directory upload and download may touch.
	TransferDir          string `envconfig:"TRANSFER_DIR" default:"" yaml:"transfer_dir"`

	// Audit settings
	AuditRetentionDays int    `envconfig:"AUDIT_RETENTION_DAYS" default:"90" yaml:"audit_retention_days"`
	AuditPurgeSchedule string `envconfig:"AUDIT_PURGE_SCHEDULE" default:"@daily" yaml:"audit_purge_schedule"`

	// ConfigFile names an optional YAML file whose values override the
	// environment.
	ConfigFile string `envconfig:"CONFIG_FILE" default:"" yaml:"-"`
}

var Cfg Settings

// Load fills Cfg from the environment and the optional config file. It exits
// the process on error.
func Load() {
	if err := load(&Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

func load(s *Settings) error {
	if err := envconfig.Process("SSHDECK", s); err != nil {
		return err
	}
	if s.ConfigFile != "" {
		data, err := os.ReadFile(s.ConfigFile)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return fmt.Errorf("parse config file %s: %w", s.ConfigFile, err)
		}
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "sshdeck.log")
	}
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "sshdeck.db")
	}
	if s.TransferDir == "" {
		s.TransferDir = filepath.Join(s.DataPath, "transfers")
	}
	if s.KeyDir == "" {
		s.KeyDir = filepath.Join(s.DataPath, "keys")
	}
	return nil
}
