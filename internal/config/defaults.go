package config

import (
	"fmt"
	"time"
)

const defaultConfigPath = "/etc/hostctl/config.yaml"

// Load reads path (or defaultConfigPath when empty), resolves $include
// directives and environment variable expansion, decodes the merged
// document against Config, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDaemonDefaults(&cfg.Daemon)
	applyAdaptersDefaults(&cfg.Adapters)
	applyPipelineDefaults(&cfg.Pipeline)
	applySessionsDefaults(&cfg.Sessions)
	applyJournalDefaults(&cfg.Journal)
	applySnapshotDefaults(&cfg.Snapshot)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8090
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applyDaemonDefaults(cfg *DaemonConfig) {
	if cfg.PIDFile == "" {
		cfg.PIDFile = "/run/hostctld.pid"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "/var/lib/hostctl"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
}

func applyAdaptersDefaults(cfg *AdaptersConfig) {
	if cfg.OVSDBSocket == "" {
		cfg.OVSDBSocket = "/var/run/openvswitch/db.sock"
	}
	if cfg.PackageKitBus == "" {
		cfg.PackageKitBus = "org.freedesktop.PackageKit"
	}
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 75
	}
	if cfg.TimeoutSecs == 0 {
		cfg.TimeoutSecs = 300
	}
	if cfg.MaxToolTurns == 0 {
		cfg.MaxToolTurns = 10
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
}

func applySessionsDefaults(cfg *SessionsConfig) {
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 100
	}
	if cfg.MaxMessagesPerSession == 0 {
		cfg.MaxMessagesPerSession = 50
	}
}

func applyJournalDefaults(cfg *JournalConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/lib/hostctl/journal.jsonl"
	}
}

func applySnapshotDefaults(cfg *SnapshotConfig) {
	if cfg.Dir == "" {
		cfg.Dir = "/var/lib/hostctl/snapshots"
	}
	if cfg.MaxSnapshots == 0 {
		cfg.MaxSnapshots = 24
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "SNP-cache"
	}
	if cfg.Interval == "" {
		cfg.Interval = "every_15_minutes"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Sessions.MaxSessions <= 0 {
		return fmt.Errorf("sessions.max_sessions must be positive")
	}
	if cfg.Sessions.MaxMessagesPerSession <= 0 {
		return fmt.Errorf("sessions.max_messages_per_session must be positive")
	}
	if cfg.Pipeline.MaxTurns <= 0 {
		return fmt.Errorf("pipeline.max_turns must be positive")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", cfg.Logging.Format)
	}
	return nil
}
