package config

import "time"

// Config is the root configuration for hostctld, loaded from a single
// YAML document (with $include support, see loader.go) and overlaid with
// environment variable expansion.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Adapters AdaptersConfig `yaml:"adapters"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sessions SessionsConfig `yaml:"sessions"`
	Journal  JournalConfig  `yaml:"journal"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	LLM      LLMConfig      `yaml:"llm"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the daemon's control-plane listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
	// OperatorTokenSecret, when set, requires a valid HMAC-signed bearer
	// token on /metrics. Empty disables verification.
	OperatorTokenSecret string `yaml:"operator_token_secret"`
}

// DaemonConfig controls process-level behavior: PID file, working
// directory, and graceful shutdown timing.
type DaemonConfig struct {
	PIDFile         string        `yaml:"pid_file"`
	WorkDir         string        `yaml:"work_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AdaptersConfig locates the native-protocol transports each adapter
// dials. Empty values fall back to each adapter's own platform default
// (the system D-Bus socket, the local OVSDB Unix socket, etc.).
type AdaptersConfig struct {
	DBusAddress   string `yaml:"dbus_address"`
	OVSDBSocket   string `yaml:"ovsdb_socket"`
	NetlinkFamily string `yaml:"netlink_family_prefix"`
	PackageKitBus string `yaml:"packagekit_bus"`
}

// PipelineConfig bounds the forced-execution orchestrator's single-turn
// loop.
type PipelineConfig struct {
	MaxTurns     int           `yaml:"max_turns"`
	TimeoutSecs  int           `yaml:"timeout_secs"`
	MaxToolTurns int           `yaml:"max_tool_turns"`
	ToolTimeout  time.Duration `yaml:"tool_timeout"`
}

// SessionsConfig bounds the conversation store and selects its backend.
type SessionsConfig struct {
	MaxSessions           int    `yaml:"max_sessions"`
	MaxMessagesPerSession int    `yaml:"max_messages_per_session"`
	Backend               string `yaml:"backend"` // "memory" (default) or "cockroach"
	CockroachDSN          string `yaml:"cockroach_dsn"`
}

// JournalConfig locates and tunes the append-only change journal.
type JournalConfig struct {
	Path            string `yaml:"path"`
	FsyncEveryWrite bool   `yaml:"fsync_every_write"`
	// SQLiteMirrorPath, when set, durably mirrors every journal record into
	// a queryable SQLite database alongside the append-only file.
	SQLiteMirrorPath string `yaml:"sqlite_mirror_path"`
}

// SnapshotConfig mirrors internal/snapshot.SnapshotConfig for YAML
// loading; the daemon translates it into a snapshot.SnapshotConfig at
// startup.
type SnapshotConfig struct {
	Dir          string `yaml:"dir"`
	MaxSnapshots int    `yaml:"max_snapshots"`
	Prefix       string `yaml:"prefix"`
	SourceSubvol string `yaml:"source_subvolume"`
	Interval     string `yaml:"interval"`
}

// LLMConfig configures which provider drives the tool-forcing pipeline.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig holds one provider's credentials and default model.
// APIKey is expected to reference an environment variable
// (e.g. "${ANTHROPIC_API_KEY}"), expanded by the loader before decode.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
