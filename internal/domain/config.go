package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Extract      ExtractConfig      `mapstructure:"extract"`
	Relay        RelayConfig        `mapstructure:"relay"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ExtractConfig contains extraction chain configuration. Timeouts are
// per-strategy; ChainTimeout caps the whole chain's wall-clock time so a
// slow but alive upstream cannot starve a request indefinitely.
type ExtractConfig struct {
	StrategyTimeout time.Duration `mapstructure:"strategy_timeout"`
	MirrorTimeout   time.Duration `mapstructure:"mirror_timeout"`
	ChainTimeout    time.Duration `mapstructure:"chain_timeout"`
	ResolveTimeout  time.Duration `mapstructure:"resolve_timeout"`

	// Mirror service endpoints, overridable for testing
	TokenMirrorURL string `mapstructure:"token_mirror_url"`
	JSONMirrorURL  string `mapstructure:"json_mirror_url"`
}

// RelayConfig contains streaming relay configuration.
type RelayConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`

	// InsecureTLS disables certificate verification on the media fetch
	// client only; some regional CDNs present chains stock verifiers
	// reject. Never applied to extraction or mirror requests.
	InsecureTLS bool `mapstructure:"insecure_tls"`

	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// ArchiveConfig contains session history archive configuration
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
}

// NotificationConfig contains desktop notification configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // osascript, notify-send
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 4000,
		},
		Extract: ExtractConfig{
			StrategyTimeout: 20 * time.Second,
			MirrorTimeout:   45 * time.Second,
			ChainTimeout:    4 * time.Minute,
			ResolveTimeout:  10 * time.Second,
			TokenMirrorURL:  "https://ssstik.io",
			JSONMirrorURL:   "https://www.tikwm.com/api/",
		},
		Relay: RelayConfig{
			ChunkSize:        32 * 1024,
			MaxAttempts:      3,
			BackoffBase:      time.Second,
			BackoffCap:       4 * time.Second,
			ConnectTimeout:   10 * time.Second,
			ReadTimeout:      45 * time.Second,
			InsecureTLS:      true,
			ProgressInterval: time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:      true,
			DatabasePath: "~/.vidrelay/sessions.db",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
