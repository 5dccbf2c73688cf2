package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAPIBase is used when neither the configuration file nor the API_BASE
// environment variable provide a backend host.
const DefaultAPIBase = "http://localhost:8000"

type Config struct {
	EngineSync EngineSyncConfig `yaml:"enginesync"`
	Engine     EngineConfig     `yaml:"engine"`
	Market     MarketConfig     `yaml:"market"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type EngineSyncConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	APIBase string `yaml:"api_base"`
}

type EngineConfig struct {
	WebsocketURL      string        `yaml:"websocket_url"`
	ProbePath         string        `yaml:"probe_path"`
	ArtifactURL       string        `yaml:"artifact_url"`
	InstallPath       string        `yaml:"install_path"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	Reconnect         bool          `yaml:"reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	FrameBuffer       int           `yaml:"frame_buffer"`
}

type MarketConfig struct {
	Symbols          []string      `yaml:"symbols"`
	IntervalMs       int           `yaml:"interval_ms"`
	StatusIntervalMs int           `yaml:"status_interval_ms"`
	Source           string        `yaml:"source"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	PulseBuffer      int           `yaml:"pulse_buffer"`
}

type OAuthConfig struct {
	DashboardURL string        `yaml:"dashboard_url"`
	ExchangePath string        `yaml:"exchange_path"`
	Timeout      time.Duration `yaml:"timeout"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type TelemetryConfig struct {
	Capacity int `yaml:"capacity"`
}

type MetricsConfig struct {
	CloudWatch    bool   `yaml:"cloudwatch"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	path = resolveConfigPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Engine: EngineConfig{
			HandshakeTimeout:  10 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			ReadTimeout:       45 * time.Second,
			ReconnectInterval: 5 * time.Second,
			FrameBuffer:       256,
		},
		Market: MarketConfig{
			IntervalMs:       3000,
			StatusIntervalMs: 3000,
			Source:           "binance",
			RequestTimeout:   10 * time.Second,
			PulseBuffer:      16,
		},
		Telemetry: TelemetryConfig{Capacity: 500},
		Dashboard: DashboardConfig{
			LogHistory:      200,
			MetricsHistory:  200,
			RefreshInterval: 5 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// The backend host comes from the environment when set; the config file
	// value is a fallback and the documented default is the last resort.
	if v := os.Getenv("API_BASE"); v != "" {
		config.EngineSync.APIBase = strings.TrimSpace(v)
	}
	if config.EngineSync.APIBase == "" {
		config.EngineSync.APIBase = DefaultAPIBase
	}
	config.EngineSync.APIBase = strings.TrimRight(config.EngineSync.APIBase, "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.EngineSync.Name == "" {
		return fmt.Errorf("enginesync.name is required")
	}

	if cfg.EngineSync.Version == "" {
		return fmt.Errorf("enginesync.version is required")
	}

	if cfg.Engine.WebsocketURL == "" {
		return fmt.Errorf("engine.websocket_url is required")
	}

	if cfg.Engine.FrameBuffer <= 0 {
		return fmt.Errorf("engine.frame_buffer must be greater than 0")
	}

	if cfg.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine.heartbeat_interval must be greater than 0")
	}

	if cfg.Engine.Reconnect && cfg.Engine.ReconnectInterval <= 0 {
		return fmt.Errorf("engine.reconnect_interval must be greater than 0 when reconnect is enabled")
	}

	if cfg.Market.IntervalMs <= 0 {
		return fmt.Errorf("market.interval_ms must be greater than 0")
	}

	if cfg.Market.StatusIntervalMs <= 0 {
		return fmt.Errorf("market.status_interval_ms must be greater than 0")
	}

	switch cfg.Market.Source {
	case "binance", "backend":
	default:
		return fmt.Errorf("market.source must be 'binance' or 'backend', got '%s'", cfg.Market.Source)
	}

	if cfg.Telemetry.Capacity <= 0 {
		return fmt.Errorf("telemetry.capacity must be greater than 0")
	}

	if cfg.Dashboard.Enabled && cfg.Dashboard.Address == "" {
		return fmt.Errorf("dashboard.address is required when the dashboard is enabled")
	}

	if cfg.OAuth.DashboardURL == "" {
		return fmt.Errorf("oauth.dashboard_url is required")
	}

	return nil
}
