package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Oracle   OracleConfig
	Evidence EvidenceConfig
	Planner  PlannerConfig
	Cycle    CycleConfig
	Sink     SinkConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

// OracleConfig selects the text model backend used for risk assessment.
type OracleConfig struct {
	Backend           string // "ollama" or "openai"
	BaseURL           string
	Model             string
	Timeout           string
	RequestsPerMinute int
	APIKey            string
}

type EvidenceConfig struct {
	Window         string
	Limit          int
	InventoryLimit int
	Retention      string
}

type PlannerConfig struct {
	MaxDistanceMiles float64
	MinCoverage      float64
	ScoreThreshold   int
}

type CycleConfig struct {
	Interval    string
	Workers     int
	MaxAttempts int
}

type SinkConfig struct {
	KafkaBrokers string
	KafkaTopic   string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"

	minOracleTimeout = 10 * time.Second
	maxOracleTimeout = 30 * time.Second
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Oracle: OracleConfig{
			Backend:           BackendOllama,
			BaseURL:           "http://localhost:11434",
			Model:             "mistral-nemo",
			Timeout:           "20s",
			RequestsPerMinute: 60,
		},
		Evidence: EvidenceConfig{
			Window:         "24h",
			InventoryLimit: 25,
			Retention:      "24h",
		},
		Planner: PlannerConfig{
			MaxDistanceMiles: 150,
			MinCoverage:      90,
			ScoreThreshold:   30,
		},
		Cycle: CycleConfig{
			Interval:    "5m",
			Workers:     1,
			MaxAttempts: 3,
		},
		Sink: SinkConfig{
			KafkaTopic: "fc-risk-rows",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.fcsentinel.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/fcsentinel/config.json
// and secrets come from environment variables or the secrets file.
//
// Environment variables (SENTINEL_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Oracle.APIKey == "" {
		if key, err := kc.Get(keychainService, oracleKeyAccount); err == nil && key != "" {
			cfg.Oracle.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	switch c.Oracle.Backend {
	case BackendOllama:
	case BackendOpenAI:
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("missing required config: oracle API key. "+
				"Set it via environment variable SENTINEL_ORACLE_API_KEY%s", apiKeyHint())
		}
	default:
		return fmt.Errorf("unknown oracle.backend %q (want %q or %q)", c.Oracle.Backend, BackendOllama, BackendOpenAI)
	}
	for key, raw := range map[string]string{
		"oracle.timeout":     c.Oracle.Timeout,
		"evidence.window":    c.Evidence.Window,
		"evidence.retention": c.Evidence.Retention,
		"cycle.interval":     c.Cycle.Interval,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Cycle.Workers < 1 {
		return fmt.Errorf("cycle.workers must be at least 1, got %d", c.Cycle.Workers)
	}
	if c.Planner.MinCoverage <= 0 || c.Planner.MinCoverage > 100 {
		return fmt.Errorf("planner.min_coverage must be in (0, 100], got %v", c.Planner.MinCoverage)
	}
	if c.Planner.MaxDistanceMiles <= 0 {
		return fmt.Errorf("planner.max_distance_miles must be positive, got %v", c.Planner.MaxDistanceMiles)
	}
	return nil
}

// OracleTimeout returns the per-call oracle deadline clamped to [10s, 30s].
func (c Config) OracleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 20 * time.Second
	}
	return min(max(d, minOracleTimeout), maxOracleTimeout)
}

func (c Config) EvidenceWindow() time.Duration {
	return parseDurationOr(c.Evidence.Window, 24*time.Hour)
}

func (c Config) EvidenceRetention() time.Duration {
	return parseDurationOr(c.Evidence.Retention, 24*time.Hour)
}

// CycleInterval is zero when periodic cycles are disabled.
func (c Config) CycleInterval() time.Duration {
	return parseDurationOr(c.Cycle.Interval, 0)
}

// KafkaBrokers splits the comma-separated broker list, dropping blanks.
func (c Config) KafkaBrokers() []string {
	var out []string
	for _, b := range strings.Split(c.Sink.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
