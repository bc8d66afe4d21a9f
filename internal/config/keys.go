package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SENTINEL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SENTINEL_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SENTINEL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "oracle.backend", typ: kString, env: "SENTINEL_ORACLE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Backend },
	},
	{
		key: "oracle.base_url", typ: kString, env: "SENTINEL_ORACLE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.BaseURL },
	},
	{
		key: "oracle.model", typ: kString, env: "SENTINEL_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.timeout", typ: kString, env: "SENTINEL_ORACLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Timeout },
	},
	{
		key: "oracle.requests_per_minute", typ: kInt, env: "SENTINEL_ORACLE_RPM",
		apply:   func(cfg *Config, v any) { cfg.Oracle.RequestsPerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Oracle.RequestsPerMinute },
	},
	{
		key: "oracle.api_key", typ: kString, env: "SENTINEL_ORACLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Oracle.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.APIKey },
	},
	{
		key: "evidence.window", typ: kString, env: "SENTINEL_EVIDENCE_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Window = v.(string) },
		extract: func(cfg Config) any { return cfg.Evidence.Window },
	},
	{
		key: "evidence.limit", typ: kInt, env: "SENTINEL_EVIDENCE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Evidence.Limit },
	},
	{
		key: "evidence.inventory_limit", typ: kInt, env: "SENTINEL_EVIDENCE_INVENTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Evidence.InventoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Evidence.InventoryLimit },
	},
	{
		key: "evidence.retention", typ: kString, env: "SENTINEL_EVIDENCE_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Retention = v.(string) },
		extract: func(cfg Config) any { return cfg.Evidence.Retention },
	},
	{
		key: "planner.max_distance_miles", typ: kFloat, env: "SENTINEL_PLANNER_MAX_DISTANCE_MILES",
		apply:   func(cfg *Config, v any) { cfg.Planner.MaxDistanceMiles = v.(float64) },
		extract: func(cfg Config) any { return cfg.Planner.MaxDistanceMiles },
	},
	{
		key: "planner.min_coverage", typ: kFloat, env: "SENTINEL_PLANNER_MIN_COVERAGE",
		apply:   func(cfg *Config, v any) { cfg.Planner.MinCoverage = v.(float64) },
		extract: func(cfg Config) any { return cfg.Planner.MinCoverage },
	},
	{
		key: "planner.score_threshold", typ: kInt, env: "SENTINEL_PLANNER_SCORE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Planner.ScoreThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Planner.ScoreThreshold },
	},
	{
		key: "cycle.interval", typ: kString, env: "SENTINEL_CYCLE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Cycle.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Cycle.Interval },
	},
	{
		key: "cycle.workers", typ: kInt, env: "SENTINEL_CYCLE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Cycle.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Cycle.Workers },
	},
	{
		key: "cycle.max_attempts", typ: kInt, env: "SENTINEL_CYCLE_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Cycle.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Cycle.MaxAttempts },
	},
	{
		key: "sink.kafka_brokers", typ: kString, env: "SENTINEL_SINK_KAFKA_BROKERS",
		apply:   func(cfg *Config, v any) { cfg.Sink.KafkaBrokers = v.(string) },
		extract: func(cfg Config) any { return cfg.Sink.KafkaBrokers },
	},
	{
		key: "sink.kafka_topic", typ: kString, env: "SENTINEL_SINK_KAFKA_TOPIC",
		apply:   func(cfg *Config, v any) { cfg.Sink.KafkaTopic = v.(string) },
		extract: func(cfg Config) any { return cfg.Sink.KafkaTopic },
	},
	{
		key: "log.level", typ: kString, env: "SENTINEL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "SENTINEL_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
