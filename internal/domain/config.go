package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete kestrel configuration.
type Config struct {
	// Server settings (serve mode only)
	Server ServerConfig `json:"server"`

	// Core engines
	Rules    RuleConfig    `json:"rules"`
	Features FeatureConfig `json:"features"`
	Ingest   IngestConfig  `json:"ingest"`

	// Optional collaborators
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// RuleConfig holds every threshold and weight consumed by the Rule Engine.
// The engine applies no defaults of its own; see DefaultRuleConfig.
type RuleConfig struct {
	Rule1VelocityThreshold int `json:"rule1VelocityThreshold"`

	Rule2SigmaMultiplier float64 `json:"rule2SigmaMultiplier"`
	Rule2MinAmount       float64 `json:"rule2MinAmount"`

	Rule3AbsoluteThreshold  float64 `json:"rule3AbsoluteThreshold"`
	Rule3RelativeMultiplier float64 `json:"rule3RelativeMultiplier"`

	Rule4MinAmount          float64 `json:"rule4MinAmount"`
	Rule4RelativeMultiplier float64 `json:"rule4RelativeMultiplier"`

	Rule5StartHour int `json:"rule5StartHour"`
	Rule5EndHour   int `json:"rule5EndHour"`

	Rule1Weight float64 `json:"rule1Weight"`
	Rule2Weight float64 `json:"rule2Weight"`
	Rule3Weight float64 `json:"rule3Weight"`
	Rule4Weight float64 `json:"rule4Weight"`
	Rule5Weight float64 `json:"rule5Weight"`

	// Expressions optionally replaces a rule's built-in condition with a CEL
	// expression, keyed by rule number (1-5).
	Expressions map[int]string `json:"expressions,omitempty"`
}

// Weight returns the configured weight of a rule.
func (c *RuleConfig) Weight(id RuleID) float64 {
	switch id {
	case RuleVelocity:
		return c.Rule1Weight
	case RuleAmountAnomaly:
		return c.Rule2Weight
	case RuleSpendingSpike:
		return c.Rule3Weight
	case RuleNewMerchant:
		return c.Rule4Weight
	case RuleNocturnal:
		return c.Rule5Weight
	}
	return 0
}

// TotalWeight is the normalisation denominator: the sum of all five weights.
func (c *RuleConfig) TotalWeight() float64 {
	return c.Rule1Weight + c.Rule2Weight + c.Rule3Weight + c.Rule4Weight + c.Rule5Weight
}

// Validate checks the configuration. All failures wrap ErrConfig.
func (c *RuleConfig) Validate() error {
	if c.Rule1VelocityThreshold < 1 {
		return fmt.Errorf("%w: rule1_velocity_threshold must be >= 1, got %d", ErrConfig, c.Rule1VelocityThreshold)
	}
	if c.Rule5StartHour < 0 || c.Rule5StartHour > 23 {
		return fmt.Errorf("%w: rule5_start_hour must be in 0-23, got %d", ErrConfig, c.Rule5StartHour)
	}
	if c.Rule5EndHour < 0 || c.Rule5EndHour > 23 {
		return fmt.Errorf("%w: rule5_end_hour must be in 0-23, got %d", ErrConfig, c.Rule5EndHour)
	}
	thresholds := []struct {
		name  string
		value float64
	}{
		{"rule2_sigma_multiplier", c.Rule2SigmaMultiplier},
		{"rule2_min_amount", c.Rule2MinAmount},
		{"rule3_absolute_threshold", c.Rule3AbsoluteThreshold},
		{"rule3_relative_multiplier", c.Rule3RelativeMultiplier},
		{"rule4_min_amount", c.Rule4MinAmount},
		{"rule4_relative_multiplier", c.Rule4RelativeMultiplier},
	}
	for _, th := range thresholds {
		if !IsFinite(th.value) {
			return fmt.Errorf("%w: %s must be finite, got %g", ErrConfig, th.name, th.value)
		}
	}
	for _, id := range AllRules {
		w := c.Weight(id)
		if !IsFinite(w) {
			return fmt.Errorf("%w: rule%d_weight must be finite, got %g", ErrConfig, int(id), w)
		}
		if w < 0 {
			return fmt.Errorf("%w: rule%d_weight must be non-negative, got %g", ErrConfig, int(id), w)
		}
	}
	if total := c.TotalWeight(); !IsFinite(total) || total <= 0 {
		return fmt.Errorf("%w: sum of rule weights must be finite and > 0, got %g", ErrConfig, total)
	}
	for n := range c.Expressions {
		if !RuleID(n).Valid() {
			return fmt.Errorf("%w: expression for unknown rule %d", ErrConfig, n)
		}
	}
	return nil
}

// IsFinite reports whether f is neither NaN nor an infinity.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// DefaultRuleConfig returns the stock thresholds used by the config loader.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Rule1VelocityThreshold:  5,
		Rule2SigmaMultiplier:    3.0,
		Rule2MinAmount:          500,
		Rule3AbsoluteThreshold:  5000,
		Rule3RelativeMultiplier: 10.0,
		Rule4MinAmount:          300,
		Rule4RelativeMultiplier: 2.0,
		Rule5StartHour:          2,
		Rule5EndHour:            6,
		Rule1Weight:             1.0,
		Rule2Weight:             1.0,
		Rule3Weight:             1.0,
		Rule4Weight:             1.0,
		Rule5Weight:             1.0,
	}
}

// ProfileMode selects how user statistics are computed.
type ProfileMode string

const (
	// ProfileGlobal computes statistics over the user's whole batch,
	// including transactions after the one being scored.
	ProfileGlobal ProfileMode = "global"

	// ProfileCausal computes statistics only from transactions strictly
	// before the current timestamp.
	ProfileCausal ProfileMode = "causal"
)

// Valid reports whether m is a known mode.
func (m ProfileMode) Valid() bool {
	return m == ProfileGlobal || m == ProfileCausal
}

// FeatureConfig holds Feature Engine settings.
type FeatureConfig struct {
	Mode    ProfileMode `json:"mode"`
	Workers int         `json:"workers"`
}

// IngestConfig holds CSV ingestion settings.
type IngestConfig struct {
	// Location is used for timestamps without a zone offset.
	Location string `json:"location"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
	MaxBodyBytes int64  `json:"maxBodyBytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`

	// Endpoint is the OTLP/gRPC collector address. Empty uses the exporter
	// default (OTEL_EXPORTER_OTLP_ENDPOINT or localhost:4317).
	Endpoint    string  `json:"endpoint"`
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sampleRatio"`
}

// DefaultConfig returns a configuration that needs no external services:
// no archive, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
			MaxBodyBytes: 64 << 20,
		},
		Rules: DefaultRuleConfig(),
		Features: FeatureConfig{
			Mode:    ProfileGlobal,
			Workers: 8,
		},
		Ingest: IngestConfig{
			Location: "UTC",
		},
		Repository: RepositoryConfig{
			Driver: "none",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 128,
			LocalTTL:     10 * time.Minute,
			TTL:          time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
			SampleRatio: 1.0,
		},
	}
}
