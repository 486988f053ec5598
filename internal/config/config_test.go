package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func mapLookup(m map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := FromLookup(mapLookup(nil))
	if err != nil {
		t.Fatalf("FromLookup() error = %v", err)
	}

	want := domain.DefaultConfig()
	if cfg.Rules.Rule1VelocityThreshold != want.Rules.Rule1VelocityThreshold || cfg.Rules.TotalWeight() != 5 {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if cfg.Features.Mode != domain.ProfileGlobal {
		t.Errorf("Mode = %s", cfg.Features.Mode)
	}
	if cfg.Repository.Driver != "none" || cfg.Cache.Type != "memory" || cfg.EventBus.Type != "channel" {
		t.Errorf("collaborators = %s/%s/%s", cfg.Repository.Driver, cfg.Cache.Type, cfg.EventBus.Type)
	}
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := FromLookup(mapLookup(map[string]string{
		"PORT":                     "9090",
		"RULE1_VELOCITY_THRESHOLD": "3",
		"RULE2_SIGMA_MULTIPLIER":   "2.5",
		"RULE5_START_HOUR":         "0",
		"RULE5_END_HOUR":           "4",
		"RULE4_WEIGHT":             "0",
		"RULE3_EXPRESSION":         "rolling_24h_sum > 100.0",
		"PROFILE_MODE":             "Causal",
		"CACHE_TTL":                "5m",
		"CACHE_TWO_PHASE":          "true",
		"DEBUG":                    "true",
		"TIMEZONE":                 "UTC",
		"SQLITE_PATH":              "  kestrel.db ",
		"TRACING_ENABLED":          "true",
		"TRACING_ENDPOINT":         "otel-collector:4317",
		"TRACING_SAMPLE_RATIO":     "0.25",
	}))
	if err != nil {
		t.Fatalf("FromLookup() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Rules.Rule1VelocityThreshold != 3 || cfg.Rules.Rule2SigmaMultiplier != 2.5 {
		t.Errorf("Rules = %+v", cfg.Rules)
	}
	if cfg.Rules.Rule5StartHour != 0 || cfg.Rules.Rule5EndHour != 4 {
		t.Errorf("hours = %d-%d", cfg.Rules.Rule5StartHour, cfg.Rules.Rule5EndHour)
	}
	if cfg.Rules.TotalWeight() != 4 {
		t.Errorf("TotalWeight() = %v, want 4", cfg.Rules.TotalWeight())
	}
	if cfg.Rules.Expressions[3] != "rolling_24h_sum > 100.0" {
		t.Errorf("Expressions = %v", cfg.Rules.Expressions)
	}
	if cfg.Features.Mode != domain.ProfileCausal {
		t.Errorf("Mode = %s", cfg.Features.Mode)
	}
	if cfg.Cache.TTL != 5*time.Minute || !cfg.Cache.EnableTwoPhase {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s", cfg.Logging.Level)
	}
	if cfg.Repository.SQLitePath != "kestrel.db" {
		t.Errorf("SQLitePath = %q", cfg.Repository.SQLitePath)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "otel-collector:4317" || cfg.Tracing.SampleRatio != 0.25 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestFromLookupErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad int", map[string]string{"PORT": "eighty"}},
		{"bad float", map[string]string{"RULE2_MIN_AMOUNT": "lots"}},
		{"bad bool", map[string]string{"CACHE_TWO_PHASE": "maybe"}},
		{"bad duration", map[string]string{"CACHE_TTL": "forever"}},
		{"zero velocity", map[string]string{"RULE1_VELOCITY_THRESHOLD": "0"}},
		{"hour out of range", map[string]string{"RULE5_END_HOUR": "25"}},
		{"zero weights", map[string]string{
			"RULE1_WEIGHT": "0", "RULE2_WEIGHT": "0", "RULE3_WEIGHT": "0", "RULE4_WEIGHT": "0", "RULE5_WEIGHT": "0",
		}},
		{"unknown mode", map[string]string{"PROFILE_MODE": "future"}},
		{"unknown timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{"unknown driver", map[string]string{"REPOSITORY_DRIVER": "oracle"}},
		{"unknown cache", map[string]string{"CACHE_TYPE": "memcached"}},
		{"unknown bus", map[string]string{"BUS_TYPE": "kafka"}},
		{"unknown log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"no workers", map[string]string{"WORKERS": "0"}},
		{"sample ratio above one", map[string]string{"TRACING_SAMPLE_RATIO": "1.5"}},
		{"NaN weight", map[string]string{"RULE1_WEIGHT": "NaN"}},
		{"infinite weight", map[string]string{"RULE2_WEIGHT": "+Inf"}},
		{"infinite threshold", map[string]string{"RULE3_ABSOLUTE_THRESHOLD": "Inf"}},
		{"NaN sample ratio", map[string]string{"TRACING_SAMPLE_RATIO": "NaN"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(mapLookup(tt.env))
			if !errors.Is(err, domain.ErrConfig) {
				t.Errorf("FromLookup() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	data := "KESTREL_RULE2_MIN_AMOUNT=750\nKESTREL_PORT=7000\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	// Process environment wins over the file.
	t.Setenv("KESTREL_PORT", "7100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Rules.Rule2MinAmount != 750 {
		t.Errorf("Rule2MinAmount = %v, want 750", cfg.Rules.Rule2MinAmount)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("Port = %d, want 7100", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Load(missing) error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "INFO", "", "warn", "error"} {
		if _, err := ParseLevel(name); err != nil {
			t.Errorf("ParseLevel(%q) error = %v", name, err)
		}
	}
}
