// Package config loads kestrel configuration from a .env file and KESTREL_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Prefix is prepended to every variable name.
const Prefix = "KESTREL_"

// DefaultEnvFile is read when Load is called without files.
const DefaultEnvFile = ".env"

// Lookup resolves a variable name without the prefix.
type Lookup func(key string) (string, bool)

// Load reads the given .env files (or DefaultEnvFile) and the process
// environment, on top of domain.DefaultConfig. Process variables win over
// file values. Missing files are ignored.
func Load(files ...string) (*domain.Config, error) {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}

	fileValues := make(map[string]string)
	for _, f := range files {
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", domain.ErrConfig, f, err)
		}
		for k, v := range values {
			fileValues[k] = v
		}
	}

	return FromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(Prefix + key); ok {
			return v, true
		}
		v, ok := fileValues[Prefix+key]
		return v, ok
	})
}

// FromLookup builds a validated configuration from lookup.
func FromLookup(lookup Lookup) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	l := &loader{lookup: lookup}

	// Server
	l.strVar("HOST", &cfg.Server.Host)
	l.intVar("PORT", &cfg.Server.Port)
	l.intVar("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	l.intVar("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	l.int64Var("MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)

	// Rules
	r := &cfg.Rules
	l.intVar("RULE1_VELOCITY_THRESHOLD", &r.Rule1VelocityThreshold)
	l.floatVar("RULE2_SIGMA_MULTIPLIER", &r.Rule2SigmaMultiplier)
	l.floatVar("RULE2_MIN_AMOUNT", &r.Rule2MinAmount)
	l.floatVar("RULE3_ABSOLUTE_THRESHOLD", &r.Rule3AbsoluteThreshold)
	l.floatVar("RULE3_RELATIVE_MULTIPLIER", &r.Rule3RelativeMultiplier)
	l.floatVar("RULE4_MIN_AMOUNT", &r.Rule4MinAmount)
	l.floatVar("RULE4_RELATIVE_MULTIPLIER", &r.Rule4RelativeMultiplier)
	l.intVar("RULE5_START_HOUR", &r.Rule5StartHour)
	l.intVar("RULE5_END_HOUR", &r.Rule5EndHour)
	l.floatVar("RULE1_WEIGHT", &r.Rule1Weight)
	l.floatVar("RULE2_WEIGHT", &r.Rule2Weight)
	l.floatVar("RULE3_WEIGHT", &r.Rule3Weight)
	l.floatVar("RULE4_WEIGHT", &r.Rule4Weight)
	l.floatVar("RULE5_WEIGHT", &r.Rule5Weight)
	for _, id := range domain.AllRules {
		if expr, ok := lookup(fmt.Sprintf("RULE%d_EXPRESSION", int(id))); ok && strings.TrimSpace(expr) != "" {
			if r.Expressions == nil {
				r.Expressions = make(map[int]string)
			}
			r.Expressions[int(id)] = expr
		}
	}

	// Features and ingestion
	var mode string
	if l.strVar("PROFILE_MODE", &mode) {
		cfg.Features.Mode = domain.ProfileMode(strings.ToLower(mode))
	}
	l.intVar("WORKERS", &cfg.Features.Workers)
	l.strVar("TIMEZONE", &cfg.Ingest.Location)

	// Repository
	l.strVar("REPOSITORY_DRIVER", &cfg.Repository.Driver)
	l.strVar("SQLITE_PATH", &cfg.Repository.SQLitePath)
	l.strVar("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	l.intVar("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	l.strVar("POSTGRES_USER", &cfg.Repository.PostgresUser)
	l.strVar("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	l.strVar("POSTGRES_DB", &cfg.Repository.PostgresDB)
	l.strVar("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	// Cache
	l.strVar("CACHE_TYPE", &cfg.Cache.Type)
	l.durationVar("CACHE_TTL", &cfg.Cache.TTL)
	l.intVar("CACHE_LOCAL_SIZE", &cfg.Cache.LocalMaxSize)
	l.durationVar("CACHE_LOCAL_TTL", &cfg.Cache.LocalTTL)
	l.strVar("REDIS_ADDR", &cfg.Cache.RedisAddr)
	l.strVar("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	l.intVar("REDIS_DB", &cfg.Cache.RedisDB)
	l.boolVar("CACHE_TWO_PHASE", &cfg.Cache.EnableTwoPhase)

	// Event bus
	l.strVar("BUS_TYPE", &cfg.EventBus.Type)
	l.intVar("BUS_BUFFER_SIZE", &cfg.EventBus.ChannelBufferSize)
	l.strVar("NATS_URL", &cfg.EventBus.NATSUrl)
	l.strVar("NATS_TOKEN", &cfg.EventBus.NATSToken)

	// Observability
	l.strVar("LOG_LEVEL", &cfg.Logging.Level)
	l.strVar("LOG_FORMAT", &cfg.Logging.Format)
	var debug bool
	if l.boolVar("DEBUG", &debug) && debug {
		cfg.Logging.Level = "debug"
	}
	l.boolVar("TRACING_ENABLED", &cfg.Tracing.Enabled)
	l.strVar("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	l.boolVar("TRACING_INSECURE", &cfg.Tracing.Insecure)
	l.floatVar("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)

	if l.err != nil {
		return nil, l.err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a complete configuration. All failures wrap
// domain.ErrConfig.
func Validate(cfg *domain.Config) error {
	if err := cfg.Rules.Validate(); err != nil {
		return err
	}
	if !cfg.Features.Mode.Valid() {
		return fmt.Errorf("%w: unknown profile mode %q", domain.ErrConfig, cfg.Features.Mode)
	}
	if cfg.Features.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", domain.ErrConfig, cfg.Features.Workers)
	}
	if _, err := time.LoadLocation(cfg.Ingest.Location); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", domain.ErrConfig, cfg.Ingest.Location)
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if r := cfg.Tracing.SampleRatio; !domain.IsFinite(r) || r < 0 || r > 1 {
		return fmt.Errorf("%w: tracing sample ratio must be in [0, 1], got %g", domain.ErrConfig, r)
	}

	switch cfg.Repository.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown repository driver %q", domain.ErrConfig, cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown cache type %q", domain.ErrConfig, cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "", "none", "channel", "nats":
	default:
		return fmt.Errorf("%w: unknown event bus type %q", domain.ErrConfig, cfg.EventBus.Type)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", domain.ErrConfig, level)
}

// loader parses variables into config fields and keeps the first error.
type loader struct {
	lookup Lookup
	err    error
}

func (l *loader) get(key string) (string, bool) {
	if l.err != nil {
		return "", false
	}
	v, ok := l.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l *loader) fail(key, value string, err error) {
	l.err = fmt.Errorf("%w: %s%s=%q: %v", domain.ErrConfig, Prefix, key, value, err)
}

func (l *loader) strVar(key string, dst *string) bool {
	v, ok := l.get(key)
	if ok {
		*dst = v
	}
	return ok
}

func (l *loader) intVar(key string, dst *int) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, v, err)
		return
	}
	*dst = n
}

func (l *loader) int64Var(key string, dst *int64) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		l.fail(key, v, err)
		return
	}
	*dst = n
}

func (l *loader) floatVar(key string, dst *float64) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(key, v, err)
		return
	}
	if !domain.IsFinite(f) {
		l.fail(key, v, errors.New("value must be finite"))
		return
	}
	*dst = f
}

func (l *loader) boolVar(key string, dst *bool) bool {
	v, ok := l.get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, v, err)
		return false
	}
	*dst = b
	return true
}

func (l *loader) durationVar(key string, dst *time.Duration) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, v, err)
		return
	}
	*dst = d
}
