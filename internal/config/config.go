// Package config loads proxy configuration from the environment, with an
// optional .env file and a YAML targets file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/failgate/failgate/internal/proxy"
	"github.com/failgate/failgate/internal/upstream"
)

// Config holds the full proxy configuration.
type Config struct {
	// ListenPort is the proxy data-plane port.
	ListenPort int

	// AdminPort is the ops/admin surface port.
	AdminPort int

	// MaxFails is the consecutive-failure threshold before a target is
	// marked DOWN.
	MaxFails int

	// FailTimeout is the probation period for a DOWN target.
	FailTimeout time.Duration

	// ConnectTimeout and ReadTimeout bound each upstream attempt.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// MaxRetries is the total upstream attempt budget per request.
	MaxRetries int

	// RetryableStatusCodes are upstream statuses treated as failures.
	RetryableStatusCodes []int

	// WindowSize is the sliding-window capacity for error-rate alerting.
	WindowSize int

	// ErrorRateThreshold triggers the error-rate alert when exceeded.
	ErrorRateThreshold float64

	// AlertCooldown is the minimum spacing between alerts of one kind.
	AlertCooldown time.Duration

	// MaintenanceMode suppresses alert delivery at startup.
	MaintenanceMode bool

	// FailureMode selects the no-eligible-target policy.
	FailureMode proxy.FailureMode

	// Targets is the upstream pool list.
	Targets []upstream.Target

	// SlackWebhookURL enables the webhook alert sink when set.
	SlackWebhookURL string

	// PubSubProject and PubSubTopic enable the Pub/Sub alert sink when
	// both are set.
	PubSubProject string
	PubSubTopic   string

	// Owner and Environment identify the deployment in alerts.
	Owner       string
	Environment string

	// AdminJWTSigningKey signs and verifies admin tokens.
	AdminJWTSigningKey string

	// ActiveProbe enables background health probing.
	ActiveProbe         bool
	ActiveProbeInterval time.Duration

	// OTelEnabled and OTLPEndpoint configure telemetry export.
	OTelEnabled  bool
	OTLPEndpoint string

	// Env is the deployment environment name for telemetry.
	Env string
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in when present.
func Load() (Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	cfg := Config{
		ListenPort:           intEnv("LISTEN_PORT", 8080),
		AdminPort:            intEnv("ADMIN_PORT", 9090),
		MaxFails:             intEnv("MAX_FAILS", 2),
		FailTimeout:          durationEnv("FAIL_TIMEOUT_SEC", 5*time.Second),
		ConnectTimeout:       durationEnv("CONNECT_TIMEOUT_SEC", 2*time.Second),
		ReadTimeout:          durationEnv("READ_TIMEOUT_SEC", 2*time.Second),
		MaxRetries:           intEnv("MAX_RETRIES", 2),
		WindowSize:           intEnv("WINDOW_SIZE", 200),
		ErrorRateThreshold:   floatEnv("ERROR_RATE_THRESHOLD", 0.02),
		AlertCooldown:        durationEnv("ALERT_COOLDOWN_SEC", 5*time.Minute),
		MaintenanceMode:      boolEnv("MAINTENANCE_MODE", false),
		SlackWebhookURL:      os.Getenv("SLACK_WEBHOOK_URL"),
		PubSubProject:        os.Getenv("ALERT_PUBSUB_PROJECT"),
		PubSubTopic:          os.Getenv("ALERT_PUBSUB_TOPIC"),
		Owner:                stringEnv("DEPLOYMENT_OWNER", "unknown"),
		Environment:          stringEnv("ENVIRONMENT_NAME", "production"),
		AdminJWTSigningKey:   os.Getenv("ADMIN_JWT_SIGNING_KEY"),
		ActiveProbe:          boolEnv("ACTIVE_PROBE_ENABLED", false),
		ActiveProbeInterval:  durationEnv("ACTIVE_PROBE_INTERVAL_SEC", 5*time.Second),
		OTelEnabled:          boolEnv("OTEL_ENABLED", false),
		OTLPEndpoint:         stringEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Env:                  stringEnv("APP_ENV", "development"),
		RetryableStatusCodes: []int{500, 502, 503, 504},
	}

	if raw := os.Getenv("RETRYABLE_STATUS_CODES"); raw != "" {
		codes, err := parseStatusCodes(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.RetryableStatusCodes = codes
	}

	switch mode := stringEnv("FAILURE_MODE", string(proxy.FailureOpen)); proxy.FailureMode(mode) {
	case proxy.FailureOpen, proxy.FailureClosed:
		cfg.FailureMode = proxy.FailureMode(mode)
	default:
		return Config{}, fmt.Errorf("config: FAILURE_MODE must be %q or %q, got %q",
			proxy.FailureOpen, proxy.FailureClosed, mode)
	}

	targets, err := loadTargets()
	if err != nil {
		return Config{}, err
	}
	cfg.Targets = targets

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold >= 1 {
		return fmt.Errorf("config: ERROR_RATE_THRESHOLD must be in (0,1), got %v", c.ErrorRateThreshold)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("config: WINDOW_SIZE must be positive, got %d", c.WindowSize)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("config: MAX_RETRIES must be positive, got %d", c.MaxRetries)
	}

	pools := make(map[string]struct{}, len(c.Targets))
	hasPrimary := false
	for _, target := range c.Targets {
		if err := target.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if _, dup := pools[target.Pool]; dup {
			return fmt.Errorf("config: duplicate pool %q", target.Pool)
		}
		pools[target.Pool] = struct{}{}
		if target.Role == upstream.RolePrimary {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		return fmt.Errorf("config: at least one primary target is required")
	}
	return nil
}

// targetsFile is the YAML shape of the targets file.
type targetsFile struct {
	Targets []upstream.Target `yaml:"targets"`
}

// loadTargets reads targets from TARGETS_FILE (YAML) or the TARGETS env
// string, in that order of preference.
func loadTargets() ([]upstream.Target, error) {
	if path := os.Getenv("TARGETS_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading targets file: %w", err)
		}
		var parsed targetsFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("config: parsing targets file: %w", err)
		}
		if len(parsed.Targets) == 0 {
			return nil, fmt.Errorf("config: targets file %q has no targets", path)
		}
		return parsed.Targets, nil
	}

	raw := os.Getenv("TARGETS")
	if raw == "" {
		return nil, fmt.Errorf("config: either TARGETS_FILE or TARGETS must be set")
	}
	return parseTargets(raw)
}

// parseTargets parses the compact form "pool|address|role,pool|address|role".
func parseTargets(raw string) ([]upstream.Target, error) {
	var targets []upstream.Target
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) != 3 {
			return nil, fmt.Errorf("config: target entry %q must be pool|address|role", entry)
		}
		targets = append(targets, upstream.Target{
			Pool:    strings.TrimSpace(fields[0]),
			Address: strings.TrimSpace(fields[1]),
			Role:    upstream.Role(strings.TrimSpace(fields[2])),
		})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("config: TARGETS is empty")
	}
	return targets, nil
}

func parseStatusCodes(raw string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("config: invalid status code %q in RETRYABLE_STATUS_CODES", part)
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("config: RETRYABLE_STATUS_CODES is empty")
	}
	return codes, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
