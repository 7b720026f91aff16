package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process configuration read from the environment.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string
	JWTSecret    string
	RedisAddr    string
	RedisChannel string
	PolicyFile   string
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	channel := os.Getenv("REDIS_CHANNEL")
	if channel == "" {
		channel = "claimflow.facts"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisChannel: channel,
		PolicyFile:   os.Getenv("POLICY_FILE"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Policy is the tunable business configuration. Every value here is
// configuration, not derived.
type Policy struct {
	SLA          SLAPolicy          `yaml:"sla"`
	Trust        TrustPolicy        `yaml:"trust"`
	Routing      RoutingPolicy      `yaml:"routing"`
	Verification VerificationPolicy `yaml:"verification"`
	// MaxWriteAttempts bounds the reload-and-revalidate loop on version conflicts.
	MaxWriteAttempts int `yaml:"max_write_attempts"`
}

// SLAPolicy maps priorities to resolution windows in hours, with optional
// per-kind overrides keyed by request kind then priority.
type SLAPolicy struct {
	DefaultHours  map[string]int            `yaml:"default_hours"`
	KindOverrides map[string]map[string]int `yaml:"kind_overrides,omitempty"`
}

type TrustPolicy struct {
	InitialScore int `yaml:"initial_score"`
}

type RoutingPolicy struct {
	HighValueThreshold  float64  `yaml:"high_value_threshold"`
	HighValueCategories []string `yaml:"high_value_categories"`
}

type VerificationPolicy struct {
	ExpiryHours int `yaml:"expiry_hours"`
}

// ExpiryWindow returns the verification expiry as a duration.
func (v VerificationPolicy) ExpiryWindow() time.Duration {
	return time.Duration(v.ExpiryHours) * time.Hour
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		SLA: SLAPolicy{
			DefaultHours: map[string]int{
				"URGENT": 4,
				"HIGH":   24,
				"NORMAL": 72,
				"LOW":    168,
			},
		},
		Trust: TrustPolicy{InitialScore: 50},
		Routing: RoutingPolicy{
			HighValueThreshold:  500,
			HighValueCategories: []string{"ELECTRONICS", "JEWELRY"},
		},
		Verification:     VerificationPolicy{ExpiryHours: 72},
		MaxWriteAttempts: 3,
	}
}

// LoadPolicy reads a YAML policy file on top of DefaultPolicy. An empty path
// returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("config: read policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("config: parse policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate rejects policies that would break routing or SLA arithmetic.
func (p Policy) Validate() error {
	for _, priority := range []string{"URGENT", "HIGH", "NORMAL", "LOW"} {
		hours, ok := p.SLA.DefaultHours[priority]
		if !ok || hours <= 0 {
			return fmt.Errorf("config: sla default_hours.%s must be positive", priority)
		}
	}
	for kind, overrides := range p.SLA.KindOverrides {
		for priority, hours := range overrides {
			if hours <= 0 {
				return fmt.Errorf("config: sla kind_overrides.%s.%s must be positive", kind, priority)
			}
		}
	}
	if p.Trust.InitialScore < 0 || p.Trust.InitialScore > 100 {
		return fmt.Errorf("config: trust initial_score must be within [0,100]")
	}
	if p.Routing.HighValueThreshold <= 0 {
		return fmt.Errorf("config: routing high_value_threshold must be positive")
	}
	if p.Verification.ExpiryHours <= 0 {
		return fmt.Errorf("config: verification expiry_hours must be positive")
	}
	if p.MaxWriteAttempts <= 0 {
		return fmt.Errorf("config: max_write_attempts must be positive")
	}
	return nil
}
