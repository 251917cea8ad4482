// Package config loads the twin gateway configuration from layered JSON or
// YAML files with SEMTWIN_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Twin persistence modes
const (
	PersistenceMemory = "memory"
	PersistenceKV     = "kv"
)

// DefaultEnvPrefix prefixes environment overrides
const DefaultEnvPrefix = "SEMTWIN"

// Config is the complete gateway configuration
type Config struct {
	Version string        `json:"version"`
	Gateway GatewayConfig `json:"gateway"`
	NATS    NATSConfig    `json:"nats"`
	Twin    TwinConfig    `json:"twin"`
	Rules   RulesConfig   `json:"rules"`
	Metrics MetricsConfig `json:"metrics"`
}

// GatewayConfig identifies this gateway
type GatewayConfig struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// NATSConfig defines the event bus connection. When disabled, data change
// events stay in process.
type NATSConfig struct {
	Enabled       bool          `json:"enabled"`
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	UpdateSubject string        `json:"update_subject,omitempty"`
	// UpdateRate caps update messages per second; 0 means unlimited
	UpdateRate    float64       `json:"update_rate,omitempty"`
	UpdateBurst   int           `json:"update_burst,omitempty"`
}

// TwinConfig selects where resource values are kept
type TwinConfig struct {
	Persistence string `json:"persistence"`
	Bucket      string `json:"bucket,omitempty"`
}

// RulesConfig sizes the rule whiteboard and lists derived rule files
type RulesConfig struct {
	Workers           int           `json:"workers"`
	QueueSize         int           `json:"queue_size"`
	MaxAttempts       int           `json:"max_attempts"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay,omitempty"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay,omitempty"`
	StopTimeout       time.Duration `json:"stop_timeout,omitempty"`
	Files             []string      `json:"files,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// durationPaths lists config keys holding durations, as section/key pairs
var durationPaths = [][2]string{
	{"nats", "reconnect_wait"},
	{"rules", "retry_initial_delay"},
	{"rules", "retry_max_delay"},
	{"rules", "stop_timeout"},
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Gateway.ID == "" {
		return errors.New("gateway.id is required")
	}
	if !isValidSubjectToken(c.Gateway.ID) {
		return fmt.Errorf("gateway.id %q is not valid in NATS subjects", c.Gateway.ID)
	}

	switch c.Twin.Persistence {
	case PersistenceMemory:
	case PersistenceKV:
		if !c.NATS.Enabled {
			return errors.New("twin.persistence=kv requires nats.enabled")
		}
		if c.Twin.Bucket == "" {
			return errors.New("twin.bucket is required for kv persistence")
		}
	default:
		return fmt.Errorf("twin.persistence %q must be %q or %q",
			c.Twin.Persistence, PersistenceMemory, PersistenceKV)
	}

	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required when nats is enabled")
	}
	if c.NATS.UpdateRate < 0 || c.NATS.UpdateBurst < 0 {
		return errors.New("nats.update_rate and nats.update_burst must not be negative")
	}

	if c.Rules.Workers < 1 {
		return errors.New("rules.workers must be at least 1")
	}
	if c.Rules.QueueSize < 1 {
		return errors.New("rules.queue_size must be at least 1")
	}
	if c.Rules.MaxAttempts < 1 {
		return errors.New("rules.max_attempts must be at least 1")
	}
	if c.Rules.RetryMaxDelay < c.Rules.RetryInitialDelay {
		return errors.New("rules.retry_max_delay must be >= rules.retry_initial_delay")
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	return nil
}

func isValidSubjectToken(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return s != ""
}

// String renders the config as JSON with credentials redacted
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// Loader merges file layers over defaults and applies env overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{validation: true, envPrefix: DefaultEnvPrefix}
}

// AddLayer appends a config file; later layers win
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation toggles validation in Load
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads defaults plus a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and environment overrides
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return &cfg, nil
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Version: "1.0.0",
		Gateway: GatewayConfig{ID: "gateway"},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			UpdateSubject: "twin.update",
		},
		Twin: TwinConfig{
			Persistence: PersistenceMemory,
			Bucket:      "TWIN_RESOURCES",
		},
		Rules: RulesConfig{
			Workers:           4,
			QueueSize:         1024,
			MaxAttempts:       6,
			RetryInitialDelay: 0,
			RetryMaxDelay:     0,
			StopTimeout:       10 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations rewrites duration strings ("250ms", "2d") to nanoseconds so
// they decode into time.Duration fields.
func parseDurations(raw map[string]any) error {
	for _, p := range durationPaths {
		section, ok := raw[p[0]].(map[string]any)
		if !ok {
			continue
		}
		s, ok := section[p[1]].(string)
		if !ok {
			continue
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", p[0], p[1], err)
		}
		section[p[1]] = d.Nanoseconds()
	}
	return nil
}

func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// deepMergeMaps merges override into base; nested maps merge, other values
// replace, nil values are skipped.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		return val, validateEnvVar(key, val)
	}

	type override struct {
		name  string
		apply func(string) error
	}
	overrides := []override{
		{"GATEWAY_ID", func(v string) error { cfg.Gateway.ID = v; return nil }},
		{"NATS_URLS", func(v string) error { cfg.NATS.URLs = strings.Split(v, ","); return nil }},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"NATS_ENABLED", func(v string) error {
			b, err := strconv.ParseBool(v)
			cfg.NATS.Enabled = b
			return err
		}},
		{"TWIN_PERSISTENCE", func(v string) error { cfg.Twin.Persistence = v; return nil }},
		{"RULES_WORKERS", func(v string) error {
			n, err := strconv.Atoi(v)
			cfg.Rules.Workers = n
			return err
		}},
		{"METRICS_PORT", func(v string) error {
			n, err := strconv.Atoi(v)
			cfg.Metrics.Port = n
			cfg.Metrics.Enabled = true
			return err
		}},
	}

	for _, o := range overrides {
		val, err := get(o.name)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		if err := o.apply(val); err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, o.name, err)
		}
	}
	return nil
}
