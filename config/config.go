// Package config loads the engine's immutable configuration snapshot:
// connection settings, global batching/retry/concurrency knobs, and
// per-stream profiles (DN template, attribute mapping, object classes,
// dependency tier).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
)

// Encoding names for mapped attribute values. The encoding is part of the
// mapping configuration and is never inferred from the value.
const (
	EncodingString  = "string"
	EncodingInteger = "integer"
	EncodingBoolean = "boolean"
	EncodingEpoch   = "epoch"
	EncodingISO8601 = "iso8601"
)

// AttributeMapping maps one record field to a directory attribute.
type AttributeMapping struct {
	// Name is the target attribute name. Empty keeps the field's own name.
	Name string `json:"name"`
	// MultiValued forces list handling even for scalar source values.
	MultiValued bool `json:"multi_valued"`
	// Encoding selects value stringification: string (default), integer,
	// boolean, epoch (seconds since epoch to generalized time), iso8601
	// (passthrough).
	Encoding string `json:"encoding"`
	// Exclude drops the field entirely.
	Exclude bool `json:"exclude"`
}

// StreamConfig is the per-stream profile.
type StreamConfig struct {
	// Tier is the stream's dependency tier. All batches of tier n commit
	// before any batch of tier n+1 is flushed. A pointer so an explicit
	// tier 0 is distinguishable from unset when overriding a built-in
	// profile.
	Tier *int `json:"tier"`
	// RDNAttribute names the attribute forming the entry's RDN when no DN
	// template and no explicit dn field apply.
	RDNAttribute string `json:"rdn_attribute"`
	// DNTemplate is a format string over record fields plus {base}, e.g.
	// "uid={uid},ou=users,{base}".
	DNTemplate string `json:"dn_template"`
	// ObjectClasses is the default class set for entries of this stream.
	ObjectClasses []string `json:"object_classes"`
	// StructuralClasses lists the classes of which at least one must be
	// present on every non-delete entry.
	StructuralClasses []string `json:"structural_classes"`
	// RequiredAttributes must be present and non-empty on non-delete
	// entries.
	RequiredAttributes []string `json:"required_attributes"`
	// AttributeMap maps record field names to target attributes.
	AttributeMap map[string]AttributeMapping `json:"attribute_map"`
	// ExcludeFields drops record fields without needing a full mapping.
	ExcludeFields []string `json:"exclude_fields"`
	// AllowedAttributes is the strict-mode allow-list. Empty disables the
	// allow-list check even in strict mode.
	AllowedAttributes []string `json:"allowed_attributes"`
	// MultiValued names additional attributes that stay lists even with a
	// single value.
	MultiValued []string `json:"multi_valued"`
}

// TierValue returns the resolved dependency tier, zero when unset.
func (sc StreamConfig) TierValue() int {
	if sc.Tier == nil {
		return 0
	}
	return *sc.Tier
}

// Config is the full engine configuration, loaded once before processing
// begins and treated as immutable.
type Config struct {
	Host           string `json:"host"`
	Port           int    `json:"port" default:"389"`
	BindDN         string `json:"bind_dn"`
	Password       string `json:"password"`
	UseTLS         bool   `json:"use_tls"`
	TimeoutSeconds int    `json:"timeout_seconds" default:"30"`

	BaseDN string `json:"base_dn"`

	BatchSize          int `json:"batch_size" default:"100"`
	BatchMaxAgeSeconds int `json:"batch_max_age_seconds" default:"30"`

	MaxAttempts         int `json:"max_attempts" default:"3"`
	RetryInitialDelayMS int `json:"retry_initial_delay_ms" default:"100"`
	RetryMaxDelayMS     int `json:"retry_max_delay_ms" default:"5000"`

	// Concurrency bounds in-flight directory operations within one batch.
	Concurrency int `json:"concurrency" default:"4"`

	// StrictAttributes enables allow-list checking of attribute names.
	StrictAttributes bool `json:"strict_attributes"`

	// DryRun routes all writes to an in-memory directory.
	DryRun bool `json:"dry_run"`

	// MaxErrors aborts the run once this many permanent failures have
	// accumulated. 0 disables the breaker.
	MaxErrors int `json:"max_errors" default:"10"`

	// EnsureGroupMember injects a placeholder member into empty groups,
	// since groupOfNames requires at least one member.
	EnsureGroupMember *bool `json:"ensure_group_member" default:"true"`

	// StateDSN, when set, enables the Postgres bookmark store.
	StateDSN string `json:"state_dsn"`

	// MetricsListen, when set, serves /metrics and /stats on this address.
	MetricsListen string `json:"metrics_listen"`

	Streams map[string]StreamConfig `json:"streams"`
}

// Load reads the JSON config file, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides connection settings from LDAP_* environment
// variables, so credentials can stay out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("LDAP_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("LDAP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("LDAP_BIND_DN"); v != "" {
		c.BindDN = v
	}
	if v := os.Getenv("LDAP_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("LDAP_BASE_DN"); v != "" {
		c.BaseDN = v
	}
	if v := os.Getenv("LDAPSINK_STATE_DSN"); v != "" {
		c.StateDSN = v
	}
}

// Validate checks the configuration snapshot before any processing starts.
func (c *Config) Validate() error {
	if c.Host == "" && !c.DryRun {
		return fmt.Errorf("config: host is required")
	}
	if c.BaseDN == "" {
		return fmt.Errorf("config: base_dn is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max_attempts must be positive")
	}
	for name, sc := range c.Streams {
		if sc.Tier != nil && *sc.Tier < 0 {
			return fmt.Errorf("config: stream %s: tier must be >= 0", name)
		}
		for field, m := range sc.AttributeMap {
			switch m.Encoding {
			case "", EncodingString, EncodingInteger, EncodingBoolean, EncodingEpoch, EncodingISO8601:
			default:
				return fmt.Errorf("config: stream %s: field %s: unknown encoding %q", name, field, m.Encoding)
			}
		}
	}
	return nil
}

// GroupMemberPlaceholder reports whether empty groups get a placeholder
// member injected.
func (c *Config) GroupMemberPlaceholder() bool {
	return c.EnsureGroupMember == nil || *c.EnsureGroupMember
}

// Timeout returns the directory operation timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BatchMaxAge returns the maximum age of an open batch before it becomes
// eligible to flush.
func (c *Config) BatchMaxAge() time.Duration {
	return time.Duration(c.BatchMaxAgeSeconds) * time.Second
}
