// ABOUTME: Configuration loading and parsing for gatekeeper
// ABOUTME: Supports YAML (with environment variable expansion) or TOML files and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/gatekeeper/internal/acl"
	"github.com/2389/gatekeeper/internal/auth"
	"github.com/2389/gatekeeper/internal/cache"
	"github.com/2389/gatekeeper/internal/hawk"
	"github.com/2389/gatekeeper/internal/nonce"
	"github.com/2389/gatekeeper/internal/store"
	"github.com/2389/gatekeeper/internal/users"
)

// Config represents the complete gatekeeper configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Hawk     HawkConfig     `yaml:"hawk" toml:"hawk"`
	Basic    BasicConfig    `yaml:"basic" toml:"basic"`
	JWT      JWTConfig      `yaml:"jwt" toml:"jwt"`
	Users    UsersConfig    `yaml:"users" toml:"users"`
	ACL      ACLConfig      `yaml:"acl" toml:"acl"`
	Cache    CacheConfig    `yaml:"cache" toml:"cache"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Routes   []RouteConfig  `yaml:"routes" toml:"routes"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr enables the gRPC listener when set.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	// ErrorFormat selects text or json bodies for 401, 403 and 404 responses.
	ErrorFormat string `yaml:"error_format" toml:"error_format"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig selects the relational backend shared by nonce, users, and acl
type DatabaseConfig struct {
	Driver store.Driver `yaml:"driver" toml:"driver"`
	DSN    string       `yaml:"dsn" toml:"dsn"`
}

// Enabled reports whether a database was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// AuthConfig lists the accepted authentication mechanisms in challenge order
type AuthConfig struct {
	Mechanisms []auth.Mechanism `yaml:"mechanisms" toml:"mechanisms"`
}

// Accepts reports whether m is configured.
func (a AuthConfig) Accepts(m auth.Mechanism) bool {
	for _, c := range a.Mechanisms {
		if c == m {
			return true
		}
	}
	return false
}

// HawkConfig holds Hawk verifier and nonce store settings
type HawkConfig struct {
	Algorithms    []string      `yaml:"algorithms" toml:"algorithms"`
	Disclose      bool          `yaml:"disclose" toml:"disclose"`
	Backend       nonce.Backend `yaml:"backend" toml:"backend"`
	NonceDir      string        `yaml:"nonce_dir" toml:"nonce_dir"`
	NonceTable    string        `yaml:"nonce_table" toml:"nonce_table"`
	SignResponses bool          `yaml:"sign_responses" toml:"sign_responses"`
	// MaxBodyBytes caps the body read for payload hashing. Zero uses the dispatcher default.
	MaxBodyBytes int64 `yaml:"max_body_bytes" toml:"max_body_bytes"`

	Expire    time.Duration `yaml:"-" toml:"-"`
	ExpireRaw string        `yaml:"expire" toml:"expire"`
}

// BasicConfig holds Basic authentication settings
type BasicConfig struct {
	Realm     string          `yaml:"realm" toml:"realm"`
	Disclose  bool            `yaml:"disclose" toml:"disclose"`
	Directory DirectoryConfig `yaml:"directory" toml:"directory"`
}

// DirectoryConfig delegates Basic password checks to an LDAP bind
type DirectoryConfig struct {
	URL                string `yaml:"url" toml:"url"`
	BindDNTemplate     string `yaml:"bind_dn_template" toml:"bind_dn_template"`
	StartTLS           bool   `yaml:"start_tls" toml:"start_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// Enabled reports whether a directory was configured.
func (d DirectoryConfig) Enabled() bool {
	return d.URL != ""
}

// JWTConfig holds bearer token validation settings
type JWTConfig struct {
	// Claims required in addition to sub, exp, and iat. Nil means aud and iss.
	Claims    []string `yaml:"claims" toml:"claims"`
	Audiences []string `yaml:"aud" toml:"aud"`
	Issuers   []string `yaml:"iss" toml:"iss"`
	// Grace is kept raw; a non-integer value is logged and treated as zero.
	Grace    any  `yaml:"grace" toml:"grace"`
	Disclose bool `yaml:"disclose" toml:"disclose"`
}

// UsersConfig selects where principals come from
type UsersConfig struct {
	Backend    users.Backend     `yaml:"backend" toml:"backend"`
	Dir        string            `yaml:"dir" toml:"dir"`
	Table      string            `yaml:"table" toml:"table"`
	IDColumn   string            `yaml:"id_column" toml:"id_column"`
	KeyColumns map[string]string `yaml:"key_columns" toml:"key_columns"`
	Static     map[string]string `yaml:"static" toml:"static"`
}

// ACLConfig holds access control settings
type ACLConfig struct {
	Enable        bool        `yaml:"enable" toml:"enable"`
	Backend       acl.Backend `yaml:"backend" toml:"backend"`
	DefaultPolicy acl.Policy  `yaml:"default_policy" toml:"default_policy"`
	Dir           string      `yaml:"dir" toml:"dir"`
	RoleTable     string      `yaml:"role_table" toml:"role_table"`
	InheritTable  string      `yaml:"inherit_table" toml:"inherit_table"`
	ResourceTable string      `yaml:"resource_table" toml:"resource_table"`
	RuleTable     string      `yaml:"rule_table" toml:"rule_table"`
}

// Tables returns the configured ACL table names.
func (a ACLConfig) Tables() acl.Tables {
	return acl.Tables{
		Roles:     a.RoleTable,
		Inherits:  a.InheritTable,
		Resources: a.ResourceTable,
		Rules:     a.RuleTable,
	}
}

// CacheBackend identifies the shared cache implementation.
type CacheBackend int

const (
	CacheNone CacheBackend = iota
	CacheMemory
	CacheLevelDB
)

// ParseCacheBackend maps a configured name to a CacheBackend.
func ParseCacheBackend(name string) (CacheBackend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CacheNone, nil
	case "memory":
		return CacheMemory, nil
	case "leveldb":
		return CacheLevelDB, nil
	default:
		return 0, fmt.Errorf("unknown cache backend: %q", name)
	}
}

func (b CacheBackend) String() string {
	switch b {
	case CacheNone:
		return "none"
	case CacheMemory:
		return "memory"
	case CacheLevelDB:
		return "leveldb"
	default:
		return "unknown"
	}
}

// UnmarshalText lets CacheBackend be decoded from YAML and TOML.
func (b *CacheBackend) UnmarshalText(text []byte) error {
	parsed, err := ParseCacheBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// CacheConfig holds the shared cache settings
type CacheConfig struct {
	Backend    CacheBackend `yaml:"backend" toml:"backend"`
	Path       string       `yaml:"path" toml:"path"`
	MaxEntries int          `yaml:"max_entries" toml:"max_entries"`
	Prefix     string       `yaml:"prefix" toml:"prefix"`
	// Parts lists which loaders use the cache (acl, users). Empty means all.
	Parts []string `yaml:"parts" toml:"parts"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// File enables rotated file output in addition to stderr.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// RouteConfig maps an HTTP route to the ACL resource guarding it
type RouteConfig struct {
	Method     string `yaml:"method" toml:"method"`
	Path       string `yaml:"path" toml:"path"`
	Controller string `yaml:"controller" toml:"controller"`
	Action     string `yaml:"action" toml:"action"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML; anything else as YAML, with
// environment variables in the format ${VAR_NAME} expanded first.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = store.DriverSQLite
	}
	if len(c.Hawk.Algorithms) == 0 {
		c.Hawk.Algorithms = []string{hawk.DefaultAlgorithm}
	}
	if c.Hawk.Expire == 0 {
		c.Hawk.Expire = nonce.DefaultExpire
	}
	if c.ACL.DefaultPolicy == "" {
		c.ACL.DefaultPolicy = acl.Deny
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "gatekeeper"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.ErrorFormat == "" {
		c.Server.ErrorFormat = "text"
	}
}

// CacheParts returns the loaders that should use the shared cache.
func (c *Config) CacheParts() (cache.Parts, error) {
	return cache.ParseParts(c.Cache.Parts)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	switch c.Server.ErrorFormat {
	case "text", "json":
	default:
		return fmt.Errorf("server.error_format must be text or json, got %q", c.Server.ErrorFormat)
	}

	if len(c.Auth.Mechanisms) == 0 {
		return errors.New("auth.mechanisms requires at least one of hawk, basic, bearer")
	}
	seen := make(map[auth.Mechanism]bool)
	for _, m := range c.Auth.Mechanisms {
		if m == auth.MechanismNone {
			return errors.New("auth.mechanisms contains an empty entry")
		}
		if seen[m] {
			return fmt.Errorf("auth.mechanisms lists %s twice", m)
		}
		seen[m] = true
	}

	switch c.Database.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Auth.Accepts(auth.MechanismHawk) {
		for _, alg := range c.Hawk.Algorithms {
			if !hawk.Supported(alg) {
				return fmt.Errorf("hawk.algorithms: unsupported algorithm %q", alg)
			}
		}
		if c.Hawk.Expire < 0 {
			return errors.New("hawk.expire must not be negative")
		}
		if c.Hawk.MaxBodyBytes < 0 {
			return errors.New("hawk.max_body_bytes must not be negative")
		}
		switch c.Hawk.Backend {
		case nonce.BackendFile:
			if c.Hawk.NonceDir == "" {
				return errors.New("hawk.nonce_dir is required for the file nonce backend")
			}
		case nonce.BackendDatabase:
			if !c.Database.Enabled() {
				return errors.New("hawk.backend 'database' requires database.dsn")
			}
		case nonce.BackendCache:
			if c.Cache.Backend == CacheNone {
				return errors.New("hawk.backend 'cache' requires cache.backend")
			}
		}
	}

	if c.Auth.Accepts(auth.MechanismBasic) && c.Basic.Directory.Enabled() {
		d := c.Basic.Directory
		if !strings.HasPrefix(d.URL, "ldap://") && !strings.HasPrefix(d.URL, "ldaps://") {
			return fmt.Errorf("basic.directory.url must be ldap:// or ldaps://, got %q", d.URL)
		}
		if strings.Count(d.BindDNTemplate, "%s") != 1 {
			return errors.New("basic.directory.bind_dn_template must contain exactly one %s")
		}
		if d.StartTLS && strings.HasPrefix(d.URL, "ldaps://") {
			return errors.New("basic.directory.start_tls cannot be used with ldaps://")
		}
	}

	switch c.Users.Backend {
	case users.BackendFile:
		if c.Users.Dir == "" {
			return errors.New("users.dir is required for the file users backend")
		}
	case users.BackendConfig:
		if len(c.Users.Static) == 0 {
			return errors.New("users.static is required for the config users backend")
		}
	case users.BackendDatabase:
		if !c.Database.Enabled() {
			return errors.New("users.backend 'database' requires database.dsn")
		}
	}

	if c.ACL.Enable {
		if _, err := acl.ParsePolicy(string(c.ACL.DefaultPolicy)); err != nil {
			return fmt.Errorf("acl.default_policy: %w", err)
		}
		switch c.ACL.Backend {
		case acl.BackendFile:
			if c.ACL.Dir == "" {
				return errors.New("acl.dir is required for the file acl backend")
			}
		case acl.BackendDatabase:
			if !c.Database.Enabled() {
				return errors.New("acl.backend 'database' requires database.dsn")
			}
		}
	}

	if c.Cache.Backend == CacheLevelDB && c.Cache.Path == "" {
		return errors.New("cache.path is required for the leveldb cache backend")
	}
	if _, err := c.CacheParts(); err != nil {
		return fmt.Errorf("cache.parts: %w", err)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	for i, r := range c.Routes {
		if r.Path == "" || r.Controller == "" || r.Action == "" {
			return fmt.Errorf("routes[%d]: path, controller and action are required", i)
		}
		switch strings.ToUpper(r.Method) {
		case "", http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions:
		default:
			return fmt.Errorf("routes[%d]: unsupported method %q", i, r.Method)
		}
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("routes[%d]: path must start with /", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Hawk.ExpireRaw != "" {
		cfg.Hawk.Expire, err = parseDuration(cfg.Hawk.ExpireRaw)
		if err != nil {
			return fmt.Errorf("parsing hawk.expire %q: %w", cfg.Hawk.ExpireRaw, err)
		}
	}

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = parseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Basic.Directory.TimeoutRaw != "" {
		cfg.Basic.Directory.Timeout, err = parseDuration(cfg.Basic.Directory.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing basic.directory.timeout %q: %w", cfg.Basic.Directory.TimeoutRaw, err)
		}
	}

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = parseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing server.shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
