package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for depot-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Seed     SeedConfig     `yaml:"seed"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read    int `yaml:"read"`
	Write   int `yaml:"write"`
	Idle    int `yaml:"idle"`
	Request int `yaml:"request"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig controls the global per-client request limiter.
// MaxRequests are allowed per Window (e.g. "1m").
type RateLimitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Window      string `yaml:"window"`
	MaxRequests int    `yaml:"max_requests"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains Redis connection settings.
// Redis backs the failed-login throttle so limits hold across instances.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains authentication and authorization settings.
type SecurityConfig struct {
	JWT             JWTConfig             `yaml:"jwt"`
	Password        PasswordConfig        `yaml:"password"`
	PermissionCache PermissionCacheConfig `yaml:"permission_cache"`
	LoginThrottle   LoginThrottleConfig   `yaml:"login_throttle"`

	// SuperAdminRoles are role names that bypass office/branch scope checks
	// on routes that allow it.
	SuperAdminRoles []string `yaml:"super_admin_roles"`
}

// JWTConfig contains token settings. TTLs use the "<n><d|h|m|s>" format.
type JWTConfig struct {
	AccessSecret  string `yaml:"access_secret"`
	RefreshSecret string `yaml:"refresh_secret"`
	AccessTTL     string `yaml:"access_ttl"`
	RefreshTTL    string `yaml:"refresh_ttl"`
}

// PasswordConfig sizes the password hashing worker pool.
// Zero means one worker per CPU.
type PasswordConfig struct {
	Workers int `yaml:"workers"`
}

// PermissionCacheConfig controls the per-user permission cache.
type PermissionCacheConfig struct {
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// LoginThrottleConfig limits failed register/login attempts per client address.
type LoginThrottleConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxFailures int    `yaml:"max_failures"`
	Window      string `yaml:"window"`
}

// SeedConfig describes the bootstrap super admin created on first boot.
// An empty AdminPassword makes the first boot generate and print one.
type SeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AdminPhone    string `yaml:"admin_phone"`
	AdminPassword string `yaml:"admin_password"`
	OfficeName    string `yaml:"office_name"`
	OfficeCode    string `yaml:"office_code"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEPOT_SECTION_KEY
// For example: DEPOT_DATABASE_PATH, DEPOT_JWT_ACCESS_SECRET
//
// An empty path skips the file and builds the config from defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "depot",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:        "./data/depot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:    30,
				Write:   30,
				Idle:    60,
				Request: 15,
			},
			RateLimit: RateLimitConfig{
				Enabled:     true,
				Window:      "1m",
				MaxRequests: 100,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "depot-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "depot",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTTL:  "1h",
				RefreshTTL: "7d",
			},
			PermissionCache: PermissionCacheConfig{
				TTL:        "5m",
				MaxEntries: 10000,
			},
			LoginThrottle: LoginThrottleConfig{
				Enabled:     true,
				MaxFailures: 10,
				Window:      "15m",
			},
			SuperAdminRoles: []string{"SUPER_ADMIN", "ADMIN"},
		},
		Seed: SeedConfig{
			OfficeName: "Main Office",
			OfficeCode: "HQ-001",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEPOT_ENV"); v != "" {
		cfg.Service.Environment = v
	}

	// Database
	if v := os.Getenv("DEPOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("DEPOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DEPOT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("DEPOT_CORS_ORIGIN"); v != "" {
		cfg.API.CORS.AllowedOrigins = strings.Split(v, ",")
	}

	// MQTT
	if v := os.Getenv("DEPOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEPOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEPOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("DEPOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Redis
	if v := os.Getenv("DEPOT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DEPOT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Logging
	if v := os.Getenv("DEPOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - token secrets should always come from the environment in production
	if v := os.Getenv("DEPOT_JWT_ACCESS_SECRET"); v != "" {
		cfg.Security.JWT.AccessSecret = v
	}
	if v := os.Getenv("DEPOT_JWT_REFRESH_SECRET"); v != "" {
		cfg.Security.JWT.RefreshSecret = v
	}
	if v := os.Getenv("DEPOT_JWT_ACCESS_TTL"); v != "" {
		cfg.Security.JWT.AccessTTL = v
	}
	if v := os.Getenv("DEPOT_JWT_REFRESH_TTL"); v != "" {
		cfg.Security.JWT.RefreshTTL = v
	}

	// Seed
	if v := os.Getenv("DEPOT_SEED_ADMIN_PHONE"); v != "" {
		cfg.Seed.AdminPhone = v
	}
	if v := os.Getenv("DEPOT_SEED_ADMIN_PASSWORD"); v != "" {
		cfg.Seed.AdminPassword = v
	}
}

// minSecretLength is the shortest accepted HMAC signing secret.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Both secrets are required and must differ so that a leaked access
	// secret cannot mint refresh tokens.
	jwt := c.Security.JWT
	switch {
	case jwt.AccessSecret == "":
		errs = append(errs, "security.jwt.access_secret is required (set DEPOT_JWT_ACCESS_SECRET)")
	case len(jwt.AccessSecret) < minSecretLength:
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	switch {
	case jwt.RefreshSecret == "":
		errs = append(errs, "security.jwt.refresh_secret is required (set DEPOT_JWT_REFRESH_SECRET)")
	case len(jwt.RefreshSecret) < minSecretLength:
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if jwt.AccessSecret != "" && jwt.AccessSecret == jwt.RefreshSecret {
		errs = append(errs, "security.jwt.access_secret and refresh_secret must differ")
	}

	durations := []struct {
		name  string
		value string
	}{
		{"security.jwt.access_ttl", jwt.AccessTTL},
		{"security.jwt.refresh_ttl", jwt.RefreshTTL},
		{"security.permission_cache.ttl", c.Security.PermissionCache.TTL},
		{"security.login_throttle.window", c.Security.LoginThrottle.Window},
		{"api.rate_limit.window", c.API.RateLimit.Window},
	}
	for _, d := range durations {
		if _, err := ParseTTL(d.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", d.name, err))
		}
	}

	if c.Security.Password.Workers < 0 {
		errs = append(errs, "security.password.workers must not be negative")
	}
	if c.Security.LoginThrottle.Enabled && c.Security.LoginThrottle.MaxFailures < 1 {
		errs = append(errs, "security.login_throttle.max_failures must be at least 1")
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.MaxRequests < 1 {
		errs = append(errs, "api.rate_limit.max_requests must be at least 1")
	}

	if c.Seed.Enabled && c.Seed.AdminPhone == "" {
		errs = append(errs, "seed.admin_phone is required when seeding is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ttlPattern is the accepted duration format: an integer followed by one of d, h, m, s.
var ttlPattern = regexp.MustCompile(`^(\d+)([dhms])$`)

// ParseTTL converts a duration such as "7d", "1h", "15m" or "30s" to a time.Duration.
func ParseTTL(s string) (time.Duration, error) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q (want <n><d|h|m|s>)", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", s)
	}

	var unit time.Duration
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "h":
		unit = time.Hour
	case "m":
		unit = time.Minute
	default:
		unit = time.Second
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("invalid duration %q: too large", s)
	}
	return time.Duration(n) * unit, nil
}

// mustTTL parses a duration that Validate has already checked.
func mustTTL(s string) time.Duration {
	d, _ := ParseTTL(s) //nolint:errcheck // validated in Load
	return d
}

// AccessTTLDuration returns the access token lifetime.
func (c JWTConfig) AccessTTLDuration() time.Duration { return mustTTL(c.AccessTTL) }

// RefreshTTLDuration returns the refresh token lifetime.
func (c JWTConfig) RefreshTTLDuration() time.Duration { return mustTTL(c.RefreshTTL) }

// TTLDuration returns the permission cache entry lifetime.
func (c PermissionCacheConfig) TTLDuration() time.Duration { return mustTTL(c.TTL) }

// WindowDuration returns the failed-login counting window.
func (c LoginThrottleConfig) WindowDuration() time.Duration { return mustTTL(c.Window) }

// WindowDuration returns the rate limit window.
func (c RateLimitConfig) WindowDuration() time.Duration { return mustTTL(c.Window) }

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Service.Environment, "production")
}
