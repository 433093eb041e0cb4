package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Admin       AdminConfig     `mapstructure:"admin"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Keys        KeysConfig      `mapstructure:"keys"`
	Blacklist   BlacklistConfig `mapstructure:"blacklist"`
	Progress    ProgressConfig  `mapstructure:"progress"`
	Funnel      FunnelConfig    `mapstructure:"funnel"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Elastic     ElasticConfig   `mapstructure:"elastic"`
	NewRelic    NewRelicConfig  `mapstructure:"newrelic"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Payment     PaymentConfig   `mapstructure:"payment"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	Mode           string        `mapstructure:"mode"` // debug, release, test
	Timeout        time.Duration `mapstructure:"timeout"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig holds the shared secret guarding the admin console
type AdminConfig struct {
	Secret      string `mapstructure:"secret"`
	SecretParam string `mapstructure:"secret_param"`
}

// StorageConfig selects the record store backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // file, redis, sqlite, postgres
	Dir    string `mapstructure:"dir"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// KeysConfig holds access key defaults
type KeysConfig struct {
	Prefix          string        `mapstructure:"prefix"`
	DefaultMaxUsers int           `mapstructure:"default_max_users"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// BlacklistConfig controls Gate escalations
type BlacklistConfig struct {
	BypassReason   string `mapstructure:"bypass_reason"`
	BypassDuration string `mapstructure:"bypass_duration"` // "permanent", hours, or a Go duration
}

// ProgressConfig controls the progress reaper
type ProgressConfig struct {
	Retention    time.Duration `mapstructure:"retention"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// StepConfig describes one funnel step
type StepConfig struct {
	Name         string `mapstructure:"name"`
	Path         string `mapstructure:"path"`
	AffiliateURL string `mapstructure:"affiliate_url"`
}

// FunnelConfig describes the ordered checkpoint funnel
type FunnelConfig struct {
	ReferrerDomains []string     `mapstructure:"referrer_domains"`
	Steps           []StepConfig `mapstructure:"steps"`
	BlockedPath     string       `mapstructure:"blocked_path"`
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	QueueName        string `mapstructure:"queue_name"`
}

// NotifyConfig holds the outbound notification channels
type NotifyConfig struct {
	WebhookURL string           `mapstructure:"webhook_url"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	ServiceBus ServiceBusConfig `mapstructure:"servicebus"`
}

// ElasticConfig holds Elasticsearch configuration
type ElasticConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Index    string `mapstructure:"index"`
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PaymentConfig holds the payment webhook secret
type PaymentConfig struct {
	Secret string `mapstructure:"secret"`
}

// LoadConfig reads configuration from file or environment variables.
// An empty cfgFile searches the default locations.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/keygate")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Enable environment variables to override config
	// For example, KEYGATE_ADMIN_SECRET will override admin.secret
	v.SetEnvPrefix("KEYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		// Continue without a file - defaults and ENV vars still apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks invariants viper cannot express
func (c Config) Validate() error {
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server mode %q", c.Server.Mode)
	}
	switch c.Storage.Driver {
	case "file", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for the postgres driver")
	}
	// the entry step is ungated, so the key needs at least one step after it
	if len(c.Funnel.Steps) < 2 {
		return fmt.Errorf("funnel.steps must name an entry step and at least one more")
	}
	names := make(map[string]bool, len(c.Funnel.Steps))
	paths := make(map[string]bool, len(c.Funnel.Steps))
	for _, s := range c.Funnel.Steps {
		if s.Name == "" || !strings.HasPrefix(s.Path, "/") {
			return fmt.Errorf("funnel step %q needs a name and an absolute path", s.Name)
		}
		if c.reservedPath(s.Path) {
			return fmt.Errorf("funnel step %q uses reserved path %s", s.Name, s.Path)
		}
		if names[s.Name] || paths[s.Path] {
			return fmt.Errorf("duplicate funnel step %q (%s)", s.Name, s.Path)
		}
		names[s.Name] = true
		paths[s.Path] = true
	}
	if c.Keys.DefaultMaxUsers < 1 {
		return fmt.Errorf("keys.default_max_users must be positive")
	}
	if c.Keys.DefaultTTL <= 0 {
		return fmt.Errorf("keys.default_ttl must be positive")
	}
	return nil
}

// reservedPaths are served by the fixed routes and cannot host a funnel step
var reservedPaths = []string{
	"/",
	"/script-info",
	"/reset-key",
	"/verify-key",
	"/get-notifications",
	"/clear-notifications",
	"/payments/confirm",
	"/health",
	"/metrics",
}

func (c Config) reservedPath(path string) bool {
	if path == c.Funnel.BlockedPath || path == "/admin" || strings.HasPrefix(path, "/admin/") {
		return true
	}
	for _, p := range reservedPaths {
		if path == p {
			return true
		}
	}
	return false
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Core settings
	v.SetDefault("environment", "development")
	v.SetDefault("server.address", "0.0.0.0:3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("server.trusted_proxies", []string{})

	// Logging settings
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Admin settings - no default secret, the console stays closed until one is set
	v.SetDefault("admin.secret", "")
	v.SetDefault("admin.secret_param", "access_code")

	// Storage settings
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.dsn", "")

	// Redis settings
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "keygate")

	// Key settings
	v.SetDefault("keys.prefix", "TheBasement_")
	v.SetDefault("keys.default_max_users", 2)
	v.SetDefault("keys.default_ttl", "24h")
	v.SetDefault("keys.sweep_interval", "15m")

	// Blacklist settings
	v.SetDefault("blacklist.bypass_reason", "bypass attempt")
	v.SetDefault("blacklist.bypass_duration", "permanent")

	// Progress settings
	v.SetDefault("progress.retention", "24h")
	v.SetDefault("progress.reap_interval", "1h")

	// Funnel settings
	v.SetDefault("funnel.referrer_domains", []string{"linkvertise.com"})
	v.SetDefault("funnel.blocked_path", "/blocked")
	v.SetDefault("funnel.steps", []map[string]interface{}{
		{"name": "checkpoint1", "path": "/start", "affiliate_url": "https://link-center.net/1203734/the-basement-key1"},
		{"name": "checkpoint2", "path": "/checkpoint2", "affiliate_url": "https://link-target.net/1203734/key"},
		{"name": "key", "path": "/key", "affiliate_url": ""},
	})

	// Notification settings
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("notify.servicebus.connection_string", "")
	v.SetDefault("notify.servicebus.queue_name", "keygate-notifications")

	// Elasticsearch settings
	v.SetDefault("elastic.enabled", false)
	v.SetDefault("elastic.url", "http://localhost:9200")
	v.SetDefault("elastic.username", "")
	v.SetDefault("elastic.password", "")
	v.SetDefault("elastic.index", "keygate-audit")

	// New Relic settings
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("newrelic.app_name", "Keygate")
	v.SetDefault("newrelic.license_key", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("payment.secret", "")
}
