package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/schedule"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// DigitalOcean API
	APIToken string `mapstructure:"api-token"`
	APIURL   string `mapstructure:"api-url"`

	// Naming
	ImageNamespace   string `mapstructure:"image-namespace"`
	DropletNamespace string `mapstructure:"droplet-namespace"`
	DropletName      string `mapstructure:"droplet-name"`

	// Schedule
	RunHours string `mapstructure:"run-hours"`

	// Restore template
	Region  string   `mapstructure:"region"`
	Size    string   `mapstructure:"size"`
	SSHKeys []string `mapstructure:"ssh-keys"`
	IPv6    bool     `mapstructure:"ipv6"`

	// Timings
	PollInterval  time.Duration `mapstructure:"poll-interval"`
	ActionTimeout time.Duration `mapstructure:"action-timeout"`
	LockBackoff   time.Duration `mapstructure:"lock-backoff"`
	RetryBackoff  time.Duration `mapstructure:"retry-backoff"`

	// FSM configuration
	FSMDBPath     string `mapstructure:"fsm-db-path"`
	FSMMaxRetries int    `mapstructure:"fsm-max-retries"`

	// Journal and reports
	JournalPath     string `mapstructure:"journal-path"`
	ReportBucket    string `mapstructure:"report-bucket"`
	ReportPrefix    string `mapstructure:"report-prefix"`
	ReportRegion    string `mapstructure:"report-region"`
	ReportEndpoint  string `mapstructure:"report-endpoint"`
	ReportPathStyle bool   `mapstructure:"report-path-style"`

	// Serve mode
	ListenAddr string        `mapstructure:"listen-addr"`
	Interval   time.Duration `mapstructure:"interval"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// legacyEnv maps keys to the unprefixed variable names of older deployments.
var legacyEnv = map[string]string{
	"api-token":         "API_TOKEN",
	"image-namespace":   "IMAGE_NAMESPACE",
	"droplet-namespace": "DROPLET_NAMESPACE",
	"droplet-name":      "DROPLET_NAME",
}

const envPrefix = "DROPLET_SCHEDULER"

// SetDefaults registers every default on the global viper instance.
func SetDefaults() {
	viper.SetDefault("api-url", "https://api.digitalocean.com/")
	viper.SetDefault("run-hours", "")
	viper.SetDefault("region", "lon1")
	viper.SetDefault("size", "s-1vcpu-3gb")
	viper.SetDefault("ssh-keys", []string{})
	viper.SetDefault("ipv6", true)
	viper.SetDefault("poll-interval", 5*time.Second)
	viper.SetDefault("action-timeout", 120*time.Second)
	viper.SetDefault("lock-backoff", 15*time.Second)
	viper.SetDefault("retry-backoff", 15*time.Second)
	viper.SetDefault("fsm-db-path", "")
	viper.SetDefault("fsm-max-retries", 2)
	viper.SetDefault("journal-path", "")
	viper.SetDefault("report-bucket", "")
	viper.SetDefault("report-prefix", "reports")
	viper.SetDefault("report-region", "us-east-1")
	viper.SetDefault("report-endpoint", "")
	viper.SetDefault("report-path-style", false)
	viper.SetDefault("listen-addr", ":8080")
	viper.SetDefault("interval", time.Hour)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	SetDefaults()

	// Environment variables (DROPLET_SCHEDULER_API_TOKEN, etc.)
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Explicit bindings drop the prefix, so the prefixed name goes first.
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := viper.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.droplet-scheduler")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9:_\-.]+$`)

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("api-token cannot be empty")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api-url cannot be empty")
	}
	if c.ImageNamespace == "" {
		return fmt.Errorf("image-namespace cannot be empty")
	}
	if !namespacePattern.MatchString(c.ImageNamespace) {
		return fmt.Errorf("image-namespace %q contains invalid characters", c.ImageNamespace)
	}
	if c.DropletNamespace == "" {
		return fmt.Errorf("droplet-namespace cannot be empty")
	}
	if !namespacePattern.MatchString(c.DropletNamespace) {
		return fmt.Errorf("droplet-namespace %q contains invalid characters", c.DropletNamespace)
	}
	if c.DropletName == "" {
		return fmt.Errorf("droplet-name cannot be empty")
	}
	if _, err := schedule.ParseWindow(c.RunHours); err != nil {
		return fmt.Errorf("run-hours: %w", err)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("action-timeout must be positive")
	}
	if c.LockBackoff <= 0 {
		return fmt.Errorf("lock-backoff must be positive")
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry-backoff must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Window returns the parsed run-hours window.
func (c *Config) Window() (schedule.Window, error) {
	return schedule.ParseWindow(c.RunHours)
}
