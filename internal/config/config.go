// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is constructed once
// at process start and passed by reference into each component's constructor;
// components never reach into a global.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Proxy       ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
	Provisioner ProvisionerConfig `mapstructure:"provisioner" yaml:"provisioner"`
	Ledger      LedgerConfig      `mapstructure:"ledger" yaml:"ledger"`
	Workflow    WorkflowConfig    `mapstructure:"workflow" yaml:"workflow"`
	OTP         OTPConfig         `mapstructure:"otp" yaml:"otp"`
	Captcha     CaptchaConfig     `mapstructure:"captcha" yaml:"captcha"`
	Paths       PathsConfig       `mapstructure:"paths" yaml:"paths"`

	// Run is populated from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for locally launched browser instances, used
// when no external provisioner is configured.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	CaptureDir        string        `mapstructure:"capture_dir" yaml:"capture_dir"`
}

// ProxyConfig describes the rotating egress gateway.
type ProxyConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	HostDomain     string `mapstructure:"host_domain" yaml:"host_domain"`
	Username       string `mapstructure:"username" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password"`
	PortRangeStart int    `mapstructure:"port_range_start" yaml:"port_range_start"`
	PortRangeEnd   int    `mapstructure:"port_range_end" yaml:"port_range_end"`
	// CountryTargeting switches between country-specific gateway hosts
	// (ua.<host_domain>) and username suffixes (user-<name>-country-ua).
	CountryTargeting string `mapstructure:"country_targeting" yaml:"country_targeting"`
}

// ProvisionerConfig configures the external browser-profile provisioning API.
type ProvisionerConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	LauncherURL string        `mapstructure:"launcher_url" yaml:"launcher_url"`
	APIURL      string        `mapstructure:"api_url" yaml:"api_url"`
	Email       string        `mapstructure:"email" yaml:"email"`
	Password    string        `mapstructure:"password" yaml:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BrowserType string        `mapstructure:"browser_type" yaml:"browser_type"`
	OSType      string        `mapstructure:"os_type" yaml:"os_type"`
	// RetryBudget bounds how often provisioning failures are retried before
	// they become fatal for the attempt.
	RetryBudget int `mapstructure:"retry_budget" yaml:"retry_budget"`
}

// LedgerConfig configures the resource ledger store.
type LedgerConfig struct {
	// Backend selects "file" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// PostgresURL is used when backend is "postgres".
	PostgresURL string `mapstructure:"postgres_url" yaml:"-"`
	// StaleReservationAge is the threshold after which an unresolved
	// Reserved entry is reclaimed to Available at startup.
	StaleReservationAge time.Duration `mapstructure:"stale_reservation_age" yaml:"stale_reservation_age"`
}

// WorkflowConfig tunes stage execution.
type WorkflowConfig struct {
	StageTimeout   time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
	StageRetries   int           `mapstructure:"stage_retries" yaml:"stage_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	// BackoffPolicy is "fixed" or "exponential".
	BackoffPolicy  string        `mapstructure:"backoff_policy" yaml:"backoff_policy"`
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`
	AttemptDelay   time.Duration `mapstructure:"attempt_delay" yaml:"attempt_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// OTPConfig controls the OTP wait stage.
type OTPConfig struct {
	// Mode is "prompt" (interactive) or "callback".
	Mode    string        `mapstructure:"mode" yaml:"mode"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// SkipToken is the input that counts as an explicit skip in prompt mode.
	SkipToken string `mapstructure:"skip_token" yaml:"skip_token"`
	// CallbackAddr is the listen address for code deliveries in callback mode.
	CallbackAddr string `mapstructure:"callback_addr" yaml:"callback_addr"`
}

// CaptchaConfig configures the optional challenge-solving hook.
type CaptchaConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	APIKey  string        `mapstructure:"api_key" yaml:"-"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PathsConfig locates the persisted state on disk.
type PathsConfig struct {
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	PoolFile    string `mapstructure:"pool_file" yaml:"pool_file"`
	LedgerFile  string `mapstructure:"ledger_file" yaml:"ledger_file"`
	AccountsDir string `mapstructure:"accounts_dir" yaml:"accounts_dir"`
}

// RunConfig holds settings populated from CLI flags for one invocation.
type RunConfig struct {
	Platform string
	Count    int
	Verbose  bool
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "enroll-cli")
	v.SetDefault("logger.log_file", "enroll.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.capture_dir", "./captures")

	// -- Proxy --
	v.SetDefault("proxy.host", "gate.decodo.com")
	v.SetDefault("proxy.host_domain", "decodo.com")
	v.SetDefault("proxy.port_range_start", 40001)
	v.SetDefault("proxy.port_range_end", 49999)
	v.SetDefault("proxy.country_targeting", "host")

	// -- Provisioner --
	v.SetDefault("provisioner.enabled", false)
	v.SetDefault("provisioner.launcher_url", "https://launcher.mlx.yt:45001")
	v.SetDefault("provisioner.api_url", "https://api.multilogin.com")
	v.SetDefault("provisioner.timeout", "60s")
	v.SetDefault("provisioner.browser_type", "mimic")
	v.SetDefault("provisioner.os_type", "windows")
	v.SetDefault("provisioner.retry_budget", 2)

	// -- Ledger --
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.stale_reservation_age", "30m")

	// -- Workflow --
	v.SetDefault("workflow.stage_timeout", "45s")
	v.SetDefault("workflow.stage_retries", 3)
	v.SetDefault("workflow.retry_backoff", "2s")
	v.SetDefault("workflow.backoff_policy", "exponential")
	v.SetDefault("workflow.concurrency", 1)
	v.SetDefault("workflow.attempt_delay", "5s")
	v.SetDefault("workflow.attempt_timeout", "10m")

	// -- OTP --
	v.SetDefault("otp.mode", "prompt")
	v.SetDefault("otp.timeout", "120s")
	v.SetDefault("otp.skip_token", "skip")
	v.SetDefault("otp.callback_addr", "127.0.0.1:8484")

	// -- Captcha --
	v.SetDefault("captcha.enabled", false)
	v.SetDefault("captcha.timeout", "120s")

	// -- Paths --
	v.SetDefault("paths.data_dir", "./data")
	v.SetDefault("paths.pool_file", "phones/pool.txt")
	v.SetDefault("paths.ledger_file", "state/ledger.json")
	v.SetDefault("paths.accounts_dir", "accounts")
}

// NewDefaultConfig creates a configuration populated with default values.
// Used by tests that do not exercise file or environment loading.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object,
// binding sensitive values from the environment and validating the result.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("provisioner.password", "ENROLL_PROVISIONER_PASSWORD")
	v.BindEnv("proxy.password", "ENROLL_PROXY_PASSWORD")
	v.BindEnv("ledger.postgres_url", "ENROLL_LEDGER_POSTGRES_URL")
	v.BindEnv("captcha.api_key", "ENROLL_CAPTCHA_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves the data dir against the home directory and anchors
// the relative state paths beneath it.
func (c *Config) expandPaths() error {
	dir, err := homedir.Expand(c.Paths.DataDir)
	if err != nil {
		return fmt.Errorf("failed to expand data_dir: %w", err)
	}
	c.Paths.DataDir = dir

	if !filepath.IsAbs(c.Paths.PoolFile) {
		c.Paths.PoolFile = filepath.Join(dir, c.Paths.PoolFile)
	}
	if !filepath.IsAbs(c.Paths.LedgerFile) {
		c.Paths.LedgerFile = filepath.Join(dir, c.Paths.LedgerFile)
	}
	if !filepath.IsAbs(c.Paths.AccountsDir) {
		c.Paths.AccountsDir = filepath.Join(dir, c.Paths.AccountsDir)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Workflow.Concurrency <= 0 {
		return fmt.Errorf("workflow.concurrency must be a positive integer")
	}
	if c.Workflow.StageRetries < 0 {
		return fmt.Errorf("workflow.stage_retries must not be negative")
	}
	switch c.Workflow.BackoffPolicy {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("workflow.backoff_policy must be \"fixed\" or \"exponential\"")
	}
	if c.Proxy.PortRangeStart > c.Proxy.PortRangeEnd {
		return fmt.Errorf("proxy.port_range_start must not exceed proxy.port_range_end")
	}
	switch c.Ledger.Backend {
	case "file":
	case "postgres":
		if c.Ledger.PostgresURL == "" {
			return fmt.Errorf("ledger.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("ledger.backend must be \"file\" or \"postgres\"")
	}
	switch c.OTP.Mode {
	case "prompt":
	case "callback":
		if c.OTP.CallbackAddr == "" {
			return fmt.Errorf("otp.callback_addr is required for callback mode")
		}
	default:
		return fmt.Errorf("otp.mode must be \"prompt\" or \"callback\"")
	}
	if c.Provisioner.Enabled {
		if c.Provisioner.Email == "" || c.Provisioner.Password == "" {
			return fmt.Errorf("provisioner.email and ENROLL_PROVISIONER_PASSWORD are required when the provisioner is enabled")
		}
	}
	return nil
}
