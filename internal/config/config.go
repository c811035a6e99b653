package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Log         struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		Issuer       string `mapstructure:"issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
		DevBypass    bool   `mapstructure:"dev_bypass"`
	} `mapstructure:"auth"`
	Notifier struct {
		URL             string `mapstructure:"url"`
		MaxRetries      int    `mapstructure:"max_retries"`
		RetryIntervalMS int    `mapstructure:"retry_interval_ms"`
	} `mapstructure:"notifier"`
	Worker struct {
		PollIntervalSeconds    int `mapstructure:"poll_interval_seconds"`
		BatchSize              int `mapstructure:"batch_size"`
		ClaimWindowSeconds     int `mapstructure:"claim_window_seconds"`
		StepTimeoutSeconds     int `mapstructure:"step_timeout_seconds"`
		MaxStepAttempts        int `mapstructure:"max_step_attempts"`
		TriggerLookbackSeconds int `mapstructure:"trigger_lookback_seconds"`
	} `mapstructure:"worker"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// PollInterval returns the worker poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}

// ClaimWindow returns the anti-tight-loop claim window as a duration.
func (c *Config) ClaimWindow() time.Duration {
	return time.Duration(c.Worker.ClaimWindowSeconds) * time.Second
}

// StepTimeout returns the per-step processing timeout as a duration.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Worker.StepTimeoutSeconds) * time.Second
}

// TriggerLookback returns how far back event triggers scan for new entities.
func (c *Config) TriggerLookback() time.Duration {
	return time.Duration(c.Worker.TriggerLookbackSeconds) * time.Second
}

// LoadConfig loads the configuration from a file and the environment. When
// path is empty the usual search locations are used.
func LoadConfig(path string) (*Config, error) {
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("BARKBASE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize the OIDC issuer so Cognito console values can be pasted
	// verbatim (strip any trailing slash).
	config.Auth.Issuer = strings.TrimRight(strings.TrimSpace(config.Auth.Issuer), "/")

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "DEV")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "postgres")
	viper.SetDefault("db.name", "barkbase")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("notifier.max_retries", 3)
	viper.SetDefault("notifier.retry_interval_ms", 500)
	viper.SetDefault("worker.poll_interval_seconds", 5)
	viper.SetDefault("worker.batch_size", 25)
	viper.SetDefault("worker.claim_window_seconds", 1)
	viper.SetDefault("worker.step_timeout_seconds", 30)
	viper.SetDefault("worker.max_step_attempts", 3)
	viper.SetDefault("worker.trigger_lookback_seconds", 600)
}
