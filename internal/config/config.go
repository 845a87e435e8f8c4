package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"regwatch-ai/backend/internal/logging"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	HTTP          struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Pipeline struct {
		Workers    int           `mapstructure:"workers"`
		RunTimeout time.Duration `mapstructure:"run_timeout"`
	} `mapstructure:"pipeline"`
	Auth struct {
		Issuer   string `mapstructure:"issuer"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// OracleConfig configures the reasoning oracle client.
type OracleConfig struct {
	Endpoint             string        `mapstructure:"endpoint"`
	Deployment           string        `mapstructure:"deployment"`
	APIVersion           string        `mapstructure:"api_version"`
	APIKey               string        `mapstructure:"api_key"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxTextChars         int           `mapstructure:"max_text_chars"`
	MaxConcurrent        int           `mapstructure:"max_concurrent"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second"`
}

// DispatchConfig configures delivery to the task-management webhook.
type DispatchConfig struct {
	WebhookURL           string        `mapstructure:"webhook_url"`
	WebhookSecret        string        `mapstructure:"webhook_secret"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	LedgerRetention      time.Duration `mapstructure:"ledger_retention"`
	OAuth2               struct {
		TokenURL     string   `mapstructure:"token_url"`
		ClientID     string   `mapstructure:"client_id"`
		ClientSecret string   `mapstructure:"client_secret"`
		Scopes       []string `mapstructure:"scopes"`
	} `mapstructure:"oauth2"`
}

// UsesDatabase reports whether a Postgres store is configured.
func (c *Config) UsesDatabase() bool {
	return c.DB.Host != ""
}

// DSN returns the pgx connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path searches for config.yaml in . and ./config; a missing file is
// not an error. Environment variables use the REGWATCH_ prefix, e.g.
// REGWATCH_ORACLE_API_KEY.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("regwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.Oracle.Endpoint = strings.TrimRight(strings.TrimSpace(config.Oracle.Endpoint), "/")
	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Pipeline.Workers <= 0:
		return errors.New("pipeline.workers must be positive")
	case c.Oracle.MaxConcurrent <= 0:
		return errors.New("oracle.max_concurrent must be positive")
	case c.Oracle.MaxTextChars <= 0:
		return errors.New("oracle.max_text_chars must be positive")
	case c.Oracle.MaxRetries < 0 || c.Dispatch.MaxRetries < 0:
		return errors.New("retry bounds must not be negative")
	case !logging.ValidLevel(c.Log.Level):
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 120*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("oracle.api_version", "2024-02-15-preview")
	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.max_text_chars", 15000)
	v.SetDefault("oracle.max_concurrent", 4)
	v.SetDefault("oracle.max_retries", 2)
	v.SetDefault("oracle.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("dispatch.timeout", 30*time.Second)
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("dispatch.ledger_retention", 24*time.Hour)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.run_timeout", 90*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("tls.hostnames", []string{"localhost", "127.0.0.1"})

	// Keys without defaults are bound explicitly so AutomaticEnv sees them
	// during Unmarshal.
	for _, key := range []string{
		"dev_mode_bypass", "db.host", "db.user", "db.password", "db.name",
		"oracle.endpoint", "oracle.deployment", "oracle.api_key", "oracle.requests_per_second",
		"dispatch.webhook_url", "dispatch.webhook_secret",
		"dispatch.oauth2.token_url", "dispatch.oauth2.client_id", "dispatch.oauth2.client_secret",
		"auth.issuer", "auth.client_id",
		"tls.enable", "tls.cert_file", "tls.key_file",
	} {
		_ = v.BindEnv(key)
	}
}

// normalizeIssuer removes any trailing slash so users can paste the issuer
// URL from their identity provider console as-is.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
