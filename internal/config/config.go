package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds process-level settings. Connection credentials and rules live
// in the credentials file and are managed at runtime by the config hub.
type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	CredentialsFile  string        `mapstructure:"credentials_file"`
	AckFile          string        `mapstructure:"ack_file"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	FetchLimit       int           `mapstructure:"fetch_limit"`
	WatchCredentials bool          `mapstructure:"watch_credentials"`

	Wazuh    WazuhConfig    `mapstructure:"wazuh"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	API      APIConfig      `mapstructure:"api"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type WazuhConfig struct {
	TokenWindow   time.Duration `mapstructure:"token_window"`
	AuthTimeout   time.Duration `mapstructure:"auth_timeout"`
	DataTimeout   time.Duration `mapstructure:"data_timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	HealthTTL     time.Duration `mapstructure:"health_ttl"`
	InsecureTLS   bool          `mapstructure:"insecure_tls"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type APIConfig struct {
	ListenAddr string  `mapstructure:"listen_addr"`
	AuthToken  string  `mapstructure:"auth_token"`
	RateLimit  float64 `mapstructure:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst"`
}

type GRPCConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type SlackConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	Channel     string `mapstructure:"channel"`
	MentionTeam string `mapstructure:"mention_team"`
}

type NotifyConfig struct {
	CacheSize   int    `mapstructure:"cache_size"`
	MinSeverity string `mapstructure:"min_severity"`
}

// legacyEnv binds keys to unprefixed variable names that deployments
// already export.
var legacyEnv = map[string]string{
	"database.url":     "DATABASE_URL",
	"nats.url":         "NATS_URL",
	"slack.bot_token":  "SLACK_BOT_TOKEN",
	"slack.channel":    "SLACK_CHANNEL_SECURITY",
	"api.auth_token":   "REST_API_AUTH_TOKEN",
	"grpc.listen_addr": "GRPC_LISTEN_ADDR",
	"log.level":        "LOG_LEVEL",
}

// Load reads .env (optional), then guardian.yaml from the working directory
// or the data directory (optional), then GUARDIAN_* environment variables.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "GUARDIAN_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("guardian")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.CredentialsFile = resolvePath(cfg.DataDir, cfg.CredentialsFile)
	cfg.AckFile = resolvePath(cfg.DataDir, cfg.AckFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("credentials_file", "guardian_config.json")
	v.SetDefault("ack_file", "acknowledged_alerts.txt")
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("flush_interval", 5*time.Minute)
	v.SetDefault("fetch_limit", 100)
	v.SetDefault("watch_credentials", true)

	v.SetDefault("wazuh.token_window", 3000*time.Second)
	v.SetDefault("wazuh.auth_timeout", 5*time.Second)
	v.SetDefault("wazuh.data_timeout", 10*time.Second)
	v.SetDefault("wazuh.health_timeout", 2*time.Second)
	v.SetDefault("wazuh.health_ttl", 10*time.Second)
	v.SetDefault("wazuh.insecure_tls", false)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)

	// Localhost only unless explicitly configured.
	v.SetDefault("api.listen_addr", "localhost:8080")
	v.SetDefault("api.auth_token", "")
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.rate_burst", 20)

	v.SetDefault("grpc.listen_addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.url", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "guardian.alerts")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.channel", "#security-alerts")
	v.SetDefault("slack.mention_team", "@security-team")

	v.SetDefault("notify.cache_size", 4096)
	v.SetDefault("notify.min_severity", "high")
}

// Validate rejects settings the console cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Wazuh.TokenWindow <= 0 {
		return fmt.Errorf("wazuh.token_window must be positive, got %s", c.Wazuh.TokenWindow)
	}
	if c.Wazuh.AuthTimeout <= 0 || c.Wazuh.DataTimeout <= 0 || c.Wazuh.HealthTimeout <= 0 {
		return errors.New("wazuh timeouts must be positive")
	}
	if c.FetchLimit <= 0 {
		return fmt.Errorf("fetch_limit must be positive, got %d", c.FetchLimit)
	}
	if c.CredentialsFile == "" || c.AckFile == "" {
		return errors.New("credentials_file and ack_file must be set")
	}
	return nil
}

// DefaultDataDir is %APPDATA%\Guardian on Windows and ~/.guardian elsewhere.
func DefaultDataDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Guardian")
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".guardian"
	}
	return filepath.Join(home, ".guardian")
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
