package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Source   SourceConfig   `mapstructure:"source"`
	Database DatabaseConfig `mapstructure:"database"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds bot transport settings
type TelegramConfig struct {
	Token        string  `mapstructure:"token"`
	AdminChatIDs []int64 `mapstructure:"admin_chat_ids"` // operator allowlist
}

// SourceConfig holds remote outage schedule settings
type SourceConfig struct {
	URL          string        `mapstructure:"url"`
	Place        string        `mapstructure:"place"` // place of interest to match in table rows
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	OnlyUpcoming bool          `mapstructure:"only_upcoming"` // drop rows whose start date is in the past
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // SQLite file path
}

// WatcherConfig holds observation cycle settings
type WatcherConfig struct {
	DefaultIntervalHours int `mapstructure:"default_interval_hours"` // used only when no persisted setting exists
}

// ReportsConfig holds report file settings
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
	Output string `mapstructure:"output"` // stdout or file path
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if present (ignore errors if not found)
	_ = godotenv.Load()
	_ = godotenv.Load(".env.local")

	v := viper.New()

	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".outage-watcher"))
		}
	}

	// Environment variables
	v.SetEnvPrefix("OUTAGE")
	v.AutomaticEnv()

	// Explicit bindings for nested keys (Viper doesn't auto-bind underscored nested keys)
	v.BindEnv("telegram.token", "OUTAGE_TELEGRAM_TOKEN")
	v.BindEnv("telegram.admin_chat_ids", "OUTAGE_TELEGRAM_ADMIN_CHAT_IDS")
	v.BindEnv("source.url", "OUTAGE_SOURCE_URL")
	v.BindEnv("source.place", "OUTAGE_SOURCE_PLACE")
	v.BindEnv("database.dsn", "OUTAGE_DATABASE_DSN")
	v.BindEnv("reports.dir", "OUTAGE_REPORTS_DIR")
	v.BindEnv("watcher.default_interval_hours", "OUTAGE_WATCHER_DEFAULT_INTERVAL_HOURS")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.dsn", "./data/subscriptions.db")

	// Source defaults
	v.SetDefault("source.fetch_timeout", "60s")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	v.SetDefault("source.only_upcoming", true)

	// Watcher defaults
	v.SetDefault("watcher.default_interval_hours", 6)

	// Reports defaults
	v.SetDefault("reports.dir", "./reports")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.Place == "" {
		return fmt.Errorf("source.place is required")
	}
	if h := c.Watcher.DefaultIntervalHours; h < 1 || h > 24 {
		return fmt.Errorf("watcher.default_interval_hours must be between 1 and 24, got %d", h)
	}
	return nil
}

// IsAdmin reports whether the given chat is in the operator allowlist
func (c *Config) IsAdmin(chatID int64) bool {
	for _, id := range c.Telegram.AdminChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
