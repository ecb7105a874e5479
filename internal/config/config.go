package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Logger   Logger   `mapstructure:"logger"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Quotes   Quotes   `mapstructure:"quotes"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Ledger holds the configuration for the position ledger.
type Ledger struct {
	// AllowShort permits sells that exceed the open lots, leaving a
	// negative net quantity. When false such writes are rejected.
	AllowShort bool `mapstructure:"allow_short"`
}

// Quotes holds the configuration for the market-quote client.
type Quotes struct {
	Enabled         bool    `mapstructure:"enabled"`
	BaseURL         string  `mapstructure:"base_url"`
	RateLimit       float64 `mapstructure:"rate_limit"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	RefreshInterval int     `mapstructure:"refresh_interval"` // seconds
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "ledger.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("ledger.allow_short", false)
	viper.SetDefault("quotes.enabled", false)
	viper.SetDefault("quotes.rate_limit", 5)       // requests per second
	viper.SetDefault("quotes.rate_limit_burst", 2) // burst size
	viper.SetDefault("quotes.refresh_interval", 300)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
