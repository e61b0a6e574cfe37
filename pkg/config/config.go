package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

// App holds application configuration.
type App struct {
	Name    string `mapstructure:"name" default:"stock-pulse"`
	Env     string `mapstructure:"env" default:"development"`
	Version string `mapstructure:"version" default:"0.1.0"`
}

// Logger holds logger configuration.
type Logger struct {
	Level    string `mapstructure:"level" default:"info"`
	Encoding string `mapstructure:"encoding" default:"json"`
}

// Database holds database configuration.
type Database struct {
	Host            string `mapstructure:"host" default:"localhost"`
	Port            int    `mapstructure:"port" default:"5432"`
	User            string `mapstructure:"user" default:"postgres"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name" default:"stockpulse"`
	SSLMode         string `mapstructure:"ssl_mode" default:"disable"`
	TimeZone        string `mapstructure:"time_zone" default:"UTC"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" default:"5"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" default:"20"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime" default:"30m"`
	LogLevel        string `mapstructure:"log_level" default:"warn"`
}

// Redis holds Redis configuration.
type Redis struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host" default:"localhost"`
	Port         int    `mapstructure:"port" default:"6379"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size" default:"10"`
	StreamMaxLen int64  `mapstructure:"stream_max_len" default:"10000"`
}

// API holds API server configuration.
type API struct {
	Host string `mapstructure:"host" default:"0.0.0.0"`
	Port int    `mapstructure:"port" default:"8080"`
}

// Telegram holds the alerting bot settings. An empty token disables alerts.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Load reads the YAML file at path (environment variables override it),
// applies `default` tags and unmarshals into config.
func Load(path string, config interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Println("Failed to read config file, falling back to defaults and environment variables")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return v.Unmarshal(config)
}
