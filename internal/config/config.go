package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Data    DataConfig    `mapstructure:"data"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// SessionConfig holds the stage timings not carried by the test
// definition itself.
type SessionConfig struct {
	StimulusSeconds int `mapstructure:"stimulus_seconds"`
	RevealSeconds   int `mapstructure:"reveal_seconds"`
	TickMillis      int `mapstructure:"tick_millis"`
}

// DataConfig holds the test-definition storage location.
type DataConfig struct {
	Directory string `mapstructure:"directory"`
}

// LoggingConfig holds settings for the rotating log file.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("session.stimulus_seconds", 5)
	v.SetDefault("session.reveal_seconds", 5)
	v.SetDefault("session.tick_millis", 1000)

	v.SetDefault("data.directory", "data")

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.max_size", 10) // MB
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7) // days
	v.SetDefault("logging.compress", true)
}

// Load reads config.yaml from the given directory, layered under
// LISTENTEST_-prefixed environment variables, and watches the file for
// changes.
func Load(configDir string, log *zap.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LISTENTEST") // e.g. LISTENTEST_SERVER_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// a missing file is fine; defaults and env vars apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("configuration file changed, reloading", zap.String("file", e.Name))
		if err := v.Unmarshal(cfg); err != nil {
			log.Error("error reloading configuration", zap.Error(err))
		}
	})

	return cfg, nil
}
