package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "XQUERY_"

type Config struct {
	ProjectRoot string    `mapstructure:"project_root"`
	Log         LogConfig `mapstructure:"log"`
	Server      Server    `mapstructure:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from defaults, the optional config file and
// XQUERY_* environment variables, in increasing priority. An empty file
// name skips the file.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetDefault("project_root", "")
	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", ":8080")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", file, err)
			}
		}
	}

	// XQUERY_LOG_LEVEL -> log.level; XQUERY_PROJECT_ROOT -> project_root
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		propKey := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if propKey != "project_root" {
			propKey = strings.Replace(propKey, "_", ".", 1)
		}
		v.Set(propKey, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.ProjectRoot = wd
	}
	return &cfg, nil
}
