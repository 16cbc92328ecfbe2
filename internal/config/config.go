// Package config loads the vmux command configuration from defaults,
// an optional YAML file and VMUX_* environment variables.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the complete command configuration.
type Config struct {
	Log Log `mapstructure:"log"`
	Mux Mux `mapstructure:"mux"`
}

// Log configures the command logger. An empty File logs to
// stderr only.
type Log struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Mux holds the muxing defaults used when a flag is not given.
type Mux struct {
	Format    string            `mapstructure:"format"`
	Faststart bool              `mapstructure:"faststart"`
	Delay     int               `mapstructure:"delay"`
	FrameRate int               `mapstructure:"frame_rate"`
	Options   map[string]string `mapstructure:"options"`
}

var searchPaths = []string{
	".",
	"$HOME/.vmux",
	"/etc/vmux",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("mux.format", "")
	v.SetDefault("mux.faststart", false)
	v.SetDefault("mux.delay", 0)
	v.SetDefault("mux.frame_rate", 30)
	v.SetDefault("mux.options", map[string]string{})
}

// Load reads the configuration. When path is empty, vmux.yaml is
// searched in the working directory, $HOME/.vmux and /etc/vmux, and
// a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vmux")
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(os.ExpandEnv(p))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Mux.FrameRate <= 0 {
		return errors.Errorf("mux.frame_rate must be positive, got %d", c.Mux.FrameRate)
	}
	if c.Mux.Delay < 0 {
		return errors.Errorf("mux.delay must not be negative, got %d", c.Mux.Delay)
	}
	if c.Log.MaxSize < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAge < 0 {
		return errors.New("log rotation limits must not be negative")
	}
	return nil
}
