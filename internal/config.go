package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type NovaBufConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir   string `mapstructure:"workdir"`
		BlockSize int    `mapstructure:"block_size"`
	} `mapstructure:"storage"`

	Buffer struct {
		Capacity         int           `mapstructure:"capacity"`
		MaxWait          time.Duration `mapstructure:"max_wait"`
		FlushParallelism int           `mapstructure:"flush_parallelism"`
	} `mapstructure:"buffer"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

const EnvPrefix = "NOVABUF"

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "novabuf")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.block_size", 4096)
	v.SetDefault("buffer.capacity", 8)
	v.SetDefault("buffer.max_wait", 10*time.Second)
	v.SetDefault("buffer.flush_parallelism", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance with defaults and NOVABUF_* env overrides
// (e.g. NOVABUF_BUFFER_CAPACITY).
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the yaml file at path on top of the defaults.
// An empty path loads defaults and environment only.
func LoadConfig(path string) (*NovaBufConfig, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a config and validates it.
func Decode(v *viper.Viper) (*NovaBufConfig, error) {
	var cfg NovaBufConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NovaBufConfig) Validate() error {
	if c.Storage.BlockSize <= 0 {
		return fmt.Errorf("config: storage.block_size must be positive, got %d", c.Storage.BlockSize)
	}
	if c.Buffer.Capacity <= 0 {
		return fmt.Errorf("config: buffer.capacity must be positive, got %d", c.Buffer.Capacity)
	}
	if c.Buffer.MaxWait <= 0 {
		return fmt.Errorf("config: buffer.max_wait must be positive, got %s", c.Buffer.MaxWait)
	}
	return nil
}
