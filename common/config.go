package common

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the engine knobs that are environment dependent. Fields a yaml file leaves out
// keep the values of DefaultConfig, and zero numeric fields are replaced by them too, so a partial
// yaml file is fine.
type Config struct {
	PoolSize         int  `yaml:"pool_size"`
	LogBufferSize    int  `yaml:"log_buffer_size"`
	LogTimeoutMillis int  `yaml:"log_timeout_ms"`
	BucketSize       int  `yaml:"bucket_size"`
	Strict2PL        bool `yaml:"strict_2pl"`
	Fsync            bool `yaml:"fsync"`
}

func DefaultConfig() Config {
	return Config{
		PoolSize:         DefaultPoolSize,
		LogBufferSize:    LogBufferSize,
		LogTimeoutMillis: int(LogTimeout / time.Millisecond),
		BucketSize:       BucketSize,
		Strict2PL:        true,
		Fsync:            true,
	}
}

func (c Config) LogTimeout() time.Duration {
	return time.Duration(c.LogTimeoutMillis) * time.Millisecond
}

// LoadConfig reads a yaml config file and fills unset fields with defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config file: %w", err)
	}

	c := DefaultConfig()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("could not parse config file: %w", err)
	}

	return c.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PoolSize == 0 {
		c.PoolSize = def.PoolSize
	}
	if c.LogBufferSize == 0 {
		c.LogBufferSize = def.LogBufferSize
	}
	if c.LogTimeoutMillis == 0 {
		c.LogTimeoutMillis = def.LogTimeoutMillis
	}
	if c.BucketSize == 0 {
		c.BucketSize = def.BucketSize
	}
	return c
}
