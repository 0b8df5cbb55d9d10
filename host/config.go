package host

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config controls a benchmark run. Values come from, in increasing priority: defaults,
// an optional YAML file, BMT_* environment variables and command line flags.
type Config struct {
	BatchSize     int       `mapstructure:"batch_size"`
	WarmupBatches int       `mapstructure:"warmup_batches"`
	Limit         int       `mapstructure:"limit"`
	KeepGoing     bool      `mapstructure:"keep_going"`
	Extensions    []string  `mapstructure:"extensions"`
	LabelsPath    string    `mapstructure:"labels"`
	OutputPath    string    `mapstructure:"output"`
	MetricsPath   string    `mapstructure:"metrics_output"`
	Log           LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch_size", 1)
	v.SetDefault("warmup_batches", 0)
	v.SetDefault("limit", 0)
	v.SetDefault("keep_going", false)
	v.SetDefault("extensions", []string{".jpg", ".jpeg", ".png"})
	v.SetDefault("labels", "")
	v.SetDefault("output", "")
	v.SetDefault("metrics_output", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadConfig reads configPath when it is not empty and overlays BMT_* environment variables,
// e.g. BMT_BATCH_SIZE or BMT_LOG_LEVEL.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BMT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ErrInvalidConfig wraps every Validate failure, whichever source the bad value came from.
var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.WarmupBatches < 0 {
		return fmt.Errorf("%w: warmup batches cannot be negative, got %d", ErrInvalidConfig, c.WarmupBatches)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit cannot be negative, got %d", ErrInvalidConfig, c.Limit)
	}
	return nil
}
