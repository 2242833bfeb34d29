package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Store        StoreConfig        `mapstructure:"store"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Location     LocationConfig     `mapstructure:"location"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Device       DeviceConfig       `mapstructure:"device"`
	Log          LogConfig          `mapstructure:"log"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type BackendConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ExtendedTimeout time.Duration `mapstructure:"extended_timeout"`
	Token           string        `mapstructure:"token"`
}

type StoreConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type LocationConfig struct {
	SignificantDistanceMeters float64       `mapstructure:"significant_distance_m"`
	HighAccuracy              bool          `mapstructure:"high_accuracy"`
	Timeout                   time.Duration `mapstructure:"timeout"`
	MaximumAge                time.Duration `mapstructure:"maximum_age"`
}

type MonitorConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	SearchRadiusMeters float64       `mapstructure:"search_radius_m"`
	AutoStart          bool          `mapstructure:"auto_start"`
}

type QueueConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DeviceConfig drives the simulated location source
type DeviceConfig struct {
	Route    string        `mapstructure:"route"`
	SpeedMPS float64       `mapstructure:"speed_mps"`
	Tick     time.Duration `mapstructure:"tick"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// EnvPrefix prefixes every environment override, e.g. FLOODWATCH_STORE_URL
const EnvPrefix = "FLOODWATCH"

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("backend.url", "http://localhost:3000/api")
	v.SetDefault("backend.timeout", BackendTimeout)
	v.SetDefault("backend.extended_timeout", BackendExtendedTimeout)
	v.SetDefault("backend.token", "")
	v.SetDefault("store.url", "sqlite://floodwatch.db")
	v.SetDefault("cache.ttl", CacheTTL)
	v.SetDefault("location.significant_distance_m", SignificantDistanceMeters)
	v.SetDefault("location.high_accuracy", true)
	v.SetDefault("location.timeout", 15*time.Second)
	v.SetDefault("location.maximum_age", time.Minute)
	v.SetDefault("monitor.interval", MonitorInterval)
	v.SetDefault("monitor.search_radius_m", SearchRadiusMeters)
	v.SetDefault("monitor.auto_start", true)
	v.SetDefault("queue.max_retries", MaxRetries)
	v.SetDefault("queue.retention", QueueRetention)
	v.SetDefault("queue.prune_interval", QueuePruneInterval)
	v.SetDefault("connectivity.probe_interval", ConnectivityProbeInterval)
	v.SetDefault("device.route", "")
	v.SetDefault("device.speed_mps", 1.4)
	v.SetDefault("device.tick", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// LoadConfig reads defaults, an optional config file and environment overrides.
// An empty path searches for floodwatch.{yaml,json,env} in . and $HOME/.floodwatch.
func LoadConfig(path string) (c Config, err error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("floodwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.floodwatch")
	}

	// Environment variables take precedence over config file
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Continue even if file is not found
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects settings no component can run with
func (c Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required"))
	}
	if c.Backend.Timeout <= 0 || c.Backend.ExtendedTimeout <= 0 {
		errs = append(errs, errors.New("backend timeouts must be positive"))
	}
	if c.Store.URL == "" {
		errs = append(errs, errors.New("store.url is required"))
	}
	if c.Location.SignificantDistanceMeters <= 0 {
		errs = append(errs, errors.New("location.significant_distance_m must be positive"))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	if c.Queue.MaxRetries <= 0 {
		errs = append(errs, errors.New("queue.max_retries must be positive"))
	}
	if c.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, errors.New("connectivity.probe_interval must be positive"))
	}
	return errors.Join(errs...)
}
