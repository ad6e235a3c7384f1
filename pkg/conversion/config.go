package conversion

import (
	"os"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Defaults and valid ranges for the configuration surface. Out-of-range
// values fall back to the default with a logged warning, never a startup
// failure.
const (
	DefaultMaxConcurrentConversions = 10
	MinMaxConcurrentConversions     = 1
	MaxMaxConcurrentConversions     = 100

	DefaultConversionTimeout = 30 * time.Second
	MinConversionTimeout     = 5 * time.Second
	MaxConversionTimeout     = 300 * time.Second

	DefaultMaxRetries = 2
	MinMaxRetries     = 1
	MaxMaxRetries     = 10

	DefaultRestartAfterConversions = 0 // disabled
	MaxRestartAfterConversions     = 10000

	DefaultHealthCheckInterval = 30 * time.Second
	MinHealthCheckInterval     = 10 * time.Second
	MaxHealthCheckInterval     = 300 * time.Second

	DefaultDeviceScaleFactor = 1.0
	MinDeviceScaleFactor     = 1.0
	MaxDeviceScaleFactor     = 10.0

	DefaultStartupTimeout = 30 * time.Second
	MinStartupTimeout     = 5 * time.Second
	MaxStartupTimeout     = 120 * time.Second

	DefaultStopGracePeriod = 5 * time.Second
	MinStopGracePeriod     = 1 * time.Second
	MaxStopGracePeriod     = 60 * time.Second

	DefaultResourceSampleInterval = 15 * time.Second
	MinResourceSampleInterval     = 5 * time.Second
	MaxResourceSampleInterval     = 300 * time.Second
)

// Config is the conversion service configuration. Zero values mean "unset"
// and are replaced by defaults silently; out-of-range values are replaced
// with a warning.
type Config struct {
	// MaxConcurrentConversions bounds conversions in flight (gate size).
	MaxConcurrentConversions int `yaml:"max_concurrent_conversions"`

	// ConversionTimeout is the hard per-conversion timeout, also bounding
	// the wait for a gate slot.
	ConversionTimeout time.Duration `yaml:"conversion_timeout"`

	// MaxRetries is the number of retries after the first attempt
	// (2 means up to 3 attempts total).
	MaxRetries int `yaml:"max_retries"`

	// RestartAfterConversions proactively restarts the browser after this
	// many conversions on one generation; 0 disables.
	RestartAfterConversions int `yaml:"restart_after_n_conversions"`

	// HealthCheckEnabled toggles the background health monitor.
	// Pointer to distinguish unset from false.
	HealthCheckEnabled *bool `yaml:"health_check_enabled"`

	// HealthCheckInterval is the period between background health probes.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// DeviceScaleFactor is the default output scale factor.
	DeviceScaleFactor float64 `yaml:"device_scale_factor"`

	// StartupTimeout bounds browser startup.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// StopGracePeriod bounds graceful browser shutdown before force-kill.
	StopGracePeriod time.Duration `yaml:"stop_grace_period"`

	// ResourceSampleInterval is the period between browser CPU/memory samples.
	ResourceSampleInterval time.Duration `yaml:"resource_sample_interval"`

	// BrowserBin optionally points at a pre-installed browser binary.
	BrowserBin string `yaml:"browser_bin"`
}

// DefaultConfig returns a config with every field at its default.
func DefaultConfig() Config {
	enabled := true
	return Config{
		MaxConcurrentConversions: DefaultMaxConcurrentConversions,
		ConversionTimeout:        DefaultConversionTimeout,
		MaxRetries:               DefaultMaxRetries,
		RestartAfterConversions:  DefaultRestartAfterConversions,
		HealthCheckEnabled:       &enabled,
		HealthCheckInterval:      DefaultHealthCheckInterval,
		DeviceScaleFactor:        DefaultDeviceScaleFactor,
		StartupTimeout:           DefaultStartupTimeout,
		StopGracePeriod:          DefaultStopGracePeriod,
		ResourceSampleInterval:   DefaultResourceSampleInterval,
	}
}

// LoadConfigFromFile loads configuration from a YAML file and normalizes it.
func LoadConfigFromFile(filename string, logger logging.Logger) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errors.NewValidationError("failed to read configuration file", err).
			WithContext("filename", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.NewValidationError("failed to parse YAML configuration", err).
			WithContext("filename", filename)
	}

	config.Normalize(logger)
	return config, nil
}

// Normalize replaces unset values with defaults and clamps out-of-range
// values to defaults with a warning.
func (c *Config) Normalize(logger logging.Logger) {
	c.MaxConcurrentConversions = normalizeInt(logger, "max_concurrent_conversions",
		c.MaxConcurrentConversions, DefaultMaxConcurrentConversions,
		MinMaxConcurrentConversions, MaxMaxConcurrentConversions)

	c.ConversionTimeout = normalizeDuration(logger, "conversion_timeout",
		c.ConversionTimeout, DefaultConversionTimeout,
		MinConversionTimeout, MaxConversionTimeout)

	c.MaxRetries = normalizeInt(logger, "max_retries",
		c.MaxRetries, DefaultMaxRetries, MinMaxRetries, MaxMaxRetries)

	if c.RestartAfterConversions < 0 || c.RestartAfterConversions > MaxRestartAfterConversions {
		logger.Warnf("restart_after_n_conversions must be between 0 and %d, using default: %d",
			MaxRestartAfterConversions, DefaultRestartAfterConversions)
		c.RestartAfterConversions = DefaultRestartAfterConversions
	}

	if c.HealthCheckEnabled == nil {
		enabled := true
		c.HealthCheckEnabled = &enabled
	}

	c.HealthCheckInterval = normalizeDuration(logger, "health_check_interval",
		c.HealthCheckInterval, DefaultHealthCheckInterval,
		MinHealthCheckInterval, MaxHealthCheckInterval)

	if c.DeviceScaleFactor == 0 {
		c.DeviceScaleFactor = DefaultDeviceScaleFactor
	} else if c.DeviceScaleFactor < MinDeviceScaleFactor || c.DeviceScaleFactor > MaxDeviceScaleFactor {
		logger.Warnf("device_scale_factor must be between %.1f and %.1f, using default: %.1f",
			MinDeviceScaleFactor, MaxDeviceScaleFactor, DefaultDeviceScaleFactor)
		c.DeviceScaleFactor = DefaultDeviceScaleFactor
	}

	c.StartupTimeout = normalizeDuration(logger, "startup_timeout",
		c.StartupTimeout, DefaultStartupTimeout, MinStartupTimeout, MaxStartupTimeout)

	c.StopGracePeriod = normalizeDuration(logger, "stop_grace_period",
		c.StopGracePeriod, DefaultStopGracePeriod, MinStopGracePeriod, MaxStopGracePeriod)

	c.ResourceSampleInterval = normalizeDuration(logger, "resource_sample_interval",
		c.ResourceSampleInterval, DefaultResourceSampleInterval,
		MinResourceSampleInterval, MaxResourceSampleInterval)
}

func normalizeInt(logger logging.Logger, name string, value, def, min, max int) int {
	if value == 0 {
		return def
	}
	if value < min || value > max {
		logger.Warnf("%s must be between %d and %d, using default: %d", name, min, max, def)
		return def
	}
	return value
}

func normalizeDuration(logger logging.Logger, name string, value, def, min, max time.Duration) time.Duration {
	if value == 0 {
		return def
	}
	if value < min || value > max {
		logger.Warnf("%s must be between %v and %v, using default: %v", name, min, max, def)
		return def
	}
	return value
}
