package conversion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-renderer/pkg/errors"
	"github.com/core-tools/hsu-renderer/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "renderer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, DefaultMaxConcurrentConversions, config.MaxConcurrentConversions)
	assert.Equal(t, DefaultConversionTimeout, config.ConversionTimeout)
	assert.Equal(t, DefaultMaxRetries, config.MaxRetries)
	assert.Equal(t, DefaultRestartAfterConversions, config.RestartAfterConversions)
	require.NotNil(t, config.HealthCheckEnabled)
	assert.True(t, *config.HealthCheckEnabled)
	assert.Equal(t, DefaultHealthCheckInterval, config.HealthCheckInterval)
	assert.Equal(t, DefaultDeviceScaleFactor, config.DeviceScaleFactor)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
max_concurrent_conversions: 4
conversion_timeout: 45s
max_retries: 3
restart_after_n_conversions: 500
health_check_enabled: false
health_check_interval: 60s
device_scale_factor: 2.0
browser_bin: /usr/bin/chromium
`)

	config, err := LoadConfigFromFile(path, nopLogger())
	require.NoError(t, err)

	assert.Equal(t, 4, config.MaxConcurrentConversions)
	assert.Equal(t, 45*time.Second, config.ConversionTimeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 500, config.RestartAfterConversions)
	require.NotNil(t, config.HealthCheckEnabled)
	assert.False(t, *config.HealthCheckEnabled)
	assert.Equal(t, 60*time.Second, config.HealthCheckInterval)
	assert.Equal(t, 2.0, config.DeviceScaleFactor)
	assert.Equal(t, "/usr/bin/chromium", config.BrowserBin)
}

func TestLoadConfigFromFile_MissingFile(t *testing.T) {
	_, err := LoadConfigFromFile("/nonexistent/renderer.yaml", nopLogger())

	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestLoadConfigFromFile_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "max_concurrent_conversions: [not a number")

	_, err := LoadConfigFromFile(path, nopLogger())

	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestNormalize_UnsetValuesGetDefaults(t *testing.T) {
	var config Config
	config.Normalize(nopLogger())

	assert.Equal(t, DefaultMaxConcurrentConversions, config.MaxConcurrentConversions)
	assert.Equal(t, DefaultConversionTimeout, config.ConversionTimeout)
	assert.Equal(t, DefaultMaxRetries, config.MaxRetries)
	require.NotNil(t, config.HealthCheckEnabled)
	assert.True(t, *config.HealthCheckEnabled)
	assert.Equal(t, DefaultDeviceScaleFactor, config.DeviceScaleFactor)
	assert.Equal(t, DefaultStartupTimeout, config.StartupTimeout)
	assert.Equal(t, DefaultStopGracePeriod, config.StopGracePeriod)
	assert.Equal(t, DefaultResourceSampleInterval, config.ResourceSampleInterval)
}

func TestNormalize_OutOfRangeValuesFallBackWithWarning(t *testing.T) {
	warnings := 0
	logger := logging.NewLogger("", logging.LogFuncs{
		Warnf: func(format string, args ...interface{}) { warnings++ },
	})

	config := Config{
		MaxConcurrentConversions: 500,
		ConversionTimeout:        time.Second,
		MaxRetries:               -1,
		RestartAfterConversions:  -5,
		HealthCheckInterval:      time.Hour,
		DeviceScaleFactor:        50.0,
	}
	config.Normalize(logger)

	assert.Equal(t, DefaultMaxConcurrentConversions, config.MaxConcurrentConversions)
	assert.Equal(t, DefaultConversionTimeout, config.ConversionTimeout)
	assert.Equal(t, DefaultMaxRetries, config.MaxRetries)
	assert.Equal(t, DefaultRestartAfterConversions, config.RestartAfterConversions)
	assert.Equal(t, DefaultHealthCheckInterval, config.HealthCheckInterval)
	assert.Equal(t, DefaultDeviceScaleFactor, config.DeviceScaleFactor)
	assert.Equal(t, 6, warnings)
}

func TestNormalize_InRangeValuesKept(t *testing.T) {
	warnings := 0
	logger := logging.NewLogger("", logging.LogFuncs{
		Warnf: func(format string, args ...interface{}) { warnings++ },
	})

	config := Config{
		MaxConcurrentConversions: 1,
		ConversionTimeout:        MaxConversionTimeout,
		MaxRetries:               10,
		RestartAfterConversions:  MaxRestartAfterConversions,
		HealthCheckInterval:      MinHealthCheckInterval,
		DeviceScaleFactor:        MaxDeviceScaleFactor,
	}
	config.Normalize(logger)

	assert.Equal(t, 1, config.MaxConcurrentConversions)
	assert.Equal(t, MaxConversionTimeout, config.ConversionTimeout)
	assert.Equal(t, 10, config.MaxRetries)
	assert.Equal(t, MaxRestartAfterConversions, config.RestartAfterConversions)
	assert.Equal(t, MinHealthCheckInterval, config.HealthCheckInterval)
	assert.Equal(t, MaxDeviceScaleFactor, config.DeviceScaleFactor)
	assert.Zero(t, warnings)
}

func TestNormalize_ZeroRestartAfterMeansDisabled(t *testing.T) {
	warnings := 0
	logger := logging.NewLogger("", logging.LogFuncs{
		Warnf: func(format string, args ...interface{}) { warnings++ },
	})

	config := Config{RestartAfterConversions: 0}
	config.Normalize(logger)

	assert.Equal(t, 0, config.RestartAfterConversions)
	assert.Zero(t, warnings)
}
