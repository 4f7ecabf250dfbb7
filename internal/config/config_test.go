//go:build unit

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setDefaults()

	cfg, err := decode()
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, 4, cfg.Scan.Concurrency)
	require.Equal(t, 30*time.Second, cfg.Scan.FetchTimeout)
	require.Equal(t, 1440, cfg.Autoscan.DefaultIntervalMinutes)
	require.Equal(t, time.Minute, cfg.Autoscan.Tick)
}

func TestValidate(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setDefaults()

	cfg, err := decode()
	require.NoError(t, err)

	bad := *cfg
	bad.Store.Driver = "oracle"
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Store = StoreConfig{Driver: DriverFile}
	require.Error(t, bad.Validate(), "file driver needs a path")

	bad = *cfg
	bad.Scan.ChangeRatioThreshold = 1.5
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Notify.WebhookURL = "not a url"
	require.Error(t, bad.Validate())

	ok := *cfg
	ok.Store = StoreConfig{Driver: DriverMemory}
	require.NoError(t, ok.Validate())
}
