package config

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthDefaults(t *testing.T) {
	cfg, err := loadHealth(context.Background(), envconfig.MapLookuper(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.BindAddress)
	assert.Equal(t, "http://127.0.0.1:8082/health?detailed", cfg.HealthURL)
	assert.Equal(t, "cow-nethermind", cfg.NodeID)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Nil(t, cfg.MaxLag())
}

func TestHealthUnhealthyLag(t *testing.T) {
	for _, v := range []string{"0", "25"} {
		cfg, err := loadHealth(context.Background(), envconfig.MapLookuper(map[string]string{"UNHEALTHY_LAG": v}))
		require.NoError(t, err)
		require.NotNil(t, cfg.MaxLag())
		assert.Equal(t, uint64(cfg.UnhealthyLag), *cfg.MaxLag())
	}
}

func TestHealthValidation(t *testing.T) {
	invalid := []map[string]string{
		{"HEALTH_URL": "ftp://dshackle/health"},
		{"NODE_ID": " "},
		{"UNHEALTHY_LAG": "many"},
		{"HEALTH_TIMEOUT": "-1s"},
	}

	for _, env := range invalid {
		_, err := loadHealth(context.Background(), envconfig.MapLookuper(env))
		assert.Error(t, err, "%v", env)
	}
}

func TestHealthFlags(t *testing.T) {
	fs := flag.NewFlagSet("healthadapter", flag.ContinueOnError)
	flags := RegisterHealthFlags(fs)

	require.NoError(t, fs.Parse([]string{"-node-id", "geth-1", "-unhealthy-lag", "3"}))

	assert.Equal(t, map[string]string{
		"NODE_ID":       "geth-1",
		"UNHEALTHY_LAG": "3",
	}, flags.Overrides())
}
