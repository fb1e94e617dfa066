package config

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// HealthConfig configures the dshackle health adapter.
type HealthConfig struct {
	BindAddress string `env:"BIND_ADDRESS,default=0.0.0.0:8080"`
	HealthURL   string `env:"HEALTH_URL,default=http://127.0.0.1:8082/health?detailed"`
	NodeID      string `env:"NODE_ID,default=cow-nethermind"`
	// UnhealthyLag is the number of blocks a node may lag behind. A negative
	// value keeps whatever dshackle reports.
	UnhealthyLag int64         `env:"UNHEALTHY_LAG,default=-1"`
	Timeout      time.Duration `env:"HEALTH_TIMEOUT,default=10s"`
	LogFilter    string        `env:"LOG_FILTER,default=info"`
}

var healthFlagNames = []flagName{
	{"bind-address", "BIND_ADDRESS", "address the server listens on"},
	{"health-url", "HEALTH_URL", "where to read the dshackle detailed health info from"},
	{"node-id", "NODE_ID", "id of the monitored node in dshackle.yaml"},
	{"unhealthy-lag", "UNHEALTHY_LAG", "blocks a node may lag behind before being unhealthy (unset: use dshackle's status)"},
	{"health-timeout", "HEALTH_TIMEOUT", "timeout of calls to dshackle"},
	{"log-filter", "LOG_FILTER", "log filter to use"},
}

func NewHealth(ctx context.Context, envpath string, overrides map[string]string) (*HealthConfig, error) {
	l, err := lookuper(envpath, overrides)
	if err != nil {
		return nil, err
	}

	return loadHealth(ctx, l)
}

func loadHealth(ctx context.Context, l envconfig.Lookuper) (*HealthConfig, error) {
	cfg := &HealthConfig{}
	err := envconfig.ProcessWith(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *HealthConfig) Validate() error {
	if c.BindAddress == "" {
		return errors.New("BIND_ADDRESS must not be empty")
	}

	u, err := url.Parse(c.HealthURL)
	if err != nil {
		return fmt.Errorf("HEALTH_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("HEALTH_URL: unsupported scheme %q", u.Scheme)
	}

	if strings.TrimSpace(c.NodeID) == "" {
		return errors.New("NODE_ID must not be empty")
	}

	if c.Timeout < 0 {
		return fmt.Errorf("HEALTH_TIMEOUT must not be negative, got %v", c.Timeout)
	}

	return nil
}

// MaxLag returns the lag override, or nil when dshackle's status is used.
func (c *HealthConfig) MaxLag() *uint64 {
	if c.UnhealthyLag < 0 {
		return nil
	}
	lag := uint64(c.UnhealthyLag)
	return &lag
}

// RegisterHealthFlags registers one flag per health adapter setting on fs.
func RegisterHealthFlags(fs *flag.FlagSet) Flags {
	return registerFlags(fs, healthFlagNames)
}
