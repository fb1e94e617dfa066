package config

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// maxRefreshRateLimit bounds REFRESH_RATE_LIMIT in refreshes per second.
const maxRefreshRateLimit = 10000

type Config struct {
	BindAddress      string        `env:"BIND_ADDRESS,default=0.0.0.0:9545"`
	NodeURL          string        `env:"NODE_URL,default=http://127.0.0.1:8545"`
	UpdateChance     float64       `env:"UPDATE_CHANCE,default=0.25"`
	LogFilter        string        `env:"LOG_FILTER,default=warn,lazynode=debug"`
	RefreshRateLimit float64       `env:"REFRESH_RATE_LIMIT,default=0"`
	UpstreamTimeout  time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
	MaxBodyBytes     int64         `env:"MAX_BODY_BYTES,default=10485760"`
	SentryURL        string        `env:"SENTRY_URL"`
	DiscordURL       string        `env:"DISCORD_URL"`
}

// New loads the optional .env file at envpath and reads the configuration
// from the environment. Values in overrides, keyed by environment variable
// name, take precedence over the environment.
func New(ctx context.Context, envpath string, overrides map[string]string) (*Config, error) {
	l, err := lookuper(envpath, overrides)
	if err != nil {
		return nil, err
	}

	return load(ctx, l)
}

func lookuper(envpath string, overrides map[string]string) (envconfig.Lookuper, error) {
	if envpath != "" {
		log.Default().Println("loading env from file: ", envpath)
		err := godotenv.Load(envpath)
		if err != nil {
			return nil, err
		}
	}

	return envconfig.MultiLookuper(
		envconfig.MapLookuper(overrides),
		envconfig.OsLookuper(),
	), nil
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	err := envconfig.ProcessWith(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BindAddress == "" {
		return errors.New("BIND_ADDRESS must not be empty")
	}

	u, err := url.Parse(c.NodeURL)
	if err != nil {
		return fmt.Errorf("NODE_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("NODE_URL: unsupported scheme %q", u.Scheme)
	}

	if math.IsNaN(c.UpdateChance) || c.UpdateChance < 0 || c.UpdateChance > 1 {
		return fmt.Errorf("UPDATE_CHANCE must be between 0 and 1, got %v", c.UpdateChance)
	}

	if math.IsNaN(c.RefreshRateLimit) || c.RefreshRateLimit < 0 || c.RefreshRateLimit > maxRefreshRateLimit {
		return fmt.Errorf("REFRESH_RATE_LIMIT must be between 0 and %d, got %v", maxRefreshRateLimit, c.RefreshRateLimit)
	}

	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must not be negative, got %v", c.UpstreamTimeout)
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %v", c.MaxBodyBytes)
	}

	return nil
}

// Flags holds command line overrides, keyed by environment variable name.
type Flags map[string]*string

type flagName struct {
	flag  string
	env   string
	usage string
}

var flagNames = []flagName{
	{"bind-address", "BIND_ADDRESS", "address the server listens on"},
	{"node-url", "NODE_URL", "upstream JSON RPC node to proxy"},
	{"update-chance", "UPDATE_CHANCE", "chance to fetch a new block number per request"},
	{"log-filter", "LOG_FILTER", "log filter to use"},
	{"refresh-rate-limit", "REFRESH_RATE_LIMIT", "max block number refreshes per second (0: unlimited)"},
	{"upstream-timeout", "UPSTREAM_TIMEOUT", "timeout of calls to the upstream node"},
	{"max-body-bytes", "MAX_BODY_BYTES", "max size of request bodies"},
	{"sentry-url", "SENTRY_URL", "sentry dsn"},
	{"discord-url", "DISCORD_URL", "discord webhook notified of fatal errors"},
}

// RegisterFlags registers one flag per setting on fs.
func RegisterFlags(fs *flag.FlagSet) Flags {
	return registerFlags(fs, flagNames)
}

func registerFlags(fs *flag.FlagSet, names []flagName) Flags {
	f := Flags{}
	for _, n := range names {
		f[n.env] = fs.String(n.flag, "", fmt.Sprintf("%s (env %s)", n.usage, n.env))
	}
	return f
}

// Overrides returns the flags that were given a value.
func (f Flags) Overrides() map[string]string {
	m := map[string]string{}
	for env, v := range f {
		if v != nil && *v != "" {
			m[env] = *v
		}
	}
	return m
}
