package logging

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultFilter = "warn,lazynode=debug"

type directive struct {
	target string
	level  zapcore.Level
}

// Filter maps logger names to the minimum level they emit. It is built from
// a comma separated list where a bare level sets the default and
// name=level sets the level of the named logger and its children.
type Filter struct {
	fallback   zapcore.Level
	directives []directive
}

func ParseFilter(s string) (*Filter, error) {
	f := &Filter{fallback: zapcore.InfoLevel}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		target, lvl, found := strings.Cut(part, "=")
		if !found {
			level, err := parseLevel(part)
			if err != nil {
				return nil, err
			}
			f.fallback = level
			continue
		}

		target = strings.TrimSpace(target)
		if target == "" {
			return nil, fmt.Errorf("log filter %q: empty target", part)
		}

		level, err := parseLevel(strings.TrimSpace(lvl))
		if err != nil {
			return nil, err
		}
		f.directives = append(f.directives, directive{target: target, level: level})
	}

	// most specific target wins
	sort.SliceStable(f.directives, func(i, j int) bool {
		return len(f.directives[i].target) > len(f.directives[j].target)
	})

	return f, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return zapcore.DebugLevel, nil
	case "off":
		return zapcore.InvalidLevel, nil
	}

	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return level, fmt.Errorf("log filter: %w", err)
	}
	return level, nil
}

// Level returns the minimum level for the logger called name.
func (f *Filter) Level(name string) zapcore.Level {
	for _, d := range f.directives {
		if name == d.target || strings.HasPrefix(name, d.target+".") {
			return d.level
		}
	}
	return f.fallback
}

// Factory creates named loggers that share one output.
type Factory struct {
	filter *Filter
	out    zapcore.WriteSyncer
	color  bool
}

func New(filter string, out zapcore.WriteSyncer, color bool) (*Factory, error) {
	f, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}

	return &Factory{
		filter: f,
		out:    out,
		color:  color,
	}, nil
}

func (f *Factory) encoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if f.color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// Named returns a logger called name, filtered by the factory's filter.
func (f *Factory) Named(name string) *zap.Logger {
	core := zapcore.NewCore(f.encoder(), f.out, f.filter.Level(name))
	return zap.New(core).Named(name)
}

func (f *Factory) Sync() error {
	return f.out.Sync()
}
