package ratelimit

import (
	"fmt"
	"io"
	"maps"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the YAML form of a rate limit configuration. Omitted fields keep
// the base configuration's values.
//
//	window: 15m
//	sweep_interval: 5m
//	classes:
//	  auth: 20
//	  write: 50
//	  read: 100
type Policy struct {
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Classes       map[Class]int `yaml:"classes"`
}

// LoadPolicyFile reads a YAML policy from path and applies it over base.
func LoadPolicyFile(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open rate limit policy: %w", err)
	}
	defer f.Close()

	return LoadPolicy(f, base)
}

// LoadPolicy decodes a YAML policy from r and applies it over base.
func LoadPolicy(r io.Reader, base Config) (Config, error) {
	var p Policy

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to decode rate limit policy: %w", err)
	}

	cfg := Config{
		Window:        base.Window,
		SweepInterval: base.SweepInterval,
		Max:           maps.Clone(base.Max),
	}
	if cfg.Max == nil {
		cfg.Max = make(map[Class]int)
	}

	if p.Window != 0 {
		cfg.Window = p.Window
	}
	if p.SweepInterval != 0 {
		cfg.SweepInterval = p.SweepInterval
	}
	maps.Copy(cfg.Max, p.Classes)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid rate limit policy: %w", err)
	}

	return cfg, nil
}
