package birch

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config holds engine settings that can be kept in a configuration file.
//
//	constructor_selection: greediest
//	default_lifetime: transient
type Config struct {
	// ConstructorSelection is "preferred-first" (default) or "greediest".
	ConstructorSelection string `yaml:"constructor_selection"`
	// DefaultLifetime is "singleton" (default), "transient", "per-resolve"
	// or "external".
	DefaultLifetime string `yaml:"default_lifetime"`
}

// ParseConfig decodes a YAML document into a Config and checks its values.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if _, err := cfg.Options(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Options converts the config into container options.
func (cfg Config) Options() ([]Option, error) {
	var opts []Option

	switch cfg.ConstructorSelection {
	case "", "preferred-first":
		opts = append(opts, WithConstructorSelector(GreedySelector{HonorPreferred: true}))
	case "greediest":
		opts = append(opts, WithConstructorSelector(GreedySelector{HonorPreferred: false}))
	default:
		return nil, fmt.Errorf("unknown constructor_selection %q", cfg.ConstructorSelection)
	}

	switch cfg.DefaultLifetime {
	case "", "singleton":
		opts = append(opts, WithDefaultLifetime(Singleton))
	case "transient":
		opts = append(opts, WithDefaultLifetime(Transient))
	case "per-resolve":
		opts = append(opts, WithDefaultLifetime(PerResolve))
	case "external":
		opts = append(opts, WithDefaultLifetime(External))
	default:
		return nil, fmt.Errorf("unknown default_lifetime %q", cfg.DefaultLifetime)
	}
	return opts, nil
}

// WithConfig applies cfg. An invalid config is ignored and reported as a
// warning on the container's logger; use [ParseConfig] to reject it early.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		opts, err := cfg.Options()
		if err != nil {
			o.configErrs = append(o.configErrs, err)
			return
		}
		for _, opt := range opts {
			opt(o)
		}
	}
}
