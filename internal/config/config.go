// Package config loads and validates the reflector's configuration, the
// way the teacher's config.go does: an optional YAML file parsed with
// goccy/go-yaml and checked with go-playground/validator. CLI flags (see
// main.go) take precedence; the YAML file only supplies defaults, which is
// most useful for the list-valued options that are awkward to repeat on a
// command line. A boolean option set to true in the file stays true, since
// an absent flag does not override it.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Config is the configuration-derived, immutable-for-process-lifetime
// policy spec.md §3 describes ("Filter Rules").
type Config struct {
	Interfaces            []string `yaml:"interfaces" validate:"dive,required"`
	AdditionalSubnets     []string `yaml:"additional_subnets" validate:"dive,cidr"`
	IgnoreQuestionSubnets []string `yaml:"ignore_question_subnets" validate:"dive,cidr"`
	DisableIPv4           bool     `yaml:"disable_ipv4"`
	DisableIPv6           bool     `yaml:"disable_ipv6"`
	ErrorInsteadOfExit    bool     `yaml:"error_instead_of_exit"`
	Verbose               bool     `yaml:"verbose"`
}

// Load reads and parses a YAML config file. It does not validate; callers
// merge CLI flags in before calling Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate enforces spec.md §3/§7's configuration-error rule: fewer than
// two interfaces or a malformed CIDR fails fast at startup.
func (c *Config) Validate() error {
	if len(c.Interfaces) < 2 {
		return fmt.Errorf("config: at least 2 interfaces are required, got %d", len(c.Interfaces))
	}

	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ParseCIDRs parses each entry in raw as a CIDR network, in order,
// returning a Configuration error naming the offending entry on failure.
func ParseCIDRs(raw []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(raw))
	for _, s := range raw {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("config: invalid CIDR %q: %w", s, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
