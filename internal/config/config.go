// Package config holds the settings shared by every node of a process tree.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mbrock/proctree/internal/logging"
	"github.com/mbrock/proctree/internal/tree"
)

// Prefix is the environment prefix, e.g. PROCTREE_LEAF_SLEEP.
const Prefix = "proctree"

// Config holds tree configuration. Flags override the environment.
type Config struct {
	Depth     int           `envconfig:"DEPTH" default:"3"`
	LeafSleep time.Duration `envconfig:"LEAF_SLEEP" default:"30s"`
	WaitOrder string        `envconfig:"WAIT_ORDER" default:"any"`
	LogLevel  string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string        `envconfig:"LOG_FORMAT" default:"text"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Depth:     3,
		LeafSleep: tree.DefaultLeafSleep,
		WaitOrder: string(tree.WaitAny),
		LogLevel:  "info",
		LogFormat: string(logging.FormatText),
	}
}

// Validate checks every field except Depth, which the CLI validates
// separately so it can print usage.
func (c *Config) Validate() error {
	if c.LeafSleep < 0 {
		return fmt.Errorf("leaf sleep must not be negative (got %v)", c.LeafSleep)
	}
	if _, err := tree.ParseWaitOrder(c.WaitOrder); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// Order returns the parsed wait order. Call Validate first.
func (c *Config) Order() tree.WaitOrder {
	o, _ := tree.ParseWaitOrder(c.WaitOrder)
	return o
}

// Environ renders c as PROCTREE_* assignments, so child processes that
// call Load see the same configuration.
func (c *Config) Environ() []string {
	return []string{
		"PROCTREE_DEPTH=" + strconv.Itoa(c.Depth),
		"PROCTREE_LEAF_SLEEP=" + c.LeafSleep.String(),
		"PROCTREE_WAIT_ORDER=" + c.WaitOrder,
		"PROCTREE_LOG_LEVEL=" + c.LogLevel,
		"PROCTREE_LOG_FORMAT=" + c.LogFormat,
	}
}
