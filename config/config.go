/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Pulsar Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package config loads runtime settings from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/webpet/pulsar/log"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "250ms" or "5s". Plain integers are taken as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML parses either a duration string or a nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case int:
		*d = Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Respawn tunes monitor respawn backoff.
type Respawn struct {
	// Attempts is the number of respawn tries before escalation.
	Attempts int `yaml:"attempts"`
	// InitialDelay is the first backoff delay.
	InitialDelay Duration `yaml:"initial_delay"`
	// MaxDelay caps the backoff delay.
	MaxDelay Duration `yaml:"max_delay"`
}

// Config is the runtime configuration.
type Config struct {
	// LogLevel is one of debug, info, warning, error, fatal, panic.
	LogLevel string `yaml:"log_level"`
	// PollInterval bounds an event loop poll when no timer is due sooner.
	PollInterval Duration `yaml:"poll_interval"`
	// HandshakeTimeout bounds a spawn handshake.
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	// ShutdownGrace bounds graceful shutdown before actors are killed.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
	// ThreadPoolSize is the shared worker count; 0 means one per CPU.
	ThreadPoolSize int `yaml:"thread_pool_size"`
	// Respawn tunes monitor respawn behavior.
	Respawn Respawn `yaml:"respawn"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		PollInterval:     Duration(time.Second),
		HandshakeTimeout: Duration(5 * time.Second),
		ShutdownGrace:    Duration(5 * time.Second),
		Respawn: Respawn{
			Attempts:     5,
			InitialDelay: Duration(100 * time.Millisecond),
			MaxDelay:     Duration(2 * time.Second),
		},
	}
}

// Load reads a YAML file over the defaults and validates the outcome.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Level() == log.InvalidLevel {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", c.HandshakeTimeout)
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace must be positive, got %s", c.ShutdownGrace)
	}
	if c.ThreadPoolSize < 0 {
		return fmt.Errorf("thread_pool_size must not be negative, got %d", c.ThreadPoolSize)
	}
	if c.Respawn.Attempts <= 0 {
		return fmt.Errorf("respawn.attempts must be positive, got %d", c.Respawn.Attempts)
	}
	return nil
}

// Level maps the configured log level name to a log.Level.
func (c *Config) Level() log.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "info":
		return log.InfoLevel
	case "debug":
		return log.DebugLevel
	case "warning", "warn":
		return log.WarningLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	case "panic":
		return log.PanicLevel
	default:
		return log.InvalidLevel
	}
}
