package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds the plugin-wide configuration recognized by this module.
// Only two options are part of the external contract (spec.md §6): the
// recordings directory and whether to emit observability events. Everything
// else a real deployment needs (listener addresses, credentials, ...) is the
// host's concern, not this core's.
type Config struct {
	// Path is the directory recordings are written to and read from.
	// Required.
	Path string
	// Events controls whether session/recording lifecycle events are
	// emitted to observers. Optional, defaults to false.
	Events bool
}

// Load reads configuration from a key=value text file, one setting per
// line, '#'-prefixed comments and blank lines ignored.
func Load(cfgPath string) (*Config, error) {
	file, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{}
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// URL decode values that might be encoded
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			// If decode fails, use original value
			decodedValue = value
		}

		switch key {
		case "path":
			cfg.Path = decodedValue
		case "events":
			b, err := strconv.ParseBool(decodedValue)
			if err != nil {
				return nil, fmt.Errorf("parse events option %q: %w", decodedValue, err)
			}
			cfg.Events = b
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("missing path")
	}
	return nil
}
