/*
 *
 * Copyright 2025 windfeed authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config loads the server configuration from a YAML file with
// WINDFEED_* environment variables overriding individual keys.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the windfeed server configuration.
type Config struct {
	// RegistryPath anchors the shared upstream-process registry. Every
	// server process using the same path shares the same registry.
	RegistryPath string

	// RegistryCapacity is the initial entry area of a newly created
	// registry, in bytes. Zero picks the built-in default.
	RegistryCapacity uint64

	// AntiDoS enables preemption and trimming of redundant upstream
	// processes at admission time.
	AntiDoS bool

	// SessionDir holds the per-upstream session memory files.
	SessionDir string

	// LogLevel is a zap level name: debug, info, warn or error.
	LogLevel string
}

func defaults(v *viper.Viper) {
	v.SetDefault("registry-path", "/var/run/windfeed")
	v.SetDefault("registry-capacity", 0)
	v.SetDefault("anti-dos", true)
	v.SetDefault("session-dir", "/var/lib/windfeed/sessions")
	v.SetDefault("log-level", "info")
}

// Load reads the configuration file. An empty file name loads defaults
// and environment overrides only.
func Load(file string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("WINDFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	c := &Config{
		RegistryPath:     v.GetString("registry-path"),
		RegistryCapacity: v.GetUint64("registry-capacity"),
		AntiDoS:          v.GetBool("anti-dos"),
		SessionDir:       v.GetString("session-dir"),
		LogLevel:         v.GetString("log-level"),
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("registry-path must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log-level %q", c.LogLevel)
	}
	return nil
}
