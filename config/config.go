/*
 * Copyright 2025 tomoncle.
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
 */

// Package config assembles the service configuration from a .env file, an
// optional YAML file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/utils"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8000
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port suitable for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Apply pushes the settings into the logger registry.
func (l LogConfig) Apply() {
	utils.ConfigureConsoleLogFormat(l.Format)
	utils.ConfigureLogLevel(l.Level)
}

type Config struct {
	Server   ServerConfig              `yaml:"server"`
	Database database.ConnectionConfig `yaml:"database"`
	Log      LogConfig                 `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden: port
// 8000 on all interfaces and an in-memory SQLite database.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: DefaultHost, Port: DefaultPort},
		Database: *database.DefaultConnectionConfig(),
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. A missing .env file is not an error, a
// missing YAML file at path is. Database environment variables are resolved
// later by the database factory.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads ./.env into the environment without overriding variables
// that are already set.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load .env: %w", err)
}

func (c *Config) applyEnv() error {
	c.Server.Host = utils.EnvDefaultString("BIND_ADDRESS", c.Server.Host)
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	c.Log.Level = utils.EnvDefaultString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = utils.EnvDefaultString("CONSOLE_LOG_FORMAT", c.Log.Format)
	return nil
}

// Validate rejects settings the server cannot start with. Port 0 asks the
// kernel for a free port.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
