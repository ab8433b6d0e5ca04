// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the chainctl configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/chained"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

const prefix = "chainctl"

// ErrInvalid is returned when a loaded value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the chainctl configuration structure
type Config struct {
	Environment string `default:"development"`
	// InitialSize is the bucket count of a freshly created table.
	InitialSize int `split_words:"true" default:"16"`
	// HashStrategy selects the string hash: "multiplicative" (h*129+c) or
	// "xxhash".
	HashStrategy string `split_words:"true" default:"multiplicative"`
	HistoryFile  string `split_words:"true"`
	LogLevel     string `split_words:"true" default:"info"`
}

// IsEnvProduction checks whether the application runs in production mode
func (config *Config) IsEnvProduction() bool {
	return strings.ToLower(config.Environment) == "production"
}

// Hash returns the string hash function named by HashStrategy.
func (config *Config) Hash() chained.HashFunc[string] {
	if strings.ToLower(config.HashStrategy) == "xxhash" {
		return chained.XXStringHash
	}
	return chained.StringHash
}

// Level returns the parsed LogLevel. Production always logs at info or above.
func (config *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if config.IsEnvProduction() && level < zerolog.InfoLevel {
		level = zerolog.InfoLevel
	}
	return level
}

// Validate reports the first out-of-range value.
func (config *Config) Validate() error {
	if config.InitialSize <= 0 {
		return fmt.Errorf("%w: initial size %d must be positive", ErrInvalid, config.InitialSize)
	}
	switch strings.ToLower(config.HashStrategy) {
	case "multiplicative", "xxhash":
	default:
		return fmt.Errorf("%w: unknown hash strategy %q", ErrInvalid, config.HashStrategy)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(config.LogLevel)); err != nil {
		return fmt.Errorf("%w: log level: %w", ErrInvalid, err)
	}
	return nil
}

// LoadFromEnv loads a new configuration structure using environment variables
// and optional .env files. Without arguments ./.env is used if it exists.
func LoadFromEnv(envFiles ...string) (*Config, error) {
	// Load the .env files if they exist
	_ = godotenv.Overload(envFiles...)

	// Load a new configuration structure using environment variables
	config := new(Config)
	if err := envconfig.Process(prefix, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
