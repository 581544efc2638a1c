// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package config loads configuration from a YAML file with command-line flag
// overrides and exposes it through typed keys with defaults.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config wraps the loaded configuration tree.
type Config struct {
	k *koanf.Koanf
}

// Key is a typed configuration entry with a default value.
type Key[T any] struct {
	Path    string
	Default T
}

// Database connection keys. The same names apply under both the
// "database.postgres" and "database.mongo" prefixes.
var (
	KeyBackend = Key[string]{"database.backend", "postgres"}

	KeyPostgresHost     = Key[string]{"database.postgres.host", "localhost"}
	KeyPostgresPort     = Key[int]{"database.postgres.port", 5432}
	KeyPostgresUser     = Key[string]{"database.postgres.user", "luminauth"}
	KeyPostgresPassword = Key[string]{"database.postgres.password", ""}
	KeyPostgresName     = Key[string]{"database.postgres.database", "luminauth"}

	KeyMongoHost     = Key[string]{"database.mongo.host", "localhost"}
	KeyMongoPort     = Key[int]{"database.mongo.port", 27017}
	KeyMongoUser     = Key[string]{"database.mongo.user", "root"}
	KeyMongoPassword = Key[string]{"database.mongo.password", ""}
	KeyMongoName     = Key[string]{"database.mongo.database", "luminauth"}
)

// Authorization workflow keys.
var (
	KeyMailWindow      = Key[time.Duration]{"limits.mail-window", time.Minute}
	KeyConfirmTTL      = Key[time.Duration]{"limits.confirm-ttl", 10 * time.Minute}
	KeyWorkers         = Key[int]{"scheduler.workers", 8}
	KeyDebug           = Key[bool]{"debug", false}
	KeyLogFormat       = Key[string]{"log.format", "json"}
	KeyMetricsAddr     = Key[string]{"metrics.addr", ""}
	KeyMailSMTPHost    = Key[string]{"mail.smtp.host", "localhost"}
	KeyMailSMTPPort    = Key[int]{"mail.smtp.port", 587}
	KeyMailSMTPUser    = Key[string]{"mail.smtp.user", ""}
	KeyMailSMTPPass    = Key[string]{"mail.smtp.password", ""}
	KeyMailFrom        = Key[string]{"mail.from", "noreply@localhost"}
	KeyMailFromName    = Key[string]{"mail.from-name", "LuminAuth"}
	KeyMailAllowed     = Key[[]string]{"mail.allowed-patterns", []string{"*"}}
	KeyRoutingLobbyTag = Key[map[string]string]{"routing.lobby", map[string]string{}}
	KeyLobbyGroup      = Key[string]{"routing.lobby-group", "lobby"}
	KeyAuthGroup       = Key[string]{"routing.auth-group", "auth"}
)

// Load reads the YAML file at path (optional) and applies flag overrides.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "flags").
				Wrap(err)
		}
	}

	return &Config{k: k}, nil
}

// New wraps an already-populated koanf tree. Used by tests.
func New(k *koanf.Koanf) *Config {
	return &Config{k: k}
}

// String returns the value for key, or its default when unset.
func (c *Config) String(key Key[string]) string {
	if !c.k.Exists(key.Path) {
		return key.Default
	}
	return c.k.String(key.Path)
}

// Int returns the value for key, or its default when unset.
func (c *Config) Int(key Key[int]) int {
	if !c.k.Exists(key.Path) {
		return key.Default
	}
	return c.k.Int(key.Path)
}

// Bool returns the value for key, or its default when unset.
func (c *Config) Bool(key Key[bool]) bool {
	if !c.k.Exists(key.Path) {
		return key.Default
	}
	return c.k.Bool(key.Path)
}

// Duration returns the value for key, or its default when unset.
func (c *Config) Duration(key Key[time.Duration]) time.Duration {
	if !c.k.Exists(key.Path) {
		return key.Default
	}
	return c.k.Duration(key.Path)
}

// Strings returns the value for key, or its default when unset.
func (c *Config) Strings(key Key[[]string]) []string {
	if !c.k.Exists(key.Path) {
		return key.Default
	}
	return c.k.Strings(key.Path)
}

// StringMap returns the value for key, or its default when unset.
func (c *Config) StringMap(key Key[map[string]string]) map[string]string {
	if !c.k.Exists(key.Path) {
		return key.Default
	}
	return c.k.StringMap(key.Path)
}
