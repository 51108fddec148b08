// Copyright (c) 2026 John Earle
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

// Package config loads service configuration from config.yaml and
// environment variables. Import profiles live in their own file and are
// loaded by the profile package; this covers everything else the service
// needs to run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds credentials for the monitored mailbox.
type MailboxConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	User         string `yaml:"user"`
}

// Config holds all configuration for the import service.
type Config struct {
	Mailbox MailboxConfig

	// ProfilePath is the YAML file holding import profiles.
	ProfilePath string

	// Profiles restricts a run to the named profiles. Empty means all.
	Profiles []string

	// PollInterval controls the mailbox polling loop. Zero means run once
	// and exit.
	PollInterval time.Duration

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL    string
	EventsQueue string

	// ClamAV daemon address, host:port. Empty disables scanning, which
	// rejects any profile that requires it.
	ClamdAddr string

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox struct {
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		User         string `yaml:"user"`
	} `yaml:"mailbox"`
	Profiles struct {
		Path    string   `yaml:"path"`
		Enabled []string `yaml:"enabled"`
	} `yaml:"profiles"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Clamd struct {
		Addr string `yaml:"addr"`
	} `yaml:"clamd"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox: MailboxConfig{
			TenantID:     firstNonEmpty(raw.Mailbox.TenantID, os.Getenv("GRAPH_TENANT_ID")),
			ClientID:     firstNonEmpty(raw.Mailbox.ClientID, os.Getenv("GRAPH_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Mailbox.ClientSecret, os.Getenv("GRAPH_CLIENT_SECRET")),
			User:         firstNonEmpty(raw.Mailbox.User, os.Getenv("MAILBOX_USER")),
		},
		ProfilePath:  firstNonEmpty(raw.Profiles.Path, envOrDefault("PROFILE_PATH", "/app/config/profiles.yaml")),
		Profiles:     raw.Profiles.Enabled,
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 0),
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/refimport")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:  firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "refimport:events")),
		ClamdAddr:    firstNonEmpty(raw.Clamd.Addr, os.Getenv("CLAMD_ADDR")),
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if cfg.Mailbox.TenantID == "" || cfg.Mailbox.ClientID == "" || cfg.Mailbox.ClientSecret == "" {
		return nil, fmt.Errorf("mailbox credentials missing — check config.yaml and environment variables")
	}
	if cfg.Mailbox.User == "" {
		return nil, fmt.Errorf("mailbox user missing — set mailbox.user or MAILBOX_USER")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
