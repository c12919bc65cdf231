// Copyright 2026 Blink Labs Software
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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/guildstash/guildstash/internal/secrets"
)

type ctxKey string

const configContextKey ctxKey = "guildstash.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	Token             string `yaml:"token"             envconfig:"GUILDSTASH_TOKEN"`
	TokenFile         string `yaml:"tokenFile"         envconfig:"GUILDSTASH_TOKEN_FILE"`
	ApiBaseUrl        string `yaml:"apiBaseUrl"        envconfig:"GUILDSTASH_API_BASE_URL"`
	DataDir           string `yaml:"dataDir"           envconfig:"GUILDSTASH_DATA_DIR"`
	BlobLocation      string `yaml:"blobLocation"      envconfig:"GUILDSTASH_BLOB_LOCATION"`
	GcsCredentials    string `yaml:"gcsCredentials"    envconfig:"GUILDSTASH_GCS_CREDENTIALS"`
	BindAddr          string `yaml:"bindAddr"          envconfig:"GUILDSTASH_BIND_ADDR"`
	ShutdownTimeout   string `yaml:"shutdownTimeout"   envconfig:"GUILDSTASH_SHUTDOWN_TIMEOUT"`
	MetricsPort       uint   `yaml:"metricsPort"       envconfig:"GUILDSTASH_METRICS_PORT"`
	ChatlogDepth      int    `yaml:"chatlogDepth"      envconfig:"GUILDSTASH_CHATLOG_DEPTH"`
	ReplayConcurrency int    `yaml:"replayConcurrency" envconfig:"GUILDSTASH_REPLAY_CONCURRENCY"`
	MsgRetentionDays  uint   `yaml:"msgRetentionDays"  envconfig:"GUILDSTASH_MSG_RETENTION_DAYS"`
	BackupLimit       int    `yaml:"backupLimit"       envconfig:"GUILDSTASH_BACKUP_LIMIT"`
	Tracing           bool   `yaml:"tracing"           envconfig:"GUILDSTASH_TRACING"`
	TracingStdout     bool   `yaml:"tracingStdout"     envconfig:"GUILDSTASH_TRACING_STDOUT"`
}

var globalConfig = &Config{
	DataDir:           ".guildstash",
	BindAddr:          "0.0.0.0",
	MetricsPort:       12910,
	ShutdownTimeout:   DefaultShutdownTimeout,
	ChatlogDepth:      100,
	ReplayConcurrency: 10,
	MsgRetentionDays:  30,
	BackupLimit:       15,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.guildstash/guildstash.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(
				homeDir,
				".guildstash",
				"guildstash.yaml",
			)
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/guildstash/guildstash.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/guildstash/guildstash.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Load config values from environment variables
	if err := envconfig.Process("guildstash", globalConfig); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := globalConfig.validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown timeout: %w", err)
	}
	if c.ReplayConcurrency < 0 {
		return errors.New("replay concurrency must not be negative")
	}
	return nil
}

// LoadToken resolves the API token. An inline token wins; otherwise
// the token file is read, decrypting it first when it is
// SOPS-encrypted.
func (c *Config) LoadToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	if c.TokenFile == "" {
		return "", errors.New("no token configured: set token or tokenFile")
	}
	buf, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("error reading token file: %w", err)
	}
	if secrets.IsEncrypted(buf) {
		buf, err = secrets.Decrypt(buf)
		if err != nil {
			return "", fmt.Errorf("error decrypting token file: %w", err)
		}
	}
	token := strings.TrimSpace(string(buf))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}

// GetConfig returns the global config instance
func GetConfig() *Config {
	return globalConfig
}
