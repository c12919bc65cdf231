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

package guildstash

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	token             string
	apiBaseUrl        string
	dataDir           string
	blobLocation      string
	gcsCredentials    string
	chatlogDepth      int
	replayConcurrency int
	msgRetentionDays  uint
	backupLimit       int
	tracing           bool
	tracingStdout     bool
	shutdownTimeout   time.Duration
}

func (s *Service) configValidate() error {
	if s.config.token == "" {
		return errors.New("no API token provided")
	}
	if s.config.chatlogDepth < 0 {
		return errors.New("chatlog depth must not be negative")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the Service config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new guildstash config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithToken specifies the API token used for all Discord requests
func WithToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.token = token
	}
}

// WithApiBaseUrl overrides the Discord API base URL. This is mostly useful for testing
func WithApiBaseUrl(baseUrl string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiBaseUrl = baseUrl
	}
}

// WithDataDir specifies the persistent data directory to use. The default is to store everything in memory
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobLocation specifies where oversized snapshot sections are offloaded.
// A "gcs://<bucket>" location selects Google Cloud Storage, anything else is
// treated as a local directory. Offload is disabled when empty
func WithBlobLocation(location string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobLocation = location
	}
}

// WithGcsCredentials specifies the path to a GCS credentials file
func WithGcsCredentials(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.gcsCredentials = path
	}
}

// WithChatlogDepth specifies the default per-channel message count for captures
func WithChatlogDepth(depth int) ConfigOptionFunc {
	return func(c *Config) {
		c.chatlogDepth = depth
	}
}

// WithReplayConcurrency specifies how many channels may replay messages at once
func WithReplayConcurrency(n int) ConfigOptionFunc {
	return func(c *Config) {
		c.replayConcurrency = n
	}
}

// WithMsgRetentionDays specifies how long captured chatlogs are kept before
// being stripped from stored snapshots
func WithMsgRetentionDays(days uint) ConfigOptionFunc {
	return func(c *Config) {
		c.msgRetentionDays = days
	}
}

// WithBackupLimit specifies the maximum number of stored backups per creator
func WithBackupLimit(limit int) ConfigOptionFunc {
	return func(c *Config) {
		c.backupLimit = limit
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
