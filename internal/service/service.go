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

package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildstash/guildstash"
	"github.com/guildstash/guildstash/internal/config"
)

// New assembles a guildstash.Service from the file/env config. It is
// shared by the serve loop and the one-shot CLI commands.
func New(cfg *config.Config, logger *slog.Logger) (*guildstash.Service, error) {
	token, err := cfg.LoadToken()
	if err != nil {
		return nil, err
	}

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}

	return guildstash.New(
		guildstash.NewConfig(
			guildstash.WithLogger(logger),
			guildstash.WithToken(token),
			guildstash.WithApiBaseUrl(cfg.ApiBaseUrl),
			guildstash.WithDataDir(cfg.DataDir),
			guildstash.WithBlobLocation(cfg.BlobLocation),
			guildstash.WithGcsCredentials(cfg.GcsCredentials),
			guildstash.WithChatlogDepth(cfg.ChatlogDepth),
			guildstash.WithReplayConcurrency(cfg.ReplayConcurrency),
			guildstash.WithMsgRetentionDays(cfg.MsgRetentionDays),
			guildstash.WithBackupLimit(cfg.BackupLimit),
			guildstash.WithTracing(cfg.Tracing),
			guildstash.WithTracingStdout(cfg.TracingStdout),
			guildstash.WithShutdownTimeout(shutdownTimeout),
			// Enable metrics with default prometheus registry
			guildstash.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
}

func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "service")

	svc, err := New(cfg, logger)
	if err != nil {
		return err
	}

	// Parse shutdown timeout for the outer shutdown sequence
	shutdownTimeout := 30 * time.Second
	if cfg.ShutdownTimeout != "" {
		shutdownTimeout, _ = time.ParseDuration(cfg.ShutdownTimeout)
	}

	// Metrics and debug listener
	http.Handle("/metrics", promhttp.Handler())
	logger.Info(
		"serving prometheus metrics on "+fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		"component",
		"service",
	)
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", "service",
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		//nolint:contextcheck
		err := svc.Run(signalCtx)
		select {
		case errChan <- err:
		case <-signalCtx.Done():
		}
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown")

		// Shutdown metrics server
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}

		// Shutdown service
		if err := svc.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err)
			return err
		}
		logger.Info("shutdown complete")
		return nil

	case err := <-errChan:
		if err == nil {
			logger.Info("service stopped")
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				shutdownTimeout,
			)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown error", "error", err)
			}
			if err := svc.Stop(); err != nil {
				logger.Error("shutdown errors occurred", "error", err)
				return err
			}
			return nil
		}
		logger.Error("service error", "error", err)
		signalCtxStop()

		if stopErr := svc.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error",
				stopErr,
			)
		}

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			shutdownTimeout,
		)
		defer cancel()
		if shutdownErr := metricsServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("metrics server shutdown error", "error", shutdownErr)
		}

		return err
	}
}
