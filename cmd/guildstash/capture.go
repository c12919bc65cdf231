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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guildstash/guildstash"
	"github.com/guildstash/guildstash/internal/config"
	"github.com/guildstash/guildstash/internal/service"
)

var captureFlags = struct {
	chatlogDepth int
	creator      string
	interval     bool
}{}

func captureRun(ctx context.Context, guildID string, cfg *config.Config) {
	logger := commonRun()

	svc, err := service.New(cfg, logger)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Error(err.Error())
		}
	}()

	chatlogDepth := captureFlags.chatlogDepth
	if chatlogDepth < 0 {
		chatlogDepth = cfg.ChatlogDepth
	}
	backupID, err := svc.CaptureBackup(ctx, guildstash.CaptureRequest{
		GuildID:      guildID,
		CreatorID:    captureFlags.creator,
		ChatlogDepth: chatlogDepth,
		Interval:     captureFlags.interval,
	})
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	fmt.Printf("created backup %s\n", backupID)
}

func captureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture <guild-id>",
		Short: "Capture a snapshot of a guild",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			ctx, stop := signal.NotifyContext(
				cmd.Context(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer stop()
			captureRun(ctx, args[0], cfg)
		},
	}
	cmd.Flags().IntVar(
		&captureFlags.chatlogDepth,
		"chatlog",
		-1,
		"messages to capture per channel (-1 uses the configured default)",
	)
	cmd.Flags().StringVar(
		&captureFlags.creator,
		"creator",
		"",
		"user id to record as the backup creator",
	)
	cmd.Flags().BoolVar(
		&captureFlags.interval,
		"interval",
		false,
		"mark the backup as interval-created",
	)
	return cmd
}
