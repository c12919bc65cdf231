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
	"github.com/guildstash/guildstash/snapshot"
)

var restoreFlags = struct {
	chatlogDepth int
	options      []string
}{}

func restoreRun(
	ctx context.Context,
	backupID string,
	targetID string,
	cfg *config.Config,
) {
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

	options := snapshot.DefaultRestoreOptions()
	options.Apply(restoreFlags.options)
	chatlogDepth := restoreFlags.chatlogDepth
	if chatlogDepth < 0 {
		chatlogDepth = cfg.ChatlogDepth
	}
	result, err := svc.RestoreBackup(ctx, guildstash.RestoreRequest{
		BackupID:     backupID,
		TargetID:     targetID,
		Options:      options,
		ChatlogDepth: chatlogDepth,
	})
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if result.Invite != nil {
		fmt.Printf(
			"restore complete: https://discord.gg/%s\n",
			result.Invite.Code,
		)
	} else {
		fmt.Println("restore complete")
	}
}

func restoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-id> <target-guild-id>",
		Short: "Restore a stored snapshot onto a guild",
		Args:  cobra.ExactArgs(2),
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
			restoreRun(ctx, args[0], args[1], cfg)
		},
	}
	cmd.Flags().IntVar(
		&restoreFlags.chatlogDepth,
		"chatlog",
		-1,
		"messages to replay per channel (-1 uses the configured default)",
	)
	cmd.Flags().StringSliceVar(
		&restoreFlags.options,
		"options",
		nil,
		"restore options, e.g. '*,!bans' or 'roles,channels'",
	)
	return cmd
}
