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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guildstash/guildstash"
	"github.com/guildstash/guildstash/internal/config"
	"github.com/guildstash/guildstash/internal/service"
)

func withService(
	cmd *cobra.Command,
	f func(ctx context.Context, svc *guildstash.Service),
) {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		slog.Error("no config found in context")
		os.Exit(1)
	}
	logger := commonRun()
	svc, err := service.New(cfg, logger)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if err := svc.Start(cmd.Context()); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Error(err.Error())
		}
	}()
	f(cmd.Context(), svc)
}

func backupsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage stored backups",
	}
	cmd.AddCommand(backupsListCommand())
	cmd.AddCommand(backupsInfoCommand())
	cmd.AddCommand(backupsDeleteCommand())
	cmd.AddCommand(backupsInviteCommand())
	return cmd
}

func backupsListCommand() *cobra.Command {
	var creator string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups for a creator",
		Run: func(cmd *cobra.Command, args []string) {
			withService(cmd, func(ctx context.Context, svc *guildstash.Service) {
				backups, err := svc.Store().ListBackups(ctx, creator)
				if err != nil {
					slog.Error(err.Error())
					os.Exit(1)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tGUILD\tNAME\tCREATED\tINTERVAL")
				for _, b := range backups {
					fmt.Fprintf(
						w,
						"%s\t%s\t%s\t%s\t%t\n",
						b.ID,
						b.GuildID,
						b.GuildName,
						b.Timestamp.Format(time.RFC3339),
						b.Interval,
					)
				}
				w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(
		&creator,
		"creator",
		"",
		"user id whose backups to list",
	)
	return cmd
}

func backupsInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <backup-id>",
		Short: "Show details of a stored backup",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withService(cmd, func(ctx context.Context, svc *guildstash.Service) {
				backup, err := svc.Store().GetBackup(ctx, args[0])
				if err != nil {
					slog.Error(err.Error())
					os.Exit(1)
				}
				snap, err := svc.Store().GetSnapshot(ctx, args[0])
				if err != nil {
					slog.Error(err.Error())
					os.Exit(1)
				}
				msgCount := 0
				for _, msgs := range snap.Messages {
					msgCount += len(msgs)
				}
				fmt.Printf("ID:        %s\n", backup.ID)
				fmt.Printf("Guild:     %s (%s)\n", snap.Name, snap.ID)
				fmt.Printf("Created:   %s\n", backup.Timestamp.Format(time.RFC3339))
				fmt.Printf("Creator:   %s\n", backup.CreatorID)
				fmt.Printf("Roles:     %d\n", len(snap.Roles))
				fmt.Printf("Channels:  %d\n", len(snap.Channels))
				fmt.Printf("Members:   %d\n", len(snap.Members))
				fmt.Printf("Bans:      %d\n", len(snap.Bans))
				fmt.Printf("Messages:  %d\n", msgCount)
				if backup.Invite != "" {
					fmt.Printf("Invite:    https://discord.gg/%s\n", backup.Invite)
				}
			})
		},
	}
}

func backupsInviteCommand() *cobra.Command {
	var enable bool
	var disable bool
	cmd := &cobra.Command{
		Use:   "invite <backup-id>",
		Short: "Show or toggle the constant invite for a backup",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withService(cmd, func(ctx context.Context, svc *guildstash.Service) {
				if enable || disable {
					if err := svc.Store().SetConstInvite(ctx, args[0], enable); err != nil {
						slog.Error(err.Error())
						os.Exit(1)
					}
				}
				backup, err := svc.Store().GetBackup(ctx, args[0])
				if err != nil {
					slog.Error(err.Error())
					os.Exit(1)
				}
				state := "disabled"
				if backup.ConstInvite {
					state = "enabled"
				}
				fmt.Printf("constant invite: %s\n", state)
				if backup.Invite != "" {
					fmt.Printf("current invite:  https://discord.gg/%s\n", backup.Invite)
				} else {
					fmt.Println("current invite:  none (load the backup first)")
				}
			})
		},
	}
	cmd.Flags().BoolVar(&enable, "on", false, "enable the constant invite")
	cmd.Flags().BoolVar(&disable, "off", false, "disable the constant invite")
	cmd.MarkFlagsMutuallyExclusive("on", "off")
	return cmd
}

func backupsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a stored backup",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withService(cmd, func(ctx context.Context, svc *guildstash.Service) {
				if err := svc.Store().DeleteBackup(ctx, args[0]); err != nil {
					slog.Error(err.Error())
					os.Exit(1)
				}
				fmt.Printf("deleted backup %s\n", args[0])
			})
		},
	}
}
