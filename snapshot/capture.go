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

package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/guildstash/guildstash/discord"
)

// ReadClient is the remote read surface the capturer consumes.
type ReadClient interface {
	Guild(ctx context.Context, guildID string) (*discord.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
	GuildBans(ctx context.Context, guildID string) ([]discord.Ban, error)
	GuildMembers(ctx context.Context, guildID string, limit int) ([]discord.Member, error)
	ChannelMessages(ctx context.Context, channelID string, limit int) ([]discord.Message, error)
	PinnedMessages(ctx context.Context, channelID string) ([]discord.Message, error)
}

// CapturerConfig holds dependencies for a Capturer.
type CapturerConfig struct {
	Client ReadClient
	Logger *slog.Logger
}

// Capturer reads the live state of a guild and produces a Snapshot.
type Capturer struct {
	client ReadClient
	logger *slog.Logger
}

// NewCapturer creates a Capturer.
func NewCapturer(cfg CapturerConfig) *Capturer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{
		client: cfg.Client,
		logger: logger,
	}
}

// Capture reads the guild's full state. The base guild fetch must
// succeed; each further category (roles come with the guild, bans,
// members, messages) is captured independently and a remote failure
// in one leaves that category absent rather than failing the capture.
// chatlogDepth <= 0 skips message capture entirely.
func (c *Capturer) Capture(
	ctx context.Context,
	guildID string,
	chatlogDepth int,
) (*Snapshot, error) {
	guild, err := c.client.Guild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("capturing guild %s: %w", guildID, err)
	}
	snap := &Snapshot{
		ID:                          guild.ID,
		Name:                        guild.Name,
		Region:                      guild.Region,
		VerificationLevel:           guild.VerificationLevel,
		DefaultMessageNotifications: guild.DefaultMessageNotifications,
		ExplicitContentFilter:       guild.ExplicitContentFilter,
		AfkTimeout:                  guild.AfkTimeout,
		AfkChannelID:                guild.AfkChannelID,
		SystemChannelID:             guild.SystemChannelID,
		Features:                    slices.Clone(guild.Features),
	}
	c.captureRoles(snap, guild)
	c.captureChannels(ctx, snap)
	c.captureBans(ctx, snap)
	c.captureMembers(ctx, snap)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if chatlogDepth > 0 {
		c.captureMessages(ctx, snap, chatlogDepth)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// captureRoles records all non-managed roles. Managed roles belong to
// integrations and cannot be recreated on another guild.
func (c *Capturer) captureRoles(snap *Snapshot, guild *discord.Guild) {
	for _, role := range guild.Roles {
		if role.Managed {
			continue
		}
		snap.Roles = append(snap.Roles, role)
	}
}

func (c *Capturer) captureChannels(ctx context.Context, snap *Snapshot) {
	channels, err := c.client.GuildChannels(ctx, snap.ID)
	if err != nil {
		c.logger.Warn(
			"channel capture failed",
			"component", "capturer",
			"guild", snap.ID,
			"error", err,
		)
		return
	}
	snap.Channels = channels
}

func (c *Capturer) captureBans(ctx context.Context, snap *Snapshot) {
	bans, err := c.client.GuildBans(ctx, snap.ID)
	if err != nil {
		c.logger.Warn(
			"ban capture failed",
			"component", "capturer",
			"guild", snap.ID,
			"error", err,
		)
		return
	}
	for _, ban := range bans {
		snap.Bans = append(snap.Bans, Ban{
			ID:     ban.User.ID,
			Reason: ban.Reason,
		})
	}
}

func (c *Capturer) captureMembers(ctx context.Context, snap *Snapshot) {
	members, err := c.client.GuildMembers(ctx, snap.ID, 0)
	if err != nil {
		c.logger.Warn(
			"member capture failed",
			"component", "capturer",
			"guild", snap.ID,
			"error", err,
		)
		return
	}
	for _, member := range members {
		snap.Members = append(snap.Members, MemberRef{
			ID:    member.User.ID,
			Nick:  member.Nick,
			Deaf:  member.Deaf,
			Mute:  member.Mute,
			Roles: member.Roles,
		})
	}
}

// captureMessages captures up to depth recent messages per eligible
// channel plus all currently pinned messages, merged per MergePinned.
// Voice and category channels carry no chatlog and are skipped.
func (c *Capturer) captureMessages(
	ctx context.Context,
	snap *Snapshot,
	depth int,
) {
	messages := make(map[string][]discord.Message)
	for _, channel := range snap.Channels {
		if channel.Type == discord.ChannelTypeVoice ||
			channel.Type == discord.ChannelTypeCategory {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		chatlog, err := c.client.ChannelMessages(ctx, channel.ID, depth)
		if err != nil {
			c.logger.Warn(
				"message capture failed",
				"component", "capturer",
				"channel", channel.ID,
				"error", err,
			)
			continue
		}
		pinned, err := c.client.PinnedMessages(ctx, channel.ID)
		if err != nil {
			c.logger.Warn(
				"pin capture failed",
				"component", "capturer",
				"channel", channel.ID,
				"error", err,
			)
			pinned = nil
		}
		merged := MergePinned(chatlog, pinned)
		if len(merged) > 0 {
			messages[channel.ID] = merged
		}
	}
	if len(messages) > 0 {
		snap.Messages = messages
	}
}

// MergePinned merges the pinned message list into a chatlog list. A
// pinned copy replaces the same-id chatlog entry; new pinned messages
// are appended. The result is ordered newest-first by numeric id.
func MergePinned(
	chatlog []discord.Message,
	pinned []discord.Message,
) []discord.Message {
	merged := slices.Clone(chatlog)
	index := make(map[string]int, len(merged))
	for i, msg := range merged {
		index[msg.ID] = i
	}
	for _, msg := range pinned {
		msg.Pinned = true
		if i, ok := index[msg.ID]; ok {
			merged[i] = msg
			continue
		}
		index[msg.ID] = len(merged)
		merged = append(merged, msg)
	}
	slices.SortFunc(merged, func(a, b discord.Message) int {
		if discord.SnowflakeLess(b.ID, a.ID) {
			return -1
		}
		if discord.SnowflakeLess(a.ID, b.ID) {
			return 1
		}
		return 0
	})
	return merged
}
