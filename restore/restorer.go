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

package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/guildstash/guildstash/discord"
	"github.com/guildstash/guildstash/snapshot"
)

// MutateClient is the remote surface the restorer consumes: reads on
// the target guild plus every mutation the stage pipeline issues.
type MutateClient interface {
	Guild(ctx context.Context, guildID string) (*discord.Guild, error)
	GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
	GuildMembers(ctx context.Context, guildID string, limit int) ([]discord.Member, error)
	EditGuild(ctx context.Context, guildID string, params discord.GuildParams) error
	CreateRole(ctx context.Context, guildID string, params discord.RoleParams) (*discord.Role, error)
	EditRole(ctx context.Context, guildID string, roleID string, params discord.RoleParams) error
	DeleteRole(ctx context.Context, guildID string, roleID string) error
	CreateChannel(ctx context.Context, guildID string, params discord.ChannelParams) (*discord.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	CreateBan(ctx context.Context, guildID string, userID string, reason string) error
	EditMember(ctx context.Context, guildID string, userID string, params discord.MemberParams) error
	CreateWebhook(ctx context.Context, channelID string, name string) (*discord.Webhook, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
	ExecuteWebhook(ctx context.Context, webhook *discord.Webhook, params discord.WebhookParams, files []discord.File) (*discord.Message, error)
	PinMessage(ctx context.Context, channelID string, messageID string) error
	CreateInvite(ctx context.Context, channelID string, params discord.InviteParams) (*discord.Invite, error)
	FetchAttachment(ctx context.Context, attachmentURL string) ([]byte, error)
}

const (
	// DefaultReplayConcurrency bounds how many channels replay
	// messages at the same time. Higher values risk remote-side abuse
	// detection against the webhook endpoints.
	DefaultReplayConcurrency = 10

	// DefaultRoleCreateTimeout bounds a single role-creation call.
	// The platform's rolling role-creation ceiling manifests as the
	// call never completing, so a timeout here means the ceiling was
	// hit.
	DefaultRoleCreateTimeout = 15 * time.Second

	// DefaultWebhookWaitTimeout is how long a pending webhook
	// creation may stay unresolved before the run surfaces a
	// rate-limit status.
	DefaultWebhookWaitTimeout = 10 * time.Second

	loadingName = "Loading ..."
)

// RestorerConfig holds the dependencies and tuning for a restore run.
type RestorerConfig struct {
	Client             MutateClient
	Logger             *slog.Logger
	Metrics            *Metrics
	ReplayConcurrency  int
	RoleCreateTimeout  time.Duration
	WebhookWaitTimeout time.Duration
}

// Restorer drives one restore of a snapshot onto a target guild. It
// holds the per-run state and is not reusable across runs.
type Restorer struct {
	config     RestorerConfig
	client     MutateClient
	logger     *slog.Logger
	metrics    *Metrics
	targetID   string
	snapshot   *snapshot.Snapshot
	options    *snapshot.RestoreOptions
	chatlog    int
	translator *Translator
	target     *discord.Guild
	invite     *discord.Invite
	status     atomic.Pointer[string]
}

// NewRestorer creates a restorer for one run. The translator is
// seeded with the source-to-target guild mapping; previously
// persisted translations can be merged with Translator().Import
// before the run starts.
func NewRestorer(
	cfg RestorerConfig,
	targetID string,
	snap *snapshot.Snapshot,
	options *snapshot.RestoreOptions,
	chatlogDepth int,
) *Restorer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReplayConcurrency <= 0 {
		cfg.ReplayConcurrency = DefaultReplayConcurrency
	}
	if cfg.RoleCreateTimeout <= 0 {
		cfg.RoleCreateTimeout = DefaultRoleCreateTimeout
	}
	if cfg.WebhookWaitTimeout <= 0 {
		cfg.WebhookWaitTimeout = DefaultWebhookWaitTimeout
	}
	if options == nil {
		options = snapshot.DefaultRestoreOptions()
	}
	r := &Restorer{
		config:     cfg,
		client:     cfg.Client,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		targetID:   targetID,
		snapshot:   snap,
		options:    options,
		chatlog:    chatlogDepth,
		translator: NewTranslator(snap.ID, targetID),
	}
	r.setStatus("starting")
	return r
}

// TargetID returns the target guild id of the run.
func (r *Restorer) TargetID() string {
	return r.targetID
}

// Translator returns the run's id translation map.
func (r *Restorer) Translator() *Translator {
	return r.translator
}

// Invite returns the invite created by the invite stage, or nil.
func (r *Restorer) Invite() *discord.Invite {
	return r.invite
}

// Status returns the run's current stage label. Safe to call from the
// heartbeat loop while the run is in progress.
func (r *Restorer) Status() string {
	if s := r.status.Load(); s != nil {
		return *s
	}
	return ""
}

func (r *Restorer) setStatus(status string) {
	r.status.Store(&status)
}

type stage struct {
	name string
	fn   func(context.Context) error
}

// Run executes the stage pipeline against the target guild and
// returns the populated translation map. Per-item remote failures are
// logged and skipped; only run-fatal conditions (role-creation limit,
// cancellation) escape to the caller. The target keeps a transient
// loading name until every stage has finished.
func (r *Restorer) Run(ctx context.Context) (*Translator, error) {
	target, err := r.client.Guild(ctx, r.targetID)
	if err != nil {
		r.metrics.runFinished("failed")
		return nil, fmt.Errorf("fetching target guild: %w", err)
	}
	r.target = target
	// Visible progress signal; the real name comes back at the end
	if err := r.client.EditGuild(ctx, r.targetID, discord.GuildParams{
		Name: loadingName,
	}); err != nil {
		if runFatal(ctx, err) {
			r.metrics.runFinished("failed")
			return nil, err
		}
		r.logger.Warn(
			"failed to set loading name",
			"component", "restorer",
			"guild", r.targetID,
			"error", err,
		)
	}
	stages := []stage{
		{"delete_roles", r.deleteRoles},
		{"roles", r.loadRoles},
		{"delete_channels", r.deleteChannels},
		{"channels", r.loadChannels},
		{"bans", r.loadBans},
		{"members", r.loadMembers},
		{"messages", r.loadMessages},
		{"settings", r.loadSettings},
		{"invite", r.createInvite},
	}
	for _, st := range stages {
		if !r.options.Get(st.name) {
			continue
		}
		r.setStatus("loading " + st.name)
		if err := st.fn(ctx); err != nil {
			if runFatal(ctx, err) {
				r.metrics.runFinished("failed")
				return nil, err
			}
			r.logger.Warn(
				"stage failed",
				"component", "restorer",
				"stage", st.name,
				"guild", r.targetID,
				"error", err,
			)
		}
	}
	if err := r.client.EditGuild(ctx, r.targetID, discord.GuildParams{
		Name: r.snapshot.Name,
	}); err != nil {
		if runFatal(ctx, err) {
			r.metrics.runFinished("failed")
			return nil, err
		}
		r.logger.Warn(
			"failed to restore guild name",
			"component", "restorer",
			"guild", r.targetID,
			"error", err,
		)
	}
	r.setStatus("done")
	r.metrics.runFinished("success")
	return r.translator, nil
}

// deleteRoles removes every non-managed, non-default role from the
// target, lowest position first so permission problems surface early.
// A permission denial aborts the rest of the stage; other failures
// skip the role.
func (r *Restorer) deleteRoles(ctx context.Context) error {
	existing := make([]discord.Role, 0, len(r.target.Roles))
	for _, role := range r.target.Roles {
		if role.Managed || role.IsDefault(r.target.ID) {
			continue
		}
		existing = append(existing, role)
	}
	slices.SortFunc(existing, func(a, b discord.Role) int {
		return a.Position - b.Position
	})
	for _, role := range existing {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.client.DeleteRole(ctx, r.targetID, role.ID); err != nil {
			if runFatal(ctx, err) {
				return err
			}
			if errors.Is(err, discord.ErrForbidden) {
				r.logger.Warn(
					"role deletion forbidden, aborting stage",
					"component", "restorer",
					"role", role.ID,
				)
				return nil
			}
			r.metrics.skipped("delete_roles")
			r.logger.Warn(
				"role deletion failed",
				"component", "restorer",
				"role", role.ID,
				"error", err,
			)
			continue
		}
		r.metrics.restored("delete_roles")
	}
	return nil
}

// isDefaultRole reports whether a snapshot role is the source guild's
// implicit everyone role. Cross-capture snapshots may carry it with a
// zero id.
func (r *Restorer) isDefaultRole(role *discord.Role) bool {
	return role.ID == r.snapshot.ID || role.ID == "0"
}

// loadRoles creates the snapshot roles highest position first so the
// translation map is populated before any position-dependent step
// needs it. The default role is edited in place rather than created.
// A timeout on a single creation means the platform's role-creation
// ceiling was hit and aborts the run.
func (r *Restorer) loadRoles(ctx context.Context) error {
	roles := slices.Clone(r.snapshot.Roles)
	slices.SortFunc(roles, func(a, b discord.Role) int {
		return b.Position - a.Position
	})
	for _, role := range roles {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := discord.RoleParams{
			Name:        role.Name,
			Color:       role.Color,
			Hoist:       role.Hoist,
			Permissions: role.Permissions,
			Mentionable: role.Mentionable,
		}
		if r.isDefaultRole(&role) {
			defaultRole := r.target.DefaultRole()
			if defaultRole == nil {
				continue
			}
			if err := r.client.EditRole(ctx, r.targetID, defaultRole.ID, params); err != nil {
				if runFatal(ctx, err) {
					return err
				}
				r.metrics.skipped("roles")
				r.logger.Warn(
					"default role edit failed",
					"component", "restorer",
					"error", err,
				)
				continue
			}
			r.translator.Put(role.ID, defaultRole.ID)
			r.metrics.restored("roles")
			continue
		}
		createCtx, cancel := context.WithTimeout(ctx, r.config.RoleCreateTimeout)
		created, err := r.client.CreateRole(createCtx, r.targetID, params)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return &RoleLimitError{}
			}
			r.metrics.skipped("roles")
			r.logger.Warn(
				"role creation failed",
				"component", "restorer",
				"role", role.ID,
				"error", err,
			)
			continue
		}
		r.translator.Put(role.ID, created.ID)
		r.metrics.restored("roles")
	}
	return nil
}

// deleteChannels removes every existing channel on the target.
// Per-channel failures are logged and skipped.
func (r *Restorer) deleteChannels(ctx context.Context) error {
	channels, err := r.client.GuildChannels(ctx, r.targetID)
	if err != nil {
		return fmt.Errorf("listing target channels: %w", err)
	}
	for _, channel := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.client.DeleteChannel(ctx, channel.ID); err != nil {
			if runFatal(ctx, err) {
				return err
			}
			r.metrics.skipped("delete_channels")
			r.logger.Warn(
				"channel deletion failed",
				"component", "restorer",
				"channel", channel.ID,
				"error", err,
			)
			continue
		}
		r.metrics.restored("delete_channels")
	}
	return nil
}

// tuneChannel adapts a snapshot channel to the target's capabilities
// and rewrites its relations through the translation map.
func (r *Restorer) tuneChannel(channel discord.Channel) discord.ChannelParams {
	params := discord.ChannelParams{
		Name:             channel.Name,
		Type:             channel.Type,
		Position:         channel.Position,
		Topic:            channel.Topic,
		Nsfw:             channel.Nsfw,
		RateLimitPerUser: channel.RateLimitPerUser,
		Bitrate:          channel.Bitrate,
		UserLimit:        channel.UserLimit,
	}
	// Bitrates over the cap require features tied to the guild tier
	if params.Bitrate > discord.VoiceBitrateCap &&
		!r.target.HasFeature(discord.FeatureVipRegions) {
		params.Bitrate = discord.VoiceBitrateCap
	}
	switch params.Type {
	case discord.ChannelTypeText, discord.ChannelTypeVoice, discord.ChannelTypeCategory:
	case discord.ChannelTypeNews:
		if !r.target.HasFeature(discord.FeatureNews) {
			params.Type = discord.ChannelTypeText
		}
	case discord.ChannelTypeStore:
		if !r.target.HasFeature(discord.FeatureCommerce) {
			params.Type = discord.ChannelTypeText
		}
	default:
		params.Type = discord.ChannelTypeText
	}
	if channel.ParentID != "" {
		// A parent that never got translated is dropped rather than
		// left dangling
		if parentID, ok := r.translator.Get(channel.ParentID); ok {
			params.ParentID = parentID
		}
	}
	overwrites := make([]discord.Overwrite, 0, len(channel.PermissionOverwrites))
	for _, overwrite := range channel.PermissionOverwrites {
		subjectID, ok := r.translator.Get(overwrite.ID)
		if !ok {
			continue
		}
		overwrite.ID = subjectID
		overwrites = append(overwrites, overwrite)
		if len(overwrites) >= discord.MaxOverwrites {
			break
		}
	}
	params.PermissionOverwrites = overwrites
	return params
}

// loadChannels creates the snapshot channels in two passes, parents
// before children, each pass ordered by ascending position.
func (r *Restorer) loadChannels(ctx context.Context) error {
	byPosition := func(a, b discord.Channel) int {
		return a.Position - b.Position
	}
	var parentless, children []discord.Channel
	for _, channel := range r.snapshot.Channels {
		if channel.ParentID == "" {
			parentless = append(parentless, channel)
		} else {
			children = append(children, channel)
		}
	}
	slices.SortFunc(parentless, byPosition)
	slices.SortFunc(children, byPosition)
	for _, channel := range slices.Concat(parentless, children) {
		if err := ctx.Err(); err != nil {
			return err
		}
		created, err := r.client.CreateChannel(
			ctx,
			r.targetID,
			r.tuneChannel(channel),
		)
		if err != nil {
			if runFatal(ctx, err) {
				return err
			}
			r.metrics.skipped("channels")
			r.logger.Warn(
				"channel creation failed",
				"component", "restorer",
				"channel", channel.ID,
				"error", err,
			)
			continue
		}
		r.translator.Put(channel.ID, created.ID)
		r.metrics.restored("channels")
	}
	return nil
}

// loadBans applies each captured ban independently.
func (r *Restorer) loadBans(ctx context.Context) error {
	for _, ban := range r.snapshot.Bans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.client.CreateBan(ctx, r.targetID, ban.ID, ban.Reason); err != nil {
			if runFatal(ctx, err) {
				return err
			}
			r.metrics.skipped("bans")
			r.logger.Warn(
				"ban failed",
				"component", "restorer",
				"user", ban.ID,
				"error", err,
			)
			continue
		}
		r.metrics.restored("bans")
	}
	return nil
}

// loadMembers re-applies captured nicknames and role assignments to
// members still present on the target. Roles are the union of the
// member's current roles and the translated snapshot roles; members
// that would gain nothing are left untouched.
func (r *Restorer) loadMembers(ctx context.Context) error {
	refs := make(map[string]snapshot.MemberRef, len(r.snapshot.Members))
	for _, ref := range r.snapshot.Members {
		refs[ref.ID] = ref
	}
	members, err := r.client.GuildMembers(ctx, r.targetID, 0)
	if err != nil {
		return fmt.Errorf("listing target members: %w", err)
	}
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		ref, ok := refs[member.User.ID]
		if !ok {
			continue
		}
		roles := slices.Clone(member.Roles)
		for _, sourceRole := range ref.Roles {
			targetRole, ok := r.translator.Get(sourceRole)
			if !ok || slices.Contains(roles, targetRole) {
				continue
			}
			roles = append(roles, targetRole)
		}
		if len(roles) == len(member.Roles) {
			continue
		}
		err := r.client.EditMember(ctx, r.targetID, member.User.ID, discord.MemberParams{
			Nick:  ref.Nick,
			Roles: roles,
		})
		if err != nil {
			if runFatal(ctx, err) {
				return err
			}
			r.metrics.skipped("members")
			r.logger.Warn(
				"member edit failed",
				"component", "restorer",
				"member", member.User.ID,
				"error", err,
			)
			continue
		}
		r.metrics.restored("members")
	}
	return nil
}

// loadSettings applies the snapshot's top-level guild settings.
// Channel references are rewritten through the translation map and
// dropped when untranslated. The guild name is applied by the final
// rename after all stages, not here.
func (r *Restorer) loadSettings(ctx context.Context) error {
	params := discord.GuildParams{
		Region:                      r.snapshot.Region,
		VerificationLevel:           &r.snapshot.VerificationLevel,
		DefaultMessageNotifications: &r.snapshot.DefaultMessageNotifications,
		ExplicitContentFilter:       &r.snapshot.ExplicitContentFilter,
		AfkTimeout:                  r.snapshot.AfkTimeout,
	}
	if id, ok := r.translator.Get(r.snapshot.AfkChannelID); ok {
		params.AfkChannelID = id
	}
	if id, ok := r.translator.Get(r.snapshot.SystemChannelID); ok {
		params.SystemChannelID = id
	}
	if err := r.client.EditGuild(ctx, r.targetID, params); err != nil {
		return fmt.Errorf("applying guild settings: %w", err)
	}
	return nil
}

// createInvite creates a standing invite on the first translated text
// channel, usable later as a stable locator independent of channel
// churn.
func (r *Restorer) createInvite(ctx context.Context) error {
	for _, channel := range r.snapshot.Channels {
		if channel.Type != discord.ChannelTypeText &&
			channel.Type != discord.ChannelTypeNews {
			continue
		}
		channelID, ok := r.translator.Get(channel.ID)
		if !ok {
			continue
		}
		invite, err := r.client.CreateInvite(ctx, channelID, discord.InviteParams{
			MaxAge: 0,
		})
		if err != nil {
			return fmt.Errorf("creating invite: %w", err)
		}
		r.invite = invite
		return nil
	}
	return nil
}
