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

package discord

import (
	"encoding/json"
	"slices"
	"strconv"
)

// Channel types as defined by the remote API.
const (
	ChannelTypeText     = 0
	ChannelTypeVoice    = 2
	ChannelTypeCategory = 4
	ChannelTypeNews     = 5
	ChannelTypeStore    = 6
)

// Guild features that gate channel capabilities.
const (
	FeatureVipRegions = "VIP_REGIONS"
	FeatureNews       = "NEWS"
	FeatureCommerce   = "COMMERCE"
)

// MaxOverwrites is the per-channel permission overwrite limit imposed
// by the remote API.
const MaxOverwrites = 100

// VoiceBitrateCap is the highest voice bitrate allowed without the
// VIP_REGIONS feature.
const VoiceBitrateCap = 96000

// SnowflakeLess compares two snowflake ids numerically. Ids that fail to
// parse sort first.
func SnowflakeLess(a, b string) bool {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	if aerr != nil || berr != nil {
		return aerr != nil && berr == nil
	}
	return ai < bi
}

// Guild represents a guild as returned by the remote API. Only the
// fields the engine captures and restores are modeled.
type Guild struct {
	ID                          string    `json:"id"`
	Name                        string    `json:"name"`
	Icon                        string    `json:"icon,omitempty"`
	Region                      string    `json:"region,omitempty"`
	AfkChannelID                string    `json:"afk_channel_id,omitempty"`
	AfkTimeout                  int       `json:"afk_timeout,omitempty"`
	VerificationLevel           int       `json:"verification_level"`
	DefaultMessageNotifications int       `json:"default_message_notifications"`
	ExplicitContentFilter       int       `json:"explicit_content_filter"`
	SystemChannelID             string    `json:"system_channel_id,omitempty"`
	Features                    []string  `json:"features,omitempty"`
	Roles                       []Role    `json:"roles,omitempty"`
	Channels                    []Channel `json:"channels,omitempty"`
}

// HasFeature returns true if the guild has the named feature enabled.
func (g *Guild) HasFeature(name string) bool {
	return slices.Contains(g.Features, name)
}

// DefaultRole returns the guild's implicit everyone role, identified by
// sharing the guild's own id. Returns nil if the role list was not
// fetched.
func (g *Guild) DefaultRole() *Role {
	for i := range g.Roles {
		if g.Roles[i].ID == g.ID {
			return &g.Roles[i]
		}
	}
	return nil
}

// Role represents a guild role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"`
	Managed     bool   `json:"managed"`
	Mentionable bool   `json:"mentionable"`
}

// IsDefault returns true if the role is the guild's everyone role.
func (r *Role) IsDefault(guildID string) bool {
	return r.ID == guildID
}

// RoleParams is the request body for role create and edit calls.
type RoleParams struct {
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Permissions string `json:"permissions"`
	Mentionable bool   `json:"mentionable"`
}

// Overwrite is a single permission overwrite on a channel.
type Overwrite struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// Channel represents a guild channel of any type.
type Channel struct {
	ID                   string      `json:"id"`
	Type                 int         `json:"type"`
	Name                 string      `json:"name"`
	Position             int         `json:"position"`
	ParentID             string      `json:"parent_id,omitempty"`
	Topic                string      `json:"topic,omitempty"`
	Nsfw                 bool        `json:"nsfw,omitempty"`
	RateLimitPerUser     int         `json:"rate_limit_per_user,omitempty"`
	Bitrate              int         `json:"bitrate,omitempty"`
	UserLimit            int         `json:"user_limit,omitempty"`
	PermissionOverwrites []Overwrite `json:"permission_overwrites,omitempty"`
}

// ChannelParams is the request body for channel creation.
type ChannelParams struct {
	Name                 string      `json:"name"`
	Type                 int         `json:"type"`
	Position             int         `json:"position"`
	ParentID             string      `json:"parent_id,omitempty"`
	Topic                string      `json:"topic,omitempty"`
	Nsfw                 bool        `json:"nsfw,omitempty"`
	RateLimitPerUser     int         `json:"rate_limit_per_user,omitempty"`
	Bitrate              int         `json:"bitrate,omitempty"`
	UserLimit            int         `json:"user_limit,omitempty"`
	PermissionOverwrites []Overwrite `json:"permission_overwrites"`
}

// GuildParams is the request body for guild edits. Pointer fields are
// omitted when nil so partial edits stay partial.
type GuildParams struct {
	Name                        string `json:"name,omitempty"`
	Region                      string `json:"region,omitempty"`
	VerificationLevel           *int   `json:"verification_level,omitempty"`
	DefaultMessageNotifications *int   `json:"default_message_notifications,omitempty"`
	ExplicitContentFilter       *int   `json:"explicit_content_filter,omitempty"`
	AfkChannelID                string `json:"afk_channel_id,omitempty"`
	AfkTimeout                  int    `json:"afk_timeout,omitempty"`
	SystemChannelID             string `json:"system_channel_id,omitempty"`
}

// User is the denormalized author snapshot carried on captured
// messages.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
}

// AvatarURL returns the CDN URL for the user's avatar, or empty when
// the user has none.
func (u *User) AvatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	return "https://cdn.discordapp.com/avatars/" + u.ID + "/" + u.Avatar + ".png"
}

// Ban is a single guild ban entry.
type Ban struct {
	Reason string `json:"reason,omitempty"`
	User   User   `json:"user"`
}

// Member represents a guild member. Roles holds role ids.
type Member struct {
	User  User     `json:"user"`
	Nick  string   `json:"nick,omitempty"`
	Deaf  bool     `json:"deaf,omitempty"`
	Mute  bool     `json:"mute,omitempty"`
	Roles []string `json:"roles"`
}

// MemberParams is the request body for member edits.
type MemberParams struct {
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// Attachment is a file attached to a message, referenced by URL.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Message represents a channel message. Embeds are carried opaquely;
// the engine never inspects their contents.
type Message struct {
	ID          string            `json:"id"`
	Content     string            `json:"content,omitempty"`
	Author      User              `json:"author"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Embeds      []json.RawMessage `json:"embeds,omitempty"`
	Pinned      bool              `json:"pinned,omitempty"`
}

// Empty returns true if the message carries no content, embeds or
// attachments and is therefore not worth replaying.
func (m *Message) Empty() bool {
	return m.Content == "" && len(m.Embeds) == 0 && len(m.Attachments) == 0
}

// Webhook is a channel webhook used for message replay.
type Webhook struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
}

// File is an in-memory file uploaded alongside a webhook execution.
type File struct {
	Name string
	Body []byte
}

// AllowedMentions controls mention expansion on webhook executions.
// An empty Parse list suppresses all mention expansion.
type AllowedMentions struct {
	Parse []string `json:"parse"`
}

// WebhookParams is the request body for webhook executions.
type WebhookParams struct {
	Content         string            `json:"content,omitempty"`
	Username        string            `json:"username,omitempty"`
	AvatarURL       string            `json:"avatar_url,omitempty"`
	Embeds          []json.RawMessage `json:"embeds,omitempty"`
	AllowedMentions *AllowedMentions  `json:"allowed_mentions,omitempty"`
}

// Invite is a guild invite pointing at a channel.
type Invite struct {
	Code      string `json:"code"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

// InviteParams is the request body for invite creation. MaxAge zero
// makes the invite permanent.
type InviteParams struct {
	MaxAge  int  `json:"max_age"`
	MaxUses int  `json:"max_uses"`
	Unique  bool `json:"unique,omitempty"`
}
