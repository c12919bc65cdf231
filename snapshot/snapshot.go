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
	"github.com/guildstash/guildstash/discord"
)

// Ban is a captured ban entry, denormalized to the banned user's id.
type Ban struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// MemberRef is a captured member reference used to re-apply nicknames
// and role assignments on restore.
type MemberRef struct {
	ID    string   `json:"id"`
	Nick  string   `json:"nick,omitempty"`
	Deaf  bool     `json:"deaf,omitempty"`
	Mute  bool     `json:"mute,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Snapshot is the full captured state of a guild. It is created once
// by the Capturer and never mutated afterwards; the restorer reads it
// only.
type Snapshot struct {
	ID                          string                       `json:"id"`
	Name                        string                       `json:"name"`
	Region                      string                       `json:"region,omitempty"`
	VerificationLevel           int                          `json:"verification_level"`
	DefaultMessageNotifications int                          `json:"default_message_notifications"`
	ExplicitContentFilter       int                          `json:"explicit_content_filter"`
	AfkTimeout                  int                          `json:"afk_timeout,omitempty"`
	AfkChannelID                string                       `json:"afk_channel_id,omitempty"`
	SystemChannelID             string                       `json:"system_channel_id,omitempty"`
	Features                    []string                     `json:"features,omitempty"`
	Roles                       []discord.Role               `json:"roles,omitempty"`
	Channels                    []discord.Channel            `json:"channels,omitempty"`
	Bans                        []Ban                        `json:"bans,omitempty"`
	Members                     []MemberRef                  `json:"members,omitempty"`
	Messages                    map[string][]discord.Message `json:"messages,omitempty"`
}
