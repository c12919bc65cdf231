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

package restore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildstash/guildstash/discord"
	"github.com/guildstash/guildstash/restore"
	"github.com/guildstash/guildstash/snapshot"
)

// fakeClient is an in-memory stand-in for the remote API. Mutation
// calls record their arguments; per-call hooks inject failures.
type fakeClient struct {
	mu sync.Mutex

	guild   *discord.Guild
	members []discord.Member

	deletedRoles    []string
	createdRoles    []discord.RoleParams
	editedRoles     map[string]discord.RoleParams
	deletedChannels []string
	createdChannels []discord.ChannelParams
	bans            map[string]string
	editedMembers   map[string]discord.MemberParams
	guildEdits      []discord.GuildParams
	invites         []string
	executed        map[string][]discord.WebhookParams
	pins            map[string][]string
	webhookCount    int

	deleteRoleErr    func(roleID string) error
	deleteChannelErr func(channelID string) error
	createRoleHook   func(ctx context.Context) error
	createWebhook    func(ctx context.Context, channelID string) (*discord.Webhook, error)
	executeHook      func(channelID string) error
	nextID           int
	executeDelay     time.Duration
	activeExecs      int
	maxActiveExecs   int
}

func newFakeClient(guild *discord.Guild) *fakeClient {
	return &fakeClient{
		guild:         guild,
		editedRoles:   make(map[string]discord.RoleParams),
		bans:          make(map[string]string),
		editedMembers: make(map[string]discord.MemberParams),
		executed:      make(map[string][]discord.WebhookParams),
		pins:          make(map[string][]string),
	}
}

func (f *fakeClient) newID() string {
	f.nextID++
	return fmt.Sprintf("t%d", f.nextID)
}

func (f *fakeClient) Guild(
	_ context.Context,
	_ string,
) (*discord.Guild, error) {
	return f.guild, nil
}

func (f *fakeClient) GuildChannels(
	_ context.Context,
	_ string,
) ([]discord.Channel, error) {
	return f.guild.Channels, nil
}

func (f *fakeClient) GuildMembers(
	_ context.Context,
	_ string,
	_ int,
) ([]discord.Member, error) {
	return f.members, nil
}

func (f *fakeClient) EditGuild(
	_ context.Context,
	_ string,
	params discord.GuildParams,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guildEdits = append(f.guildEdits, params)
	return nil
}

func (f *fakeClient) CreateRole(
	ctx context.Context,
	_ string,
	params discord.RoleParams,
) (*discord.Role, error) {
	if f.createRoleHook != nil {
		if err := f.createRoleHook(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdRoles = append(f.createdRoles, params)
	return &discord.Role{ID: f.newID(), Name: params.Name}, nil
}

func (f *fakeClient) EditRole(
	_ context.Context,
	_ string,
	roleID string,
	params discord.RoleParams,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedRoles[roleID] = params
	return nil
}

func (f *fakeClient) DeleteRole(
	_ context.Context,
	_ string,
	roleID string,
) error {
	if f.deleteRoleErr != nil {
		if err := f.deleteRoleErr(roleID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRoles = append(f.deletedRoles, roleID)
	return nil
}

func (f *fakeClient) CreateChannel(
	_ context.Context,
	_ string,
	params discord.ChannelParams,
) (*discord.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdChannels = append(f.createdChannels, params)
	return &discord.Channel{ID: f.newID(), Name: params.Name}, nil
}

func (f *fakeClient) DeleteChannel(
	_ context.Context,
	channelID string,
) error {
	if f.deleteChannelErr != nil {
		if err := f.deleteChannelErr(channelID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *fakeClient) CreateBan(
	_ context.Context,
	_ string,
	userID string,
	reason string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans[userID] = reason
	return nil
}

func (f *fakeClient) EditMember(
	_ context.Context,
	_ string,
	userID string,
	params discord.MemberParams,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editedMembers[userID] = params
	return nil
}

func (f *fakeClient) CreateWebhook(
	ctx context.Context,
	channelID string,
	name string,
) (*discord.Webhook, error) {
	if f.createWebhook != nil {
		return f.createWebhook(ctx, channelID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookCount++
	return &discord.Webhook{ID: f.newID(), ChannelID: channelID}, nil
}

func (f *fakeClient) DeleteWebhook(
	_ context.Context,
	_ string,
) error {
	return nil
}

func (f *fakeClient) ExecuteWebhook(
	ctx context.Context,
	webhook *discord.Webhook,
	params discord.WebhookParams,
	_ []discord.File,
) (*discord.Message, error) {
	if f.executeHook != nil {
		if err := f.executeHook(webhook.ChannelID); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	f.activeExecs++
	if f.activeExecs > f.maxActiveExecs {
		f.maxActiveExecs = f.activeExecs
	}
	delay := f.executeDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeExecs--
	f.executed[webhook.ChannelID] = append(
		f.executed[webhook.ChannelID],
		params,
	)
	return &discord.Message{ID: f.newID(), Content: params.Content}, nil
}

func (f *fakeClient) PinMessage(
	_ context.Context,
	channelID string,
	messageID string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins[channelID] = append(f.pins[channelID], messageID)
	return nil
}

func (f *fakeClient) CreateInvite(
	_ context.Context,
	channelID string,
	_ discord.InviteParams,
) (*discord.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, channelID)
	return &discord.Invite{Code: "abc123", ChannelID: channelID}, nil
}

func (f *fakeClient) FetchAttachment(
	_ context.Context,
	_ string,
) ([]byte, error) {
	return []byte("data"), nil
}

func emptyTarget() *discord.Guild {
	return &discord.Guild{
		ID:   "900",
		Name: "target",
		Roles: []discord.Role{
			{ID: "900", Name: "@everyone", Position: 0},
		},
	}
}

func structureSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		ID:   "100",
		Name: "source",
		Roles: []discord.Role{
			{ID: "100", Name: "@everyone", Position: 0, Permissions: "104324161"},
			{ID: "101", Name: "mods", Position: 2, Color: 0xff0000},
			{ID: "102", Name: "members", Position: 1},
		},
		Channels: []discord.Channel{
			{ID: "201", Name: "stuff", Type: discord.ChannelTypeCategory, Position: 0},
			{
				ID:       "202",
				Name:     "general",
				Type:     discord.ChannelTypeText,
				Position: 0,
				ParentID: "201",
				PermissionOverwrites: []discord.Overwrite{
					{ID: "101", Type: "role", Allow: "1024"},
				},
			},
		},
	}
}

func structureOptions() *snapshot.RestoreOptions {
	o := snapshot.NewRestoreOptions(nil)
	o.Apply([]string{"roles", "channels", "settings", "invite"})
	return o
}

func TestRestoreStructureOntoEmptyTarget(t *testing.T) {
	client := newFakeClient(emptyTarget())
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		structureSnapshot(),
		structureOptions(),
		0,
	)
	translator, err := r.Run(context.Background())
	require.NoError(t, err)

	// Both non-default roles created, highest position first
	require.Len(t, client.createdRoles, 2)
	assert.Equal(t, "mods", client.createdRoles[0].Name)
	assert.Equal(t, "members", client.createdRoles[1].Name)
	// Default role edited in place, never created
	require.Contains(t, client.editedRoles, "900")
	assert.Equal(t, "104324161", client.editedRoles["900"].Permissions)

	// Category created before its child, child parent translated
	require.Len(t, client.createdChannels, 2)
	assert.Equal(t, "stuff", client.createdChannels[0].Name)
	child := client.createdChannels[1]
	assert.Equal(t, "general", child.Name)
	categoryID, ok := translator.Get("201")
	require.True(t, ok)
	assert.Equal(t, categoryID, child.ParentID)
	// Overwrite subject rewritten to the created mods role
	modsID, ok := translator.Get("101")
	require.True(t, ok)
	require.Len(t, child.PermissionOverwrites, 1)
	assert.Equal(t, modsID, child.PermissionOverwrites[0].ID)

	// Invite created on the translated text channel
	textID, ok := translator.Get("202")
	require.True(t, ok)
	assert.Equal(t, []string{textID}, client.invites)
	require.NotNil(t, r.Invite())
	assert.Equal(t, "abc123", r.Invite().Code)

	// Loading name first, real name last
	require.NotEmpty(t, client.guildEdits)
	assert.Equal(t, "Loading ...", client.guildEdits[0].Name)
	assert.Equal(t, "source", client.guildEdits[len(client.guildEdits)-1].Name)
}

func TestRestoreReusesImportedTranslations(t *testing.T) {
	client := newFakeClient(emptyTarget())
	snap := structureSnapshot()
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"settings"})
	snap.AfkChannelID = "250"
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		snap,
		options,
		0,
	)
	r.Translator().Import(map[string]string{"250": "950"})
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	var settings *discord.GuildParams
	for i := range client.guildEdits {
		if client.guildEdits[i].VerificationLevel != nil {
			settings = &client.guildEdits[i]
		}
	}
	require.NotNil(t, settings, "settings edit not issued")
	assert.Equal(t, "950", settings.AfkChannelID)
}

func TestDeleteRolesForbiddenAbortsStage(t *testing.T) {
	target := emptyTarget()
	target.Roles = append(target.Roles,
		discord.Role{ID: "901", Name: "old1", Position: 1},
		discord.Role{ID: "902", Name: "old2", Position: 2},
	)
	client := newFakeClient(target)
	client.deleteRoleErr = func(roleID string) error {
		return discord.ErrForbidden
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"delete_roles", "channels"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		structureSnapshot(),
		options,
		0,
	)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	// Stage aborted without deleting anything, later stages still ran
	assert.Empty(t, client.deletedRoles)
	assert.Len(t, client.createdChannels, 2)
}

func TestStalledRequestSkipsItemOnly(t *testing.T) {
	target := emptyTarget()
	target.Channels = append(target.Channels,
		discord.Channel{ID: "801", Name: "old1", Type: discord.ChannelTypeText},
		discord.Channel{ID: "802", Name: "old2", Type: discord.ChannelTypeText},
	)
	client := newFakeClient(target)
	client.deleteChannelErr = func(channelID string) error {
		if channelID == "801" {
			return fmt.Errorf("do request: %w", context.DeadlineExceeded)
		}
		return nil
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"delete_channels", "channels"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		structureSnapshot(),
		options,
		0,
	)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	// The stalled channel is skipped, the rest of the run proceeds
	assert.Equal(t, []string{"802"}, client.deletedChannels)
	assert.Len(t, client.createdChannels, 2)
}

func TestDeleteRolesSkipsManagedAndDefault(t *testing.T) {
	target := emptyTarget()
	target.Roles = append(target.Roles,
		discord.Role{ID: "901", Name: "bot", Position: 1, Managed: true},
		discord.Role{ID: "902", Name: "old", Position: 2},
	)
	client := newFakeClient(target)
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"delete_roles"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		structureSnapshot(),
		options,
		0,
	)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"902"}, client.deletedRoles)
}

func TestRoleCreationTimeoutIsRunFatal(t *testing.T) {
	client := newFakeClient(emptyTarget())
	client.createRoleHook = func(ctx context.Context) error {
		// Simulate the remote silently throttling forever
		<-ctx.Done()
		return ctx.Err()
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"roles", "channels"})
	r := restore.NewRestorer(
		restore.RestorerConfig{
			Client:            client,
			RoleCreateTimeout: 50 * time.Millisecond,
		},
		"900",
		structureSnapshot(),
		options,
		0,
	)
	_, err := r.Run(context.Background())
	var roleLimit *restore.RoleLimitError
	require.ErrorAs(t, err, &roleLimit)
	// The run aborted before the channels stage
	assert.Empty(t, client.createdChannels)
}

func TestRunCancellationPropagates(t *testing.T) {
	client := newFakeClient(emptyTarget())
	ctx, cancel := context.WithCancel(context.Background())
	client.createRoleHook = func(roleCtx context.Context) error {
		cancel()
		return roleCtx.Err()
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"roles", "channels"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		structureSnapshot(),
		options,
		0,
	)
	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, client.createdChannels)
}

func TestChannelTuning(t *testing.T) {
	client := newFakeClient(emptyTarget())
	overwrites := make([]discord.Overwrite, 0, 150)
	for i := range 150 {
		overwrites = append(overwrites, discord.Overwrite{
			ID:   fmt.Sprintf("10%03d", i),
			Type: "member",
		})
	}
	snap := &snapshot.Snapshot{
		ID:   "100",
		Name: "source",
		Channels: []discord.Channel{
			{
				ID:      "301",
				Name:    "radio",
				Type:    discord.ChannelTypeVoice,
				Bitrate: 128000,
			},
			{
				ID:   "302",
				Name: "announcements",
				Type: discord.ChannelTypeNews,
			},
			{
				ID:   "303",
				Name: "shop",
				Type: discord.ChannelTypeStore,
			},
			{
				ID:   "304",
				Name: "future",
				Type: 99,
			},
			{
				ID:       "305",
				Name:     "orphan",
				Type:     discord.ChannelTypeText,
				ParentID: "999",
			},
			{
				ID:                   "306",
				Name:                 "crowded",
				Type:                 discord.ChannelTypeText,
				PermissionOverwrites: overwrites,
			},
		},
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"channels"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		snap,
		options,
		0,
	)
	// Every overwrite subject translates so the ceiling is what trims
	for i := range 150 {
		r.Translator().Put(
			fmt.Sprintf("10%03d", i),
			fmt.Sprintf("90%03d", i),
		)
	}
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, client.createdChannels, 6)
	byName := make(map[string]discord.ChannelParams)
	for _, params := range client.createdChannels {
		byName[params.Name] = params
	}
	// Bitrate capped without VIP_REGIONS
	assert.Equal(t, discord.VoiceBitrateCap, byName["radio"].Bitrate)
	// News and store downgrade without their features
	assert.Equal(t, discord.ChannelTypeText, byName["announcements"].Type)
	assert.Equal(t, discord.ChannelTypeText, byName["shop"].Type)
	// Unknown types downgrade to text
	assert.Equal(t, discord.ChannelTypeText, byName["future"].Type)
	// Untranslated parent dropped
	assert.Empty(t, byName["orphan"].ParentID)
	// Overwrites truncated at the API ceiling
	assert.Len(t, byName["crowded"].PermissionOverwrites, discord.MaxOverwrites)
}

func TestChannelTuningKeepsFeaturesWhenPresent(t *testing.T) {
	target := emptyTarget()
	target.Features = []string{
		discord.FeatureVipRegions,
		discord.FeatureNews,
	}
	client := newFakeClient(target)
	snap := &snapshot.Snapshot{
		ID:   "100",
		Name: "source",
		Channels: []discord.Channel{
			{ID: "301", Name: "radio", Type: discord.ChannelTypeVoice, Bitrate: 128000, Position: 0},
			{ID: "302", Name: "news", Type: discord.ChannelTypeNews, Position: 1},
		},
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"channels"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		snap,
		options,
		0,
	)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, client.createdChannels, 2)
	assert.Equal(t, 128000, client.createdChannels[0].Bitrate)
	assert.Equal(t, discord.ChannelTypeNews, client.createdChannels[1].Type)
}

func TestLoadMembersUnionsRoles(t *testing.T) {
	client := newFakeClient(emptyTarget())
	client.members = []discord.Member{
		{User: discord.User{ID: "u1"}, Roles: []string{"950"}},
		{User: discord.User{ID: "u2"}, Roles: []string{"950"}},
		{User: discord.User{ID: "u3"}, Roles: nil},
	}
	snap := &snapshot.Snapshot{
		ID:   "100",
		Name: "source",
		Members: []snapshot.MemberRef{
			{ID: "u1", Nick: "boss", Roles: []string{"101"}},
			{ID: "u2", Roles: []string{"999"}},
		},
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"members"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		snap,
		options,
		0,
	)
	r.Translator().Put("101", "t101")
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	// u1 gains the translated role and keeps the current one
	require.Contains(t, client.editedMembers, "u1")
	assert.ElementsMatch(
		t,
		[]string{"950", "t101"},
		client.editedMembers["u1"].Roles,
	)
	assert.Equal(t, "boss", client.editedMembers["u1"].Nick)
	// u2's snapshot role never translated, nothing to add
	assert.NotContains(t, client.editedMembers, "u2")
	// u3 was not captured at all
	assert.NotContains(t, client.editedMembers, "u3")
}

func TestLoadBans(t *testing.T) {
	client := newFakeClient(emptyTarget())
	snap := &snapshot.Snapshot{
		ID:   "100",
		Name: "source",
		Bans: []snapshot.Ban{
			{ID: "u9", Reason: "spam"},
		},
	}
	options := snapshot.NewRestoreOptions(nil)
	options.Apply([]string{"bans"})
	r := restore.NewRestorer(
		restore.RestorerConfig{Client: client},
		"900",
		snap,
		options,
		0,
	)
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "spam", client.bans["u9"])
}
