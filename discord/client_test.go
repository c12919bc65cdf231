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

package discord_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildstash/guildstash/discord"
)

func testClient(
	t *testing.T,
	handler http.HandlerFunc,
) *discord.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return discord.NewClient(
		"test-token",
		discord.WithBaseURL(srv.URL),
		discord.WithHTTPClient(srv.Client()),
	)
}

func TestClientAuthHeader(t *testing.T) {
	var gotAuth string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(discord.Guild{ID: "100", Name: "test"})
	})
	guild, err := client.Guild(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, "Bot test-token", gotAuth)
	assert.Equal(t, "test", guild.Name)
}

func TestClientErrorMapping(t *testing.T) {
	testDefs := []struct {
		status   int
		expected error
	}{
		{http.StatusForbidden, discord.ErrForbidden},
		{http.StatusNotFound, discord.ErrNotFound},
	}
	for _, testDef := range testDefs {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(testDef.status)
			_, _ = w.Write([]byte(`{"code":50013,"message":"nope"}`))
		})
		_, err := client.Guild(context.Background(), "100")
		require.ErrorIs(t, err, testDef.expected)
		var apiErr *discord.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, testDef.status, apiErr.Status)
		assert.Equal(t, 50013, apiErr.Code)
		assert.Equal(t, "nope", apiErr.Message)
	}
}

func TestClientRateLimitRetry(t *testing.T) {
	attempts := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after":0.01}`))
			return
		}
		_ = json.NewEncoder(w).Encode(discord.Guild{ID: "100"})
	})
	guild, err := client.Guild(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, "100", guild.ID)
	assert.Equal(t, 2, attempts)
}

func TestClientRateLimitExhausted(t *testing.T) {
	attempts := 0
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":0.001}`))
	})
	_, err := client.Guild(context.Background(), "100")
	require.ErrorIs(t, err, discord.ErrRateLimited)
	// Initial attempt plus the bounded retries
	assert.Equal(t, 6, attempts)
}

func TestClientRateLimitRespectsCancellation(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after":30}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Guild(ctx, "100")
		errCh <- err
	}()
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestClientGuildMembersPagination(t *testing.T) {
	var requests []string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		after := r.URL.Query().Get("after")
		var page []discord.Member
		switch after {
		case "":
			for i := range 1000 {
				page = append(page, discord.Member{
					User: discord.User{ID: fmt.Sprintf("u%04d", i)},
				})
			}
		case "u0999":
			page = []discord.Member{
				{User: discord.User{ID: "u1000"}},
			}
		default:
			t.Errorf("unexpected after cursor %q", after)
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	members, err := client.GuildMembers(context.Background(), "100", 0)
	require.NoError(t, err)
	assert.Len(t, members, 1001)
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1], "after=u0999")
}

func TestClientGuildMembersLimit(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		limit := r.URL.Query().Get("limit")
		assert.Equal(t, "5", limit)
		page := make([]discord.Member, 5)
		for i := range page {
			page[i] = discord.Member{User: discord.User{ID: fmt.Sprintf("u%d", i)}}
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	members, err := client.GuildMembers(context.Background(), "100", 5)
	require.NoError(t, err)
	assert.Len(t, members, 5)
}

func TestClientChannelMessagesPagination(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		before := r.URL.Query().Get("before")
		var page []discord.Message
		switch before {
		case "":
			for i := 250; i > 150; i-- {
				page = append(page, discord.Message{ID: fmt.Sprintf("m%03d", i)})
			}
		case "m151":
			for i := 150; i > 100; i-- {
				page = append(page, discord.Message{ID: fmt.Sprintf("m%03d", i)})
			}
		default:
			t.Errorf("unexpected before cursor %q", before)
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	messages, err := client.ChannelMessages(context.Background(), "200", 150)
	require.NoError(t, err)
	require.Len(t, messages, 150)
	// Newest first across page boundaries
	assert.Equal(t, "m250", messages[0].ID)
	assert.Equal(t, "m101", messages[149].ID)
}

func TestClientChannelMessagesShortChannel(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]discord.Message{
			{ID: "m2"},
			{ID: "m1"},
		})
	})
	messages, err := client.ChannelMessages(context.Background(), "200", 100)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestClientCreateRoleBody(t *testing.T) {
	var gotBody discord.RoleParams
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/guilds/100/roles", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(discord.Role{ID: "900", Name: gotBody.Name})
	})
	role, err := client.CreateRole(context.Background(), "100", discord.RoleParams{
		Name:        "mods",
		Permissions: "1024",
	})
	require.NoError(t, err)
	assert.Equal(t, "900", role.ID)
	assert.Equal(t, "mods", gotBody.Name)
	assert.Equal(t, "1024", gotBody.Permissions)
}

func TestClientExecuteWebhookWithFiles(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		payload := r.FormValue("payload_json")
		var params discord.WebhookParams
		require.NoError(t, json.Unmarshal([]byte(payload), &params))
		assert.Equal(t, "hello", params.Content)
		file, header, err := r.FormFile("files[0]")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "pic.png", header.Filename)
		_ = json.NewEncoder(w).Encode(discord.Message{ID: "m1", Content: params.Content})
	})
	webhook := &discord.Webhook{ID: "w1", Token: "wt", ChannelID: "200"}
	msg, err := client.ExecuteWebhook(
		context.Background(),
		webhook,
		discord.WebhookParams{Content: "hello"},
		[]discord.File{{Name: "pic.png", Body: []byte("data")}},
	)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}

func TestClientExecuteWebhookPlain(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/webhooks/w1/wt")
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		var params discord.WebhookParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		_ = json.NewEncoder(w).Encode(discord.Message{ID: "m1"})
	})
	webhook := &discord.Webhook{ID: "w1", Token: "wt", ChannelID: "200"}
	msg, err := client.ExecuteWebhook(
		context.Background(),
		webhook,
		discord.WebhookParams{Content: "hi"},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}
