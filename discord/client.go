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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the remote REST API base.
	DefaultBaseURL = "https://discord.com/api/v10"

	// maxResponseBytes caps response body reads to avoid unbounded
	// memory use on misbehaving responses.
	maxResponseBytes = 64 * 1024 * 1024

	// maxRateLimitRetries bounds how often a single request is
	// retried after a 429 before the error is returned to the caller.
	maxRateLimitRetries = 5
)

// Client is an HTTP client for the remote guild REST API. It covers
// the read surface consumed by the capturer and the mutation surface
// consumed by the restorer.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the API base URL. Mostly useful for tests and
// API-compatible proxies.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// NewClient creates a new API client authenticating with the given bot
// token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs a JSON request against the API, decoding the response
// into out when out is non-nil. 429 responses are retried after the
// server-provided delay, respecting context cancellation.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body any,
	out any,
) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}
	for attempt := 0; ; attempt++ {
		var reqBody io.Reader
		if encoded != nil {
			reqBody = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(
			ctx,
			method,
			c.baseURL+path,
			reqBody,
		)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		retryAfter, err := c.doOnce(req, out)
		if err == nil {
			return nil
		}
		if retryAfter <= 0 || attempt >= maxRateLimitRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

// doOnce executes a single prepared request. On 429 it returns the
// server-requested delay along with the error so do can retry.
func (c *Client) doOnce(
	req *http.Request,
	out any,
) (time.Duration, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1024)).Decode(&rl)
		delay := time.Duration(rl.RetryAfter * float64(time.Second))
		if delay <= 0 {
			delay = time.Second
		}
		return delay, &APIError{Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errBody); err == nil {
			apiErr.Code = errBody.Code
			apiErr.Message = errBody.Message
		}
		return 0, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return 0, fmt.Errorf("decoding response: %w", err)
		}
	}
	return 0, nil
}

// Guild returns the guild with its role list.
func (c *Client) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var guild Guild
	if err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID), nil, &guild); err != nil {
		return nil, fmt.Errorf("fetching guild %s: %w", guildID, err)
	}
	return &guild, nil
}

// GuildChannels returns all channels of a guild.
func (c *Client) GuildChannels(
	ctx context.Context,
	guildID string,
) ([]Channel, error) {
	var channels []Channel
	if err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/channels", nil, &channels); err != nil {
		return nil, fmt.Errorf("fetching channels for guild %s: %w", guildID, err)
	}
	return channels, nil
}

// GuildBans returns the guild's ban list.
func (c *Client) GuildBans(
	ctx context.Context,
	guildID string,
) ([]Ban, error) {
	var bans []Ban
	if err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/bans", nil, &bans); err != nil {
		return nil, fmt.Errorf("fetching bans for guild %s: %w", guildID, err)
	}
	return bans, nil
}

// GuildMembers iterates the guild member list in pages of up to 1000,
// up to the given limit (<= 0 means no limit).
func (c *Client) GuildMembers(
	ctx context.Context,
	guildID string,
	limit int,
) ([]Member, error) {
	var members []Member
	after := ""
	for {
		pageSize := 1000
		if limit > 0 && limit-len(members) < pageSize {
			pageSize = limit - len(members)
		}
		if pageSize <= 0 {
			break
		}
		path := fmt.Sprintf(
			"/guilds/%s/members?limit=%d",
			url.PathEscape(guildID),
			pageSize,
		)
		if after != "" {
			path += "&after=" + url.QueryEscape(after)
		}
		var page []Member
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("fetching members for guild %s: %w", guildID, err)
		}
		members = append(members, page...)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].User.ID
	}
	return members, nil
}

// ChannelMessages returns up to limit most recent messages of a
// channel, newest first.
func (c *Client) ChannelMessages(
	ctx context.Context,
	channelID string,
	limit int,
) ([]Message, error) {
	var messages []Message
	before := ""
	for len(messages) < limit {
		pageSize := min(limit-len(messages), 100)
		path := fmt.Sprintf(
			"/channels/%s/messages?limit=%d",
			url.PathEscape(channelID),
			pageSize,
		)
		if before != "" {
			path += "&before=" + url.QueryEscape(before)
		}
		var page []Message
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, fmt.Errorf("fetching messages for channel %s: %w", channelID, err)
		}
		if len(page) == 0 {
			break
		}
		messages = append(messages, page...)
		before = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}
	return messages, nil
}

// PinnedMessages returns the currently pinned messages of a channel.
func (c *Client) PinnedMessages(
	ctx context.Context,
	channelID string,
) ([]Message, error) {
	var messages []Message
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/pins", nil, &messages); err != nil {
		return nil, fmt.Errorf("fetching pins for channel %s: %w", channelID, err)
	}
	return messages, nil
}

// EditGuild applies top-level guild settings.
func (c *Client) EditGuild(
	ctx context.Context,
	guildID string,
	params GuildParams,
) error {
	if err := c.do(ctx, http.MethodPatch, "/guilds/"+url.PathEscape(guildID), params, nil); err != nil {
		return fmt.Errorf("editing guild %s: %w", guildID, err)
	}
	return nil
}

// CreateRole creates a new role on the guild.
func (c *Client) CreateRole(
	ctx context.Context,
	guildID string,
	params RoleParams,
) (*Role, error) {
	var role Role
	if err := c.do(ctx, http.MethodPost, "/guilds/"+url.PathEscape(guildID)+"/roles", params, &role); err != nil {
		return nil, fmt.Errorf("creating role on guild %s: %w", guildID, err)
	}
	return &role, nil
}

// EditRole edits an existing role in place.
func (c *Client) EditRole(
	ctx context.Context,
	guildID string,
	roleID string,
	params RoleParams,
) error {
	path := "/guilds/" + url.PathEscape(guildID) + "/roles/" + url.PathEscape(roleID)
	if err := c.do(ctx, http.MethodPatch, path, params, nil); err != nil {
		return fmt.Errorf("editing role %s: %w", roleID, err)
	}
	return nil
}

// DeleteRole deletes a role.
func (c *Client) DeleteRole(
	ctx context.Context,
	guildID string,
	roleID string,
) error {
	path := "/guilds/" + url.PathEscape(guildID) + "/roles/" + url.PathEscape(roleID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting role %s: %w", roleID, err)
	}
	return nil
}

// CreateChannel creates a new channel on the guild.
func (c *Client) CreateChannel(
	ctx context.Context,
	guildID string,
	params ChannelParams,
) (*Channel, error) {
	var channel Channel
	if err := c.do(ctx, http.MethodPost, "/guilds/"+url.PathEscape(guildID)+"/channels", params, &channel); err != nil {
		return nil, fmt.Errorf("creating channel on guild %s: %w", guildID, err)
	}
	return &channel, nil
}

// DeleteChannel deletes a channel.
func (c *Client) DeleteChannel(
	ctx context.Context,
	channelID string,
) error {
	if err := c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), nil, nil); err != nil {
		return fmt.Errorf("deleting channel %s: %w", channelID, err)
	}
	return nil
}

// CreateBan bans a user from the guild.
func (c *Client) CreateBan(
	ctx context.Context,
	guildID string,
	userID string,
	reason string,
) error {
	path := "/guilds/" + url.PathEscape(guildID) + "/bans/" + url.PathEscape(userID)
	body := struct {
		Reason string `json:"reason,omitempty"`
	}{Reason: reason}
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("banning user %s: %w", userID, err)
	}
	return nil
}

// EditMember applies nickname and role changes to a guild member.
func (c *Client) EditMember(
	ctx context.Context,
	guildID string,
	userID string,
	params MemberParams,
) error {
	path := "/guilds/" + url.PathEscape(guildID) + "/members/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodPatch, path, params, nil); err != nil {
		return fmt.Errorf("editing member %s: %w", userID, err)
	}
	return nil
}

// CreateWebhook creates a webhook on a channel.
func (c *Client) CreateWebhook(
	ctx context.Context,
	channelID string,
	name string,
) (*Webhook, error) {
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	var webhook Webhook
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/webhooks", body, &webhook); err != nil {
		return nil, fmt.Errorf("creating webhook on channel %s: %w", channelID, err)
	}
	return &webhook, nil
}

// DeleteWebhook deletes a webhook.
func (c *Client) DeleteWebhook(
	ctx context.Context,
	webhookID string,
) error {
	if err := c.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(webhookID), nil, nil); err != nil {
		return fmt.Errorf("deleting webhook %s: %w", webhookID, err)
	}
	return nil
}

// ExecuteWebhook sends a message through a webhook, waiting for the
// created message so its id can be used for pinning. Files are
// uploaded as multipart parts alongside the JSON payload.
func (c *Client) ExecuteWebhook(
	ctx context.Context,
	webhook *Webhook,
	params WebhookParams,
	files []File,
) (*Message, error) {
	path := "/webhooks/" + url.PathEscape(webhook.ID) + "/" + url.PathEscape(webhook.Token) + "?wait=true"
	var msg Message
	if len(files) == 0 {
		if err := c.do(ctx, http.MethodPost, path, params, &msg); err != nil {
			return nil, fmt.Errorf("executing webhook %s: %w", webhook.ID, err)
		}
		return &msg, nil
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook payload: %w", err)
	}
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return nil, fmt.Errorf("writing webhook payload: %w", err)
	}
	for i, file := range files {
		part, err := mw.CreateFormFile(
			"files["+strconv.Itoa(i)+"]",
			file.Name,
		)
		if err != nil {
			return nil, fmt.Errorf("writing webhook file part: %w", err)
		}
		if _, err := part.Write(file.Body); err != nil {
			return nil, fmt.Errorf("writing webhook file body: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing webhook upload: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(buf.Bytes()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if _, err := c.doOnce(req, &msg); err != nil {
		return nil, fmt.Errorf("executing webhook %s: %w", webhook.ID, err)
	}
	return &msg, nil
}

// PinMessage pins a message in a channel.
func (c *Client) PinMessage(
	ctx context.Context,
	channelID string,
	messageID string,
) error {
	path := "/channels/" + url.PathEscape(channelID) + "/pins/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("pinning message %s: %w", messageID, err)
	}
	return nil
}

// CreateInvite creates an invite on a channel.
func (c *Client) CreateInvite(
	ctx context.Context,
	channelID string,
	params InviteParams,
) (*Invite, error) {
	var invite Invite
	if err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/invites", params, &invite); err != nil {
		return nil, fmt.Errorf("creating invite on channel %s: %w", channelID, err)
	}
	return &invite, nil
}

// FetchAttachment downloads an attachment by URL through the client's
// HTTP transport. The URL is not routed through the API base.
func (c *Client) FetchAttachment(
	ctx context.Context,
	attachmentURL string,
) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		attachmentURL,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating attachment request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading attachment body: %w", err)
	}
	return body, nil
}
