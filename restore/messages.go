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
	"slices"
	"sync"
	"time"

	"github.com/guildstash/guildstash/discord"
)

// replayWebhookName is the name given to the transient webhooks used
// for message replay.
const replayWebhookName = "backup"

// selectReplay picks the messages to replay for one channel and
// returns them in chronological order. The captured list is newest
// first: the chatlog depth takes its head, and with the pins option
// every pinned message beyond the depth is included as well.
func (r *Restorer) selectReplay(
	captured []discord.Message,
) []discord.Message {
	depth := min(r.chatlog, len(captured))
	if depth < 0 {
		depth = 0
	}
	selected := slices.Clone(captured[:depth])
	if r.options.Get("pins") {
		for _, msg := range captured[depth:] {
			if msg.Pinned {
				selected = append(selected, msg)
			}
		}
	}
	slices.Reverse(selected)
	return selected
}

// loadMessages replays the captured chatlogs of every translated
// channel. Channel replays run concurrently behind a counting
// admission gate; messages within one channel stay strictly
// sequential. The stage waits for every in-flight replay before
// returning, and cancellation propagates into each of them.
func (r *Restorer) loadMessages(ctx context.Context) error {
	gate := make(chan struct{}, r.config.ReplayConcurrency)
	var wg sync.WaitGroup
	for _, channel := range r.snapshot.Channels {
		captured := r.snapshot.Messages[channel.ID]
		messages := r.selectReplay(captured)
		if len(messages) == 0 {
			continue
		}
		channelID, ok := r.translator.Get(channel.ID)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case gate <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-gate }()
			r.metrics.replayStarted()
			defer r.metrics.replayFinished()
			if err := r.replayChannel(ctx, channelID, messages); err != nil &&
				!errors.Is(err, context.Canceled) {
				r.logger.Warn(
					"channel replay failed",
					"component", "restorer",
					"channel", channelID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// obtainWebhook creates the transient replay webhook for a channel.
// Creation is issued as a single pending request; while it stays
// unresolved past the wait threshold the run surfaces a rate-limit
// status and keeps waiting on the same request. A resolved rate-limit
// failure is retried; any other failure is returned.
func (r *Restorer) obtainWebhook(
	ctx context.Context,
	channelID string,
) (*discord.Webhook, error) {
	type result struct {
		webhook *discord.Webhook
		err     error
	}
	for {
		resCh := make(chan result, 1)
		go func() {
			webhook, err := r.client.CreateWebhook(ctx, channelID, replayWebhookName)
			resCh <- result{webhook: webhook, err: err}
		}()
		waited := false
	pending:
		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case res := <-resCh:
				if res.err == nil {
					return res.webhook, nil
				}
				if errors.Is(res.err, discord.ErrRateLimited) {
					// Resolved as throttled; back off and issue a
					// fresh request
					waited = true
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(time.Second):
					}
					break pending
				}
				return nil, res.err
			case <-time.After(r.config.WebhookWaitTimeout):
				if !waited {
					waited = true
					r.setStatus("waiting for rate limit")
				}
			}
		}
	}
}

// replayChannel replays one channel's messages in order through a
// transient webhook. A missing channel or webhook aborts this channel
// only; other per-message failures skip the message.
func (r *Restorer) replayChannel(
	ctx context.Context,
	channelID string,
	messages []discord.Message,
) error {
	webhook, err := r.obtainWebhook(ctx, channelID)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.client.DeleteWebhook(ctx, webhook.ID); err != nil &&
			!errors.Is(err, context.Canceled) {
			r.logger.Warn(
				"webhook cleanup failed",
				"component", "restorer",
				"webhook", webhook.ID,
				"error", err,
			)
		}
	}()
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if msg.Empty() {
			continue
		}
		files := r.fetchAttachments(ctx, msg.Attachments)
		if err := ctx.Err(); err != nil {
			return err
		}
		params := discord.WebhookParams{
			Content:         msg.Content,
			Username:        msg.Author.Username,
			AvatarURL:       msg.Author.AvatarURL(),
			Embeds:          msg.Embeds,
			AllowedMentions: &discord.AllowedMentions{Parse: []string{}},
		}
		created, err := r.client.ExecuteWebhook(ctx, webhook, params, files)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			if errors.Is(err, discord.ErrNotFound) {
				// Channel or webhook is gone; nothing further can be
				// replayed here
				return nil
			}
			r.metrics.skipped("messages")
			r.logger.Warn(
				"message replay failed",
				"component", "restorer",
				"channel", channelID,
				"message", msg.ID,
				"error", err,
			)
			continue
		}
		r.metrics.restored("messages")
		if msg.Pinned && created != nil {
			if err := r.client.PinMessage(ctx, channelID, created.ID); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				r.logger.Warn(
					"message pin failed",
					"component", "restorer",
					"channel", channelID,
					"message", created.ID,
					"error", err,
				)
			}
		}
	}
	return nil
}

// fetchAttachments downloads a message's attachments concurrently and
// returns the successfully fetched files in attachment order. Fetch
// failures drop the attachment.
func (r *Restorer) fetchAttachments(
	ctx context.Context,
	attachments []discord.Attachment,
) []discord.File {
	if len(attachments) == 0 {
		return nil
	}
	files := make([]*discord.File, len(attachments))
	var wg sync.WaitGroup
	for i, attachment := range attachments {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, err := r.client.FetchAttachment(ctx, attachment.URL)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.logger.Warn(
						"attachment fetch failed",
						"component", "restorer",
						"url", attachment.URL,
						"error", err,
					)
				}
				return
			}
			files[i] = &discord.File{
				Name: attachment.Filename,
				Body: body,
			}
		}()
	}
	wg.Wait()
	fetched := make([]discord.File, 0, len(files))
	for _, file := range files {
		if file != nil {
			fetched = append(fetched, *file)
		}
	}
	return fetched
}
