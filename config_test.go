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

package guildstash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	// Logging must be safe without a user-provided logger
	assert.NotNil(t, cfg.logger)
	assert.Empty(t, cfg.token)
	assert.Empty(t, cfg.dataDir)
	assert.Zero(t, cfg.chatlogDepth)
	assert.False(t, cfg.tracing)
}

func TestConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithToken("abc"),
		WithApiBaseUrl("http://localhost:9999/api"),
		WithDataDir("/tmp/data"),
		WithBlobLocation("gcs://backups"),
		WithGcsCredentials("/tmp/creds.json"),
		WithChatlogDepth(50),
		WithReplayConcurrency(4),
		WithMsgRetentionDays(7),
		WithBackupLimit(25),
		WithTracing(true),
		WithTracingStdout(true),
		WithShutdownTimeout(10*time.Second),
	)
	assert.Equal(t, "abc", cfg.token)
	assert.Equal(t, "http://localhost:9999/api", cfg.apiBaseUrl)
	assert.Equal(t, "/tmp/data", cfg.dataDir)
	assert.Equal(t, "gcs://backups", cfg.blobLocation)
	assert.Equal(t, "/tmp/creds.json", cfg.gcsCredentials)
	assert.Equal(t, 50, cfg.chatlogDepth)
	assert.Equal(t, 4, cfg.replayConcurrency)
	assert.Equal(t, uint(7), cfg.msgRetentionDays)
	assert.Equal(t, 25, cfg.backupLimit)
	assert.True(t, cfg.tracing)
	assert.True(t, cfg.tracingStdout)
	assert.Equal(t, 10*time.Second, cfg.shutdownTimeout)
}

func TestConfigValidate(t *testing.T) {
	s := &Service{config: NewConfig()}
	require.Error(t, s.configValidate(), "missing token must be rejected")

	s = &Service{config: NewConfig(WithToken("abc"), WithChatlogDepth(-1))}
	require.Error(t, s.configValidate(), "negative chatlog depth must be rejected")

	s = &Service{config: NewConfig(WithToken("abc"))}
	require.NoError(t, s.configValidate())
}
