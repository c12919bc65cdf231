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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func resetGlobalConfig() {
	globalConfig = &Config{
		DataDir:           ".guildstash",
		BindAddr:          "0.0.0.0",
		MetricsPort:       12910,
		ShutdownTimeout:   DefaultShutdownTimeout,
		ChatlogDepth:      100,
		ReplayConcurrency: 10,
		MsgRetentionDays:  30,
		BackupLimit:       15,
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "test-guildstash.yaml")
	if err := os.WriteFile(tmpFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return tmpFile
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
token: "bot-token"
apiBaseUrl: "http://localhost:9999/api"
dataDir: "/var/lib/guildstash"
blobLocation: "gcs://backups"
gcsCredentials: "/etc/guildstash/gcs.json"
bindAddr: "127.0.0.1"
shutdownTimeout: "10s"
metricsPort: 8088
chatlogDepth: 50
replayConcurrency: 4
msgRetentionDays: 7
backupLimit: 25
tracing: true
tracingStdout: true
`
	tmpFile := writeConfigFile(t, yamlContent)

	expected := &Config{
		Token:             "bot-token",
		ApiBaseUrl:        "http://localhost:9999/api",
		DataDir:           "/var/lib/guildstash",
		BlobLocation:      "gcs://backups",
		GcsCredentials:    "/etc/guildstash/gcs.json",
		BindAddr:          "127.0.0.1",
		ShutdownTimeout:   "10s",
		MetricsPort:       8088,
		ChatlogDepth:      50,
		ReplayConcurrency: 4,
		MsgRetentionDays:  7,
		BackupLimit:       25,
		Tracing:           true,
		TracingStdout:     true,
	}

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	if !reflect.DeepEqual(cfg, expected) {
		t.Errorf(
			"config mismatch\n  got:  %+v\n  want: %+v",
			cfg,
			expected,
		)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, "token: \"bot-token\"\nchatlogDepth: 10\n")

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	if cfg.ChatlogDepth != 10 {
		t.Errorf("chatlogDepth = %d, want 10", cfg.ChatlogDepth)
	}
	if cfg.BindAddr != "0.0.0.0" {
		t.Errorf("bindAddr = %q, want default", cfg.BindAddr)
	}
	if cfg.MetricsPort != 12910 {
		t.Errorf("metricsPort = %d, want default", cfg.MetricsPort)
	}
	if cfg.BackupLimit != 15 {
		t.Errorf("backupLimit = %d, want default", cfg.BackupLimit)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, "token: \"from-file\"\nmetricsPort: 8088\n")
	t.Setenv("GUILDSTASH_TOKEN", "from-env")
	t.Setenv("GUILDSTASH_METRICS_PORT", "9099")

	cfg, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}
	if cfg.Token != "from-env" {
		t.Errorf("token = %q, want env value", cfg.Token)
	}
	if cfg.MetricsPort != 9099 {
		t.Errorf("metricsPort = %d, want env value", cfg.MetricsPort)
	}
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, "shutdownTimeout: \"bogus\"\n")
	if _, err := LoadConfig(tmpFile); err == nil {
		t.Fatal("expected error for invalid shutdown timeout")
	}
}

func TestLoad_NegativeReplayConcurrency(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, "replayConcurrency: -1\n")
	if _, err := LoadConfig(tmpFile); err == nil {
		t.Fatal("expected error for negative replay concurrency")
	}
}

func TestLoadToken_Inline(t *testing.T) {
	cfg := &Config{Token: "inline"}
	token, err := cfg.LoadToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "inline" {
		t.Errorf("token = %q, want inline value", token)
	}
}

func TestLoadToken_File(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tmpFile, []byte("  file-token\n"), 0o600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}
	cfg := &Config{TokenFile: tmpFile}
	token, err := cfg.LoadToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "file-token" {
		t.Errorf("token = %q, want trimmed file value", token)
	}
}

func TestLoadToken_Missing(t *testing.T) {
	cfg := &Config{}
	if _, err := cfg.LoadToken(); err == nil {
		t.Fatal("expected error when no token is configured")
	}
}
