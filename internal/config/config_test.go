// ABOUTME: Tests for configuration loading.
// ABOUTME: Covers env var expansion, duration parsing, and validation failures.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
server:
  http_addr: "127.0.0.1:8065"
database:
  path: "/tmp/parley.db"
agent:
  id: "parley"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8065", cfg.Server.HTTPAddr)
	assert.Equal(t, "parley", cfg.Agent.ID)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("PARLEY_TEST_TOKEN", "xoxb-secret")

	cfg, err := Load(writeConfig(t, minimalConfig+`
channels:
  slack:
    enabled: true
    bot_token: "${PARLEY_TEST_TOKEN}"
`))
	require.NoError(t, err)
	assert.Equal(t, "xoxb-secret", cfg.Channels.Slack.BotToken)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
channels:
  slack:
    enabled: true
    bot_token: "${PARLEY_DEFINITELY_UNSET}"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestLoad_ParsesDurations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
reconnect:
  initial_delay: "2s"
  max_delay: "1m"
ownership:
  forwarder_url: "http://localhost:9100"
  channels: ["mattermost"]
  timeout: "3s"
  mention_ttl: "5m"
`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.InitialDelay)
	assert.Equal(t, time.Minute, cfg.Reconnect.MaxDelay)
	assert.Equal(t, 3*time.Second, cfg.Ownership.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Ownership.MentionTTL)
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
reconnect:
  initial_delay: "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect.initial_delay")
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "127.0.0.1:8065"
agent:
  id: "parley"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestLoad_MattermostNeedsURLAndToken(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
channels:
  mattermost:
    enabled: true
    token: "tok"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket_url")
}

func TestLoad_ZaloPathMustBeUnderWebhookMount(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
channels:
  zalo:
    enabled: true
    path: "/hooks/zalo"
    secret: "s3cret"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), WebhookMountPrefix)
}

func TestLoad_ZaloPathUnderWebhookMountAccepted(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
channels:
  zalo:
    enabled: true
    path: "/webhooks/zalo"
    secret: "s3cret"
`))
	require.NoError(t, err)
	assert.Equal(t, "/webhooks/zalo", cfg.Channels.Zalo.Path)
}

func TestLoad_OwnershipChannelsNeedForwarder(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
ownership:
  channels: ["slack"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forwarder_url")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
