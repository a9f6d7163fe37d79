// ABOUTME: Tests for gateway wiring: ownership gating as a hook and the HTTP API.
// ABOUTME: Uses httptest for both the forwarder and the gateway's own endpoints.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/agent"
	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/channel"
	"github.com/2389/parley-gateway/internal/config"
	"github.com/2389/parley-gateway/internal/hooks"
)

func TestOwnershipHook_DeniedClaimCancelsSend(t *testing.T) {
	forwarder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"owner": "other-agent"})
	}))
	defer forwarder.Close()

	cfg := testConfig()
	cfg.Ownership = config.OwnershipConfig{
		ForwarderURL: forwarder.URL,
		Channels:     []string{"gated-room"},
	}
	g := newTestGateway(t, cfg)

	res := g.hooks.RunMessageSending(context.Background(), &hooks.SendingPayload{
		To:      "gated-room",
		Content: "hi",
		Metadata: hooks.SendMetadata{
			ChannelID: "gated-room",
			ThreadKey: "root1",
		},
	})
	assert.True(t, res.Cancel)
}

func TestOwnershipHook_UngatedChannelPasses(t *testing.T) {
	cfg := testConfig()
	cfg.Ownership = config.OwnershipConfig{
		ForwarderURL: "http://127.0.0.1:1", // never reached
		Channels:     []string{"gated-room"},
	}
	g := newTestGateway(t, cfg)

	res := g.hooks.RunMessageSending(context.Background(), &hooks.SendingPayload{
		To:      "open-room",
		Content: "hi",
		Metadata: hooks.SendMetadata{
			ChannelID: "open-room",
			ThreadKey: "root1",
		},
	})
	assert.False(t, res.Cancel)
	assert.Equal(t, "hi", res.Content)
}

func TestOwnershipHook_RecentMentionSkipsClaim(t *testing.T) {
	var claims int
	forwarder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims++
		w.WriteHeader(http.StatusOK)
	}))
	defer forwarder.Close()

	cfg := testConfig()
	cfg.Ownership = config.OwnershipConfig{
		ForwarderURL: forwarder.URL,
		Channels:     []string{"gated-room"},
	}
	g := newTestGateway(t, cfg)
	require.NoError(t, g.agents.Register("parley", "parley", &echoRunner{text: ""}))

	// A message mentioning the agent pre-authorizes the thread.
	msg := inboundFixture()
	msg.ChannelID = "gated-room"
	msg.Content = "hey @parley, status?"
	require.NoError(t, g.HandleInbound(context.Background(), msg))

	res := g.hooks.RunMessageSending(context.Background(), &hooks.SendingPayload{
		Metadata: hooks.SendMetadata{ChannelID: "gated-room", ThreadKey: "root1"},
	})
	assert.False(t, res.Cancel)
	assert.Equal(t, 0, claims)
}

func TestHealthEndpoints(t *testing.T) {
	g := newTestGateway(t, testConfig())
	srv := httptest.NewServer(g.httpServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// No agents registered yet: not ready.
	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, g.agents.Register("parley", "parley", &echoRunner{text: "ok"}))
	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint_Unauthenticated(t *testing.T) {
	g := newTestGateway(t, testConfig())
	srv := httptest.NewServer(g.httpServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "parley", status.AgentID)
}

func TestStatusEndpoint_RequiresTokenWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "status-secret-0123456789abcdef"
	g := newTestGateway(t, cfg)
	srv := httptest.NewServer(g.httpServer.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("operator", time.Hour)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusEndpoint_ReflectsBoardState(t *testing.T) {
	g := newTestGateway(t, testConfig())

	connected := true
	now := time.Now()
	g.board.sink("mattermost").OnStatusChange(channel.StatusPatch{
		Connected:       &connected,
		LastConnectedAt: &now,
	})

	rec := httptest.NewRecorder()
	g.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Contains(t, status.Channels, "mattermost")
	assert.True(t, status.Channels["mattermost"].Connected)

	evs, err := g.store.ListConnectionEvents(context.Background(), "mattermost", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Connected)
}

func TestStatusEndpoint_ListsAgents(t *testing.T) {
	g := newTestGateway(t, testConfig())
	require.NoError(t, g.agents.Register("parley", "Parley", &echoRunner{text: "ok"}))

	rec := httptest.NewRecorder()
	g.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Agents, 1)
	assert.Equal(t, agent.Info{ID: "parley", Name: "Parley"}, status.Agents[0])
}

// fakeDiscordSession scripts lifecycle calls and fans events out to every
// registered handler, the way the real session dispatches.
type fakeDiscordSession struct {
	handlers []func(*discordgo.Session, *discordgo.MessageCreate)
	openErrs []error
	opens    int
}

func (f *fakeDiscordSession) AddHandler(handler interface{}) func() {
	f.handlers = append(f.handlers, handler.(func(*discordgo.Session, *discordgo.MessageCreate)))
	return func() {}
}

func (f *fakeDiscordSession) Open() error {
	f.opens++
	if f.opens <= len(f.openErrs) {
		return f.openErrs[f.opens-1]
	}
	return nil
}

func (f *fakeDiscordSession) Close() error { return nil }

func (f *fakeDiscordSession) emit(m *discordgo.MessageCreate) {
	for _, h := range f.handlers {
		h(&discordgo.Session{}, m)
	}
}

func TestDiscordReconnect_SingleHandlerAcrossAttempts(t *testing.T) {
	g := newTestGateway(t, testConfig())
	require.NoError(t, g.agents.Register("parley", "parley", &echoRunner{text: "pong"}))
	g.outbounds["discord"] = &fakeOutbound{}

	sess := &fakeDiscordSession{openErrs: []error{errors.New("gateway dial refused")}}
	g.attachDiscord(sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, g.runDiscordSession(ctx)) // first attempt dies at open
	require.NoError(t, g.runDiscordSession(ctx))
	require.NoError(t, g.runDiscordSession(ctx))

	// Reconnect attempts must not stack handlers: each stacked handler would
	// race the dedupe check and deliver its own copy of the reply.
	require.Len(t, sess.handlers, 1)

	sess.emit(&discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "d1",
		ChannelID: "chan1",
		Content:   "ping",
		Author:    &discordgo.User{ID: "user1"},
	}})

	require.Eventually(t, func() bool {
		ds, err := g.store.ListDeliveries(context.Background(), "discord", 10)
		return err == nil && len(ds) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// blockingRunner parks the turn until its context is cancelled.
type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Reply(ctx context.Context, turn *agent.Turn) (<-chan *agent.Event, error) {
	close(r.started)
	ch := make(chan *agent.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestShutdown_CancelsInflightTurn(t *testing.T) {
	g := newTestGateway(t, testConfig())
	runner := &blockingRunner{started: make(chan struct{})}
	require.NoError(t, g.agents.Register("parley", "parley", runner))

	done := make(chan error, 1)
	go func() {
		done <- g.HandleInbound(g.inboundCtx, inboundFixture())
	}()
	<-runner.started

	require.NoError(t, g.Shutdown(context.Background()))

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
