// ABOUTME: Gateway orchestrator that wires channels, hooks, ownership, and the agent manager
// ABOUTME: Supervises per-channel connection loops and the local HTTP API lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/2389/parley-gateway/internal/agent"
	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/channel"
	"github.com/2389/parley-gateway/internal/channel/discord"
	"github.com/2389/parley-gateway/internal/channel/slack"
	"github.com/2389/parley-gateway/internal/config"
	"github.com/2389/parley-gateway/internal/dedupe"
	"github.com/2389/parley-gateway/internal/hooks"
	"github.com/2389/parley-gateway/internal/monitor"
	"github.com/2389/parley-gateway/internal/ownership"
	"github.com/2389/parley-gateway/internal/reconnect"
	"github.com/2389/parley-gateway/internal/store"
)

const (
	// dedupeTTL is how long an inbound message ID is remembered.
	dedupeTTL = 5 * time.Minute

	// dedupeMaxSize bounds the dedupe cache.
	dedupeMaxSize = 100_000
)

// Gateway orchestrates the parley-gateway components: channel monitors and
// adapters, the hook runner, the ownership service, the agent manager, the
// store, and the local HTTP API.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store      store.Store
	dedupe     *dedupe.Cache
	hooks      *hooks.Runner
	ownership  *ownership.Service
	agents     *agent.Manager
	board      *statusBoard
	webhooks   *monitor.WebhookRegistry
	httpServer *http.Server

	// outbounds maps channel name to its send adapter.
	outbounds map[string]channel.Outbound

	// mattermost is the WebSocket monitor, nil when disabled.
	mattermost *monitor.WebSocketMonitor

	// discord is the gateway session, nil when disabled.
	discord *discordgo.Session

	// discordConn is the lifecycle slice of the session the reconnect loop
	// drives; split out so tests can substitute it.
	discordConn discordSession

	// inboundCtx governs in-flight inbound processing; Shutdown cancels it.
	inboundCtx    context.Context
	inboundCancel context.CancelFunc

	startedAt time.Time
}

// discordSession is the part of the discordgo session the gateway manages
// directly: handler registration and the gateway connection lifecycle.
type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PARLEY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New wires a gateway from configuration. Nothing connects until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		store:     st,
		dedupe:    dedupe.New(dedupeTTL, dedupeMaxSize),
		hooks:     hooks.NewRunner(logger),
		board:     newStatusBoard(st, logger),
		outbounds: make(map[string]channel.Outbound),
		startedAt: time.Now(),
	}
	g.agents = agent.NewManager(g.hooks, logger)
	g.inboundCtx, g.inboundCancel = context.WithCancel(context.Background())

	if len(cfg.Ownership.Channels) > 0 {
		g.ownership = ownership.New(ownership.Config{
			ForwarderURL: cfg.Ownership.ForwarderURL,
			AgentID:      cfg.Agent.ID,
			Channels:     cfg.Ownership.Channels,
			FailClosed:   cfg.Ownership.FailClosed,
			Timeout:      cfg.Ownership.Timeout,
			MentionTTL:   cfg.Ownership.MentionTTL,
		}, logger)

		// Ownership gates sends through the same hook point plugins use, so
		// a denied claim cancels the send before any adapter API call.
		g.hooks.Register("ownership", hooks.MessageSending, -100, ownershipHook(g.ownership, logger))
	}

	if cfg.Channels.Slack.Enabled {
		g.outbounds["slack"] = slack.New(slack.Config{
			Token:             cfg.Channels.Slack.BotToken,
			APIBaseURL:        cfg.Channels.Slack.APIBaseURL,
			MessagesPerSecond: cfg.Channels.Slack.MessagesPerSecond,
		}, g.hooks, logger)
	}

	if cfg.Channels.Discord.Enabled {
		session, err := discordgo.New("Bot " + cfg.Channels.Discord.BotToken)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("creating discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
		g.discord = session
		g.outbounds["discord"] = discord.New(session, g.hooks, logger)
		g.attachDiscord(session)
	}

	if cfg.Channels.Mattermost.Enabled {
		g.mattermost = monitor.NewWebSocketMonitor(
			cfg.Channels.Mattermost.WebSocketURL,
			cfg.Channels.Mattermost.Token,
			g.handleMattermostPost,
			g.board.sink("mattermost"),
			logger,
		)
	}

	if cfg.Channels.Zalo.Enabled {
		g.webhooks = monitor.NewWebhookRegistry(logger)
		g.webhooks.Register(
			cfg.Channels.Zalo.Secret,
			cfg.Channels.Zalo.Path,
			g.handleZaloEvent,
			g.board.sink("zalo"),
		)
	}

	httpHandler, err := g.buildHTTPHandler()
	if err != nil {
		st.Close()
		return nil, err
	}
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Agents exposes the agent manager for runner registration.
func (g *Gateway) Agents() *agent.Manager { return g.agents }

// Hooks exposes the hook runner for plugin registration.
func (g *Gateway) Hooks() *hooks.Runner { return g.hooks }

// ownershipHook adapts the ownership check to a message_sending handler.
func ownershipHook(svc *ownership.Service, logger *slog.Logger) hooks.Handler {
	return func(ctx context.Context, payload any) (any, error) {
		p, ok := payload.(*hooks.SendingPayload)
		if !ok {
			return nil, nil
		}
		d := svc.CheckSend(ctx, p.Metadata.ChannelID, p.Metadata.ThreadKey)
		if !d.Proceed {
			logger.Info("send denied by thread ownership",
				"channel_id", p.Metadata.ChannelID,
				"thread_key", p.Metadata.ThreadKey,
				"owner", d.Owner,
			)
			return &hooks.SendingResult{Cancel: true}, nil
		}
		return nil, nil
	}
}

// Run starts all channel loops and the HTTP API, and blocks until the context
// is cancelled or a component fails fatally.
func (g *Gateway) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)

	if g.mattermost != nil {
		grp.Go(func() error {
			return reconnect.Run(ctx, g.mattermost.ConnectOnce, reconnect.Options{
				InitialDelay: g.config.Reconnect.InitialDelay,
				MaxDelay:     g.config.Reconnect.MaxDelay,
				JitterRatio:  g.config.Reconnect.JitterRatio,
				Logger:       g.logger.With("channel", "mattermost"),
			})
		})
	}

	if g.discord != nil {
		grp.Go(func() error {
			return reconnect.Run(ctx, g.runDiscordSession, reconnect.Options{
				InitialDelay: g.config.Reconnect.InitialDelay,
				MaxDelay:     g.config.Reconnect.MaxDelay,
				JitterRatio:  g.config.Reconnect.JitterRatio,
				Logger:       g.logger.With("channel", "discord"),
			})
		})
	}

	grp.Go(func() error {
		g.logger.Info("HTTP API listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return grp.Wait()
}

// attachDiscord binds the message handler to the session. Registration
// happens once here, not in the reconnect loop: AddHandler accumulates, so
// registering per attempt would fan every event out to duplicate handlers.
func (g *Gateway) attachDiscord(conn discordSession) {
	g.discordConn = conn
	conn.AddHandler(g.handleDiscordMessage)
}

// runDiscordSession opens the gateway session and holds it until the context
// ends. Open failures return an error so the backoff loop escalates.
func (g *Gateway) runDiscordSession(ctx context.Context) error {
	if err := g.discordConn.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	g.board.sink("discord").OnStatusChange(connectedPatch())

	<-ctx.Done()
	if err := g.discordConn.Close(); err != nil {
		g.logger.Warn("discord close failed", "error", err)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.inboundCancel()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if g.dedupe != nil {
		g.dedupe.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// buildHTTPHandler assembles the API mux with optional JWT auth.
func (g *Gateway) buildHTTPHandler() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	statusHandler := http.Handler(http.HandlerFunc(g.handleStatus))
	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		statusHandler = auth.HTTPAuthMiddleware(verifier)(statusHandler)
	} else {
		g.logger.Warn("auth disabled - no jwt_secret configured")
	}
	mux.Handle("/api/status", statusHandler)

	if g.webhooks != nil {
		mux.Handle(config.WebhookMountPrefix, g.webhooks)
	}
	return mux, nil
}
