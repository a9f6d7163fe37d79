// ABOUTME: Inbound message handling with deduplication.
// ABOUTME: Drives the accept -> agent turn -> outbound delivery pipeline for every channel.

package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/parley-gateway/internal/agent"
	"github.com/2389/parley-gateway/internal/channel"
	"github.com/2389/parley-gateway/internal/monitor"
	"github.com/2389/parley-gateway/internal/ownership"
	"github.com/2389/parley-gateway/internal/store"
)

// Inbound represents a message received from a channel.
// Each channel provides a unique platform-specific message ID:
//   - Mattermost: post ID
//   - Slack: ts (e.g., "1234567890.123456")
//   - Discord: message snowflake
//   - Zalo: webhook message ID
type Inbound struct {
	// Channel identifies the source platform (e.g., "mattermost", "discord")
	Channel string

	// PlatformMessageID is the unique message identifier from the platform
	PlatformMessageID string

	// ChannelID is the channel/room identifier on the platform
	ChannelID string

	// ThreadID is the thread root, or "" for top-level messages
	ThreadID string

	// Sender is the user identifier on the platform
	Sender string

	// Content is the message text
	Content string
}

// HandleInbound processes a message from a channel.
// It uses deduplication to ensure the same platform message is only processed
// once. Duplicate messages return nil (success, idempotent behavior).
func (g *Gateway) HandleInbound(ctx context.Context, msg *Inbound) error {
	key := fmt.Sprintf("inbound:%s:%s", msg.Channel, msg.PlatformMessageID)

	if g.dedupe.Check(key) {
		g.logger.Debug("duplicate inbound message ignored",
			"channel", msg.Channel,
			"platform_id", msg.PlatformMessageID,
		)
		return nil // success, idempotent
	}

	if err := g.processInbound(ctx, msg); err != nil {
		return err
	}

	// Mark as seen only after successful processing
	g.dedupe.Mark(key)
	return nil
}

// processInbound records the message, runs an agent turn, and delivers the
// reply. Separated from HandleInbound for the check -> process -> mark
// pattern: a failed message can be retried by the platform.
func (g *Gateway) processInbound(ctx context.Context, msg *Inbound) error {
	g.logger.Debug("processing inbound message",
		"channel", msg.Channel,
		"platform_id", msg.PlatformMessageID,
		"channel_id", msg.ChannelID,
		"sender", msg.Sender,
	)

	if g.ownership != nil && ownership.MentionsAgent(msg.Content, g.config.Agent.Name, g.config.Agent.ID) {
		g.ownership.RecordMention(msg.ChannelID, msg.ThreadID)
	}

	if err := g.store.RecordInbound(ctx, &store.InboundMessage{
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		Content:   msg.Content,
	}); err != nil {
		g.logger.Warn("failed to record inbound message", "error", err)
	}

	reply, err := g.agents.RunTurn(ctx, g.config.Agent.ID, &agent.Turn{
		SessionID: fmt.Sprintf("%s:%s:%s", msg.Channel, msg.ChannelID, msg.ThreadID),
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Sender:    msg.Sender,
		Content:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("agent turn: %w", err)
	}
	if reply.Text == "" {
		return nil
	}

	return g.deliver(ctx, msg, reply.Text)
}

// deliver sends the reply back on the originating channel and records the
// outcome, including hook cancellations.
func (g *Gateway) deliver(ctx context.Context, msg *Inbound, text string) error {
	out, ok := g.outbounds[msg.Channel]
	if !ok {
		g.logger.Warn("no outbound adapter for channel, reply dropped", "channel", msg.Channel)
		return nil
	}

	res, err := out.SendText(ctx, &channel.SendRequest{
		To:       msg.ChannelID,
		Text:     text,
		ThreadID: msg.ThreadID,
	})

	d := &store.Delivery{
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
	}
	switch {
	case err != nil:
		d.Outcome = store.DeliveryFailed
		d.Error = err.Error()
	case res.Meta.Cancelled:
		d.Outcome = store.DeliveryCancelled
		d.MessageID = res.MessageID
		d.ThreadKey = res.Meta.ThreadKey
	default:
		d.Outcome = store.DeliveryDelivered
		d.MessageID = res.MessageID
		d.ThreadKey = res.Meta.ThreadKey
	}
	if serr := g.store.RecordDelivery(ctx, d); serr != nil {
		g.logger.Warn("failed to record delivery", "error", serr)
	}

	if err != nil {
		return fmt.Errorf("delivering reply: %w", err)
	}
	return nil
}

// handleMattermostPost adapts a monitored post into the inbound pipeline.
// Dispatch happens inline on the monitor's read loop, so processing runs in
// its own goroutine.
func (g *Gateway) handleMattermostPost(post monitor.Post) {
	msg := &Inbound{
		Channel:           "mattermost",
		PlatformMessageID: post.ID,
		ChannelID:         post.ChannelID,
		ThreadID:          post.RootID,
		Sender:            post.UserID,
		Content:           post.Message,
	}
	go func() {
		if err := g.HandleInbound(g.inboundCtx, msg); err != nil {
			g.logger.Error("inbound handling failed", "channel", "mattermost", "error", err)
		}
	}()
}

// handleDiscordMessage is the discordgo message-create handler.
func (g *Gateway) handleDiscordMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	threadID := ""
	if m.MessageReference != nil {
		threadID = m.MessageReference.MessageID
	}
	msg := &Inbound{
		Channel:           "discord",
		PlatformMessageID: m.ID,
		ChannelID:         m.ChannelID,
		ThreadID:          threadID,
		Sender:            m.Author.ID,
		Content:           m.Content,
	}
	go func() {
		if err := g.HandleInbound(g.inboundCtx, msg); err != nil {
			g.logger.Error("inbound handling failed", "channel", "discord", "error", err)
		}
	}()
}

// handleZaloEvent adapts an authenticated webhook event into the pipeline.
func (g *Gateway) handleZaloEvent(ev monitor.WebhookEvent) {
	msg := &Inbound{
		Channel:           "zalo",
		PlatformMessageID: ev.MessageID,
		ChannelID:         ev.ChannelID,
		ThreadID:          ev.ThreadID,
		Sender:            ev.Sender,
		Content:           ev.Text,
	}
	go func() {
		if err := g.HandleInbound(g.inboundCtx, msg); err != nil {
			g.logger.Error("inbound handling failed", "channel", "zalo", "error", err)
		}
	}()
}
