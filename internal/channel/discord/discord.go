// ABOUTME: Discord outbound adapter: delivers agent replies through a discordgo session.
// ABOUTME: Runs message hooks around each send; replies attach to the thread via message references.

package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/parley-gateway/internal/channel"
	"github.com/2389/parley-gateway/internal/hooks"
)

// messageSender is the slice of the discordgo session the adapter needs.
type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter implements channel.Outbound over a Discord gateway session. Discord
// renders markdown natively, so content is passed through unflattened.
// Per-message identity overrides need webhook execution and are not applied
// on session sends.
type Adapter struct {
	session messageSender
	hooks   *hooks.Runner
	logger  *slog.Logger
}

// New creates a Discord adapter around an open session.
func New(session *discordgo.Session, hookRunner *hooks.Runner, logger *slog.Logger) *Adapter {
	return newAdapter(session, hookRunner, logger)
}

func newAdapter(session messageSender, hookRunner *hooks.Runner, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		session: session,
		hooks:   hookRunner,
		logger:  logger.With("component", "discord"),
	}
}

// SendText delivers a text message, replying into the thread when the request
// carries a routing key.
func (a *Adapter) SendText(ctx context.Context, req *channel.SendRequest) (*channel.SendResult, error) {
	return a.send(ctx, req, false)
}

// SendMedia delivers a message with the media URL embedded as an image.
func (a *Adapter) SendMedia(ctx context.Context, req *channel.SendRequest) (*channel.SendResult, error) {
	return a.send(ctx, req, true)
}

func (a *Adapter) send(ctx context.Context, req *channel.SendRequest, media bool) (*channel.SendResult, error) {
	threadKey := req.ThreadKey()
	text := req.Text

	if a.hooks != nil && a.hooks.HasHooks(hooks.MessageSending) {
		res := a.hooks.RunMessageSending(ctx, &hooks.SendingPayload{
			To:      req.To,
			Content: text,
			Metadata: hooks.SendMetadata{
				ThreadKey: threadKey,
				ChannelID: req.To,
				MediaURL:  req.MediaURL,
			},
		})
		if res.Cancel {
			a.logger.Info("send cancelled by hook", "channel", req.To)
			return &channel.SendResult{
				MessageID: channel.MessageIDCancelled,
				ChannelID: req.To,
				Meta:      channel.ResultMeta{Cancelled: true, ThreadKey: threadKey},
			}, nil
		}
		text = res.Content
	}

	data := &discordgo.MessageSend{Content: text}
	if threadKey != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: threadKey,
			ChannelID: req.To,
		}
	}
	if media && req.MediaURL != "" {
		data.Embeds = []*discordgo.MessageEmbed{{
			Image: &discordgo.MessageEmbedImage{URL: req.MediaURL},
		}}
	}

	msg, err := a.session.ChannelMessageSendComplex(req.To, data, discordgo.WithContext(ctx))
	if err != nil {
		err = fmt.Errorf("discord send to %s: %w", req.To, err)
		a.runSent(ctx, req, text, "", err)
		return nil, err
	}

	a.runSent(ctx, req, text, msg.ID, nil)
	return &channel.SendResult{
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		Meta:      channel.ResultMeta{ThreadKey: threadKey},
	}, nil
}

func (a *Adapter) runSent(ctx context.Context, req *channel.SendRequest, text, messageID string, sendErr error) {
	if a.hooks == nil || !a.hooks.HasHooks(hooks.MessageSent) {
		return
	}
	p := &hooks.SentPayload{
		To:        req.To,
		Content:   text,
		MessageID: messageID,
		Success:   sendErr == nil,
	}
	if sendErr != nil {
		p.Error = sendErr.Error()
	}
	a.hooks.RunMessageSent(ctx, p)
}
