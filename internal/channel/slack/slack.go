// ABOUTME: Slack outbound adapter: delivers agent replies over the Slack Web API.
// ABOUTME: Runs message hooks around each send and rate-limits API calls to tier limits.

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/parley-gateway/internal/channel"
	"github.com/2389/parley-gateway/internal/hooks"
	"github.com/2389/parley-gateway/internal/render"
)

const defaultAPIBaseURL = "https://slack.com"

// Config holds the Slack adapter settings.
type Config struct {
	// Token is the bot token used as a bearer credential.
	Token string

	// APIBaseURL overrides the Slack API origin. Empty means slack.com.
	APIBaseURL string

	// MessagesPerSecond bounds Web API calls. Zero means the chat.postMessage
	// tier limit of one per second.
	MessagesPerSecond float64
}

// APIError is a Slack API-level failure: the HTTP exchange succeeded but the
// response carried ok:false.
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Reason)
}

// Adapter implements channel.Outbound over the Slack Web API.
type Adapter struct {
	token   string
	apiBase string
	client  *http.Client
	limiter *rate.Limiter
	hooks   *hooks.Runner
	logger  *slog.Logger
}

// New creates a Slack adapter. The hook runner may be nil, in which case sends
// go straight to the API.
func New(cfg Config, hookRunner *hooks.Runner, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	base := cfg.APIBaseURL
	if base == "" {
		base = defaultAPIBaseURL
	}
	perSec := cfg.MessagesPerSecond
	if perSec <= 0 {
		perSec = 1
	}
	return &Adapter{
		token:   cfg.Token,
		apiBase: base,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		hooks:   hookRunner,
		logger:  logger.With("component", "slack"),
	}
}

// SendText delivers a text message, optionally threaded.
func (a *Adapter) SendText(ctx context.Context, req *channel.SendRequest) (*channel.SendResult, error) {
	return a.send(ctx, req, false)
}

// SendMedia delivers a message with an attached media URL.
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

	payload := map[string]any{
		"channel": req.To,
		"text":    render.Flatten(text),
	}
	if threadKey != "" {
		payload["thread_ts"] = threadKey
	}
	if id := req.Identity; id != nil {
		if id.Name != "" {
			payload["username"] = id.Name
		}
		if id.AvatarURL != "" {
			payload["icon_url"] = id.AvatarURL
		} else if emoji := id.IconEmoji(); emoji != "" {
			payload["icon_emoji"] = emoji
		}
	}
	if media && req.MediaURL != "" {
		payload["attachments"] = []map[string]any{{
			"image_url": req.MediaURL,
			"fallback":  render.Flatten(text),
		}}
	}

	resp, err := a.apiCall(ctx, "chat.postMessage", payload)
	if err != nil {
		a.runSent(ctx, req, text, "", err)
		return nil, err
	}

	a.runSent(ctx, req, text, resp.TS, nil)
	return &channel.SendResult{
		MessageID: resp.TS,
		ChannelID: resp.Channel,
		Meta:      channel.ResultMeta{ThreadKey: threadKey},
	}, nil
}

// runSent fires the observational message_sent hook after a real API call.
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

type apiResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

// apiCall posts one Web API method, honoring the rate limiter first.
func (a *Adapter) apiCall(ctx context.Context, method string, payload any) (*apiResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack %s: encode: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/api/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("slack %s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+a.token)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("slack %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("slack %s: read response: %w", method, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack %s: status %d", method, httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("slack %s: decode: %w", method, err)
	}
	if !resp.OK {
		return nil, &APIError{Method: method, Reason: resp.Error}
	}
	return &resp, nil
}
