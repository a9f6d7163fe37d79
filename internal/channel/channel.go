// ABOUTME: Shared types for channel adapters: send requests, results, and status reporting.
// ABOUTME: Defines the outbound contract every platform adapter implements.

package channel

import (
	"context"
	"regexp"
	"time"
)

// MessageIDCancelled is the synthetic message ID returned when a
// message_sending hook cancels a send before it reaches the platform API.
const MessageIDCancelled = "cancelled-by-hook"

// Identity overrides the sender appearance for a single send, on platforms
// that support per-message display names and icons.
type Identity struct {
	Name      string
	AvatarURL string
	Emoji     string
}

// shortcodeRe matches a strict :shortcode: emoji name.
var shortcodeRe = regexp.MustCompile(`^:[a-z0-9_+-]+:$`)

// IconEmoji returns the emoji to use as a send-time icon, or "" if the
// identity has none. An emoji is only accepted in strict :shortcode: shape,
// and an avatar URL always takes precedence over an emoji.
func (id *Identity) IconEmoji() string {
	if id == nil || id.AvatarURL != "" {
		return ""
	}
	if !shortcodeRe.MatchString(id.Emoji) {
		return ""
	}
	return id.Emoji
}

// SendRequest describes one outbound message. It is created per agent reply
// and ends in exactly one of: delivered, cancelled-by-hook, or failed.
type SendRequest struct {
	To        string
	Text      string
	MediaURL  string
	AccountID string
	ReplyToID string
	ThreadID  string
	Identity  *Identity
}

// ThreadKey resolves the effective thread/reply routing key. It is computed
// once before hooks run; hooks may rewrite content but never the routing key.
func (r *SendRequest) ThreadKey() string {
	if r.ReplyToID != "" {
		return r.ReplyToID
	}
	return r.ThreadID
}

// SendResult reports the outcome of a send.
type SendResult struct {
	MessageID string
	ChannelID string
	Meta      ResultMeta
}

// ResultMeta carries delivery metadata alongside the platform message ID.
type ResultMeta struct {
	Cancelled bool
	ThreadKey string
}

// Outbound is the send side of a channel adapter.
type Outbound interface {
	SendText(ctx context.Context, req *SendRequest) (*SendResult, error)
	SendMedia(ctx context.Context, req *SendRequest) (*SendResult, error)
}

// Disconnect records the most recent connection loss.
type Disconnect struct {
	At     time.Time
	Code   int
	Reason string
}

// StatusPatch is a partial status snapshot. Nil fields are left unchanged by
// the receiver; this mirrors how monitors report incremental transitions.
type StatusPatch struct {
	Connected       *bool
	LastConnectedAt *time.Time
	LastError       string
	LastDisconnect  *Disconnect
}

// StatusSink receives connection status transitions from a channel monitor.
// Implementations must not block; the monitor calls it inline.
type StatusSink interface {
	OnStatusChange(patch StatusPatch)
}

// Status is a full status snapshot as accumulated from patches.
type Status struct {
	Connected       bool        `json:"connected"`
	LastConnectedAt time.Time   `json:"last_connected_at,omitzero"`
	LastError       string      `json:"last_error,omitempty"`
	LastDisconnect  *Disconnect `json:"last_disconnect,omitempty"`
}

// Apply merges a patch into the snapshot.
func (s *Status) Apply(patch StatusPatch) {
	if patch.Connected != nil {
		s.Connected = *patch.Connected
	}
	if patch.LastConnectedAt != nil {
		s.LastConnectedAt = *patch.LastConnectedAt
	}
	if patch.LastError != "" {
		s.LastError = patch.LastError
	}
	if patch.LastDisconnect != nil {
		s.LastDisconnect = patch.LastDisconnect
	}
}
