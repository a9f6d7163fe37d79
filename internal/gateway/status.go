// ABOUTME: Per-channel status accumulation from monitor patches.
// ABOUTME: Feeds the status API and persists connection transitions to the store.

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley-gateway/internal/channel"
	"github.com/2389/parley-gateway/internal/store"
)

// statusBoard accumulates the latest status snapshot per channel.
type statusBoard struct {
	mu       sync.Mutex
	channels map[string]*channel.Status

	store  store.Store
	logger *slog.Logger
}

func newStatusBoard(st store.Store, logger *slog.Logger) *statusBoard {
	if logger == nil {
		logger = slog.Default()
	}
	return &statusBoard{
		channels: make(map[string]*channel.Status),
		store:    st,
		logger:   logger.With("component", "status"),
	}
}

// sink returns a StatusSink bound to one channel name.
func (b *statusBoard) sink(name string) channel.StatusSink {
	return &boundSink{board: b, name: name}
}

// apply merges a patch and persists connect/disconnect transitions.
func (b *statusBoard) apply(name string, patch channel.StatusPatch) {
	b.mu.Lock()
	st, ok := b.channels[name]
	if !ok {
		st = &channel.Status{}
		b.channels[name] = st
	}
	st.Apply(patch)
	b.mu.Unlock()

	if patch.Connected == nil || b.store == nil {
		return
	}

	ev := &store.ConnectionEvent{Channel: name, Connected: *patch.Connected}
	if patch.LastDisconnect != nil {
		ev.Code = patch.LastDisconnect.Code
		ev.Reason = patch.LastDisconnect.Reason
	}
	if err := b.store.RecordConnectionEvent(context.Background(), ev); err != nil {
		b.logger.Warn("failed to record connection event", "channel", name, "error", err)
	}
}

// snapshot copies the current per-channel statuses.
func (b *statusBoard) snapshot() map[string]channel.Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]channel.Status, len(b.channels))
	for name, st := range b.channels {
		out[name] = *st
	}
	return out
}

// boundSink routes monitor patches into the board under a fixed name.
type boundSink struct {
	board *statusBoard
	name  string
}

func (s *boundSink) OnStatusChange(patch channel.StatusPatch) {
	s.board.apply(s.name, patch)
}

// connectedPatch builds a patch marking a channel connected now.
func connectedPatch() channel.StatusPatch {
	connected := true
	now := time.Now()
	return channel.StatusPatch{Connected: &connected, LastConnectedAt: &now}
}
