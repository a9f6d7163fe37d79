// ABOUTME: Tests for the SQLite store.
// ABOUTME: Uses an in-memory database; covers all three record types and ordering.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordInbound_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &InboundMessage{
		Channel:   "mattermost",
		ChannelID: "town-square",
		ThreadID:  "root1",
		Sender:    "alice",
		Content:   "hello",
	}
	require.NoError(t, s.RecordInbound(ctx, msg))
	require.NotEmpty(t, msg.ID)

	got, err := s.GetInbound(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "root1", got.ThreadID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetInbound_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetInbound(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListInboundByThread_OldestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordInbound(ctx, &InboundMessage{
			Channel:   "mattermost",
			ChannelID: "town-square",
			ThreadID:  "root1",
			Sender:    "alice",
			Content:   fmt.Sprintf("msg-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := s.ListInboundByThread(ctx, "mattermost", "root1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-2", msgs[0].Content)
	assert.Equal(t, "msg-4", msgs[2].Content)
}

func TestRecordDelivery_CancelledOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDelivery(ctx, &Delivery{
		Channel:   "slack",
		ChannelID: "C123",
		ThreadKey: "1699.000001",
		MessageID: "cancelled-by-hook",
		Outcome:   DeliveryCancelled,
	}))
	require.NoError(t, s.RecordDelivery(ctx, &Delivery{
		Channel:   "slack",
		ChannelID: "C123",
		MessageID: "1700.000100",
		Outcome:   DeliveryDelivered,
		CreatedAt: time.Now().UTC().Add(time.Second),
	}))

	ds, err := s.ListDeliveries(ctx, "slack", 10)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, DeliveryDelivered, ds[0].Outcome)
	assert.Equal(t, DeliveryCancelled, ds[1].Outcome)
}

func TestListDeliveries_ChannelScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDelivery(ctx, &Delivery{Channel: "slack", ChannelID: "C1", Outcome: DeliveryDelivered}))
	require.NoError(t, s.RecordDelivery(ctx, &Delivery{Channel: "discord", ChannelID: "D1", Outcome: DeliveryFailed, Error: "HTTP 403"}))

	ds, err := s.ListDeliveries(ctx, "discord", 10)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "HTTP 403", ds[0].Error)
}

func TestConnectionEvents_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordConnectionEvent(ctx, &ConnectionEvent{
		Channel:   "mattermost",
		Connected: true,
	}))
	require.NoError(t, s.RecordConnectionEvent(ctx, &ConnectionEvent{
		Channel:   "mattermost",
		Connected: false,
		Code:      4001,
		Reason:    "authentication failed",
		CreatedAt: time.Now().UTC().Add(time.Second),
	}))

	evs, err := s.ListConnectionEvents(ctx, "mattermost", 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.False(t, evs[0].Connected)
	assert.Equal(t, 4001, evs[0].Code)
	assert.True(t, evs[1].Connected)
}
