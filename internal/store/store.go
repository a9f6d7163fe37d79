// ABOUTME: Store interface and data types for gateway persistence
// ABOUTME: Defines inbound message, delivery, and connection transition records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// InboundMessage is one message received from a channel, recorded after the
// dedupe layer accepts it.
type InboundMessage struct {
	ID        string
	Channel   string
	ChannelID string
	ThreadID  string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// Delivery outcome constants
const (
	DeliveryDelivered = "delivered"
	DeliveryCancelled = "cancelled"
	DeliveryFailed    = "failed"
)

// Delivery records the outcome of one outbound send, including sends
// cancelled by hooks before reaching the platform.
type Delivery struct {
	ID        string
	Channel   string
	ChannelID string
	ThreadKey string
	MessageID string
	Outcome   string // "delivered", "cancelled", "failed"
	Error     string
	CreatedAt time.Time
}

// ConnectionEvent records a channel monitor transition.
type ConnectionEvent struct {
	ID        string
	Channel   string
	Connected bool
	Code      int
	Reason    string
	CreatedAt time.Time
}

// Store is the persistence interface used by the gateway.
type Store interface {
	RecordInbound(ctx context.Context, msg *InboundMessage) error
	GetInbound(ctx context.Context, id string) (*InboundMessage, error)
	ListInboundByThread(ctx context.Context, channel, threadID string, limit int) ([]*InboundMessage, error)

	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, channel string, limit int) ([]*Delivery, error)

	RecordConnectionEvent(ctx context.Context, ev *ConnectionEvent) error
	ListConnectionEvents(ctx context.Context, channel string, limit int) ([]*ConnectionEvent, error)

	Close() error
}
