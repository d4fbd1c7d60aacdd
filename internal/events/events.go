package events

import "context"

// Stream is the single Redis pub/sub channel the operator WebSocket feed
// subscribes to; all deal/escrow lifecycle events are published here.
const Stream = "escrow-coordinator:events"

// Event types
const (
	EventDealStatusChanged = "deal_status_changed"
	EventEscrowDeposit     = "escrow_deposit_received"
	EventEscrowPayout      = "escrow_payout_sent"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
