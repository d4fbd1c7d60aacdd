package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an advertiser or channel owner/manager, identified internally by
// ID and externally by a stable messaging-platform identifier.
type User struct {
	ID            uuid.UUID `json:"id"`
	TelegramID    int64     `json:"telegram_id"`
	Username      *string   `json:"username,omitempty"`
	PayoutAddress *string   `json:"payout_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
