// Package httpapi exposes the Fiber HTTP surface over the domain
// services: auth, channels, campaigns, deals, escrow, permissions, and a
// read-only operator WebSocket feed.
package httpapi

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the uniform response shape: {success, data} on the happy
// path, {success: false, error, fields} on failure (apperr.Error).
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func ok(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

type authRequest struct {
	InitData string `json:"init_data"`
}

type authResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type createChannelRequest struct {
	Username        string  `json:"username"`
	Title           *string `json:"title"`
	Category        *string `json:"category"`
	PricePerPostTON string  `json:"price_per_post_ton"`
}

type addManagerRequest struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	Role           string `json:"role"`
}

type createCampaignRequest struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	BudgetTON string `json:"budget_ton"`
}

type createDealRequest struct {
	CampaignID      *uuid.UUID `json:"campaign_id"`
	ChannelID       uuid.UUID  `json:"channel_id"`
	EscrowAmountTON string     `json:"escrow_amount_ton"`
	HoldHours       int        `json:"hold_hours"`
	PayoutAddress   *string    `json:"advertiser_payout_address"`
}

type transitionRequest struct {
	To string `json:"to"`
}

type scheduleRequest struct {
	AdText        string    `json:"ad_text"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

type destinationRequest struct {
	Destination *string `json:"destination"`
}

type permissionCheckRequest struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	Action    string    `json:"action"`
}

type verifyChannelRequest struct {
	ChannelUsername string `json:"channel_username"`
}
