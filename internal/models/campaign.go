package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses — a campaign is a lightweight container an advertiser
// can attach zero or more Deals to; it has no state machine of its own.
const (
	CampaignStatusActive = "active"
	CampaignStatusClosed = "closed"
)

// Campaign groups deals an advertiser runs against a shared budget/brief.
type Campaign struct {
	ID               uuid.UUID `json:"id"`
	AdvertiserUserID uuid.UUID `json:"advertiser_user_id"`
	Title            string    `json:"title"`
	Text             string    `json:"text"`
	BudgetTON        string    `json:"budget_ton"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
