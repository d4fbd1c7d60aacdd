package models

import (
	"time"

	"github.com/google/uuid"
)

// Deal statuses (§4.6). Exactly these nine states, three of them terminal; the transition
// table below is the sole source of truth for which moves are legal.
const (
	DealStatusPending   = "pending"
	DealStatusAccepted  = "accepted"
	DealStatusFunded    = "funded"
	DealStatusScheduled = "scheduled"
	DealStatusPosted    = "posted"
	DealStatusVerified  = "verified"
	DealStatusCompleted = "completed"
	DealStatusRefunded  = "refunded"
	DealStatusCancelled = "cancelled"
)

// DealStep numbers a status for UI progress bars (§4.6); terminal failure
// states report 0, not "further along" than any prior step.
var DealStep = map[string]int{
	DealStatusPending:   1,
	DealStatusAccepted:  2,
	DealStatusFunded:    3,
	DealStatusScheduled: 3,
	DealStatusPosted:    4,
	DealStatusVerified:  5,
	DealStatusCompleted: 6,
	DealStatusRefunded:  0,
	DealStatusCancelled: 0,
}

// ValidDealTransitions is the strict transition table of §4.6 — any pair
// not listed here is REJECTED.
var ValidDealTransitions = map[string][]string{
	DealStatusPending:   {DealStatusAccepted, DealStatusCancelled},
	DealStatusAccepted:  {DealStatusFunded, DealStatusCancelled},
	DealStatusFunded:    {DealStatusScheduled, DealStatusPosted, DealStatusRefunded},
	DealStatusScheduled: {DealStatusPosted, DealStatusCancelled, DealStatusRefunded},
	DealStatusPosted:    {DealStatusVerified, DealStatusRefunded},
	DealStatusVerified:  {DealStatusCompleted, DealStatusRefunded},
	DealStatusCompleted: {},
	DealStatusRefunded:  {},
	DealStatusCancelled: {},
}

// TerminalDealStatuses per I2 — never mutated again once reached.
var TerminalDealStatuses = map[string]bool{
	DealStatusCompleted:  true,
	DealStatusRefunded:   true,
	DealStatusCancelled:  true,
}

// IsTerminal reports whether status is one of the terminal deal states.
func IsTerminal(status string) bool {
	return TerminalDealStatuses[status]
}

// IsValidTransition reports whether newState is reachable from currentState
// under the table above.
func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the states reachable from `from`, used to
// populate the {allowed_transitions} field of a CONFLICT response.
func AllowedTransitions(from string) []string {
	allowed := ValidDealTransitions[from]
	out := make([]string, len(allowed))
	copy(out, allowed)
	return out
}

// Deal is the unit of commerce between one advertiser and one channel for
// one ad placement (§3).
type Deal struct {
	ID                      uuid.UUID  `json:"id"`
	CampaignID              *uuid.UUID `json:"campaign_id,omitempty"`
	ChannelID               uuid.UUID  `json:"channel_id"`
	AdvertiserUserID        uuid.UUID  `json:"advertiser_user_id"`
	Status                  string     `json:"status"`
	EscrowAmountTON         string     `json:"escrow_amount_ton"`
	AdvertiserPayoutAddress *string    `json:"advertiser_payout_address,omitempty"`
	ChannelOwnerPayoutAddr  *string    `json:"channel_owner_payout_address,omitempty"`
	MessageID               *int64     `json:"message_id,omitempty"`
	PostedAt                *time.Time `json:"posted_at,omitempty"`
	HoldHours               int        `json:"hold_hours"`
	SenderAddress           *string    `json:"sender_address,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// ReleaseAt is posted_at + hold_hours, per I5; nil if not yet posted.
func (d *Deal) ReleaseAt() *time.Time {
	if d.PostedAt == nil {
		return nil
	}
	t := d.PostedAt.Add(time.Duration(d.HoldHours) * time.Hour)
	return &t
}

// DealWithChannel embeds Deal plus denormalized channel fields, avoiding an
// N+1 query on list/detail endpoints.
type DealWithChannel struct {
	Deal
	ChannelUsername string `json:"channel_username"`
	ChannelTitle    string `json:"channel_title,omitempty"`
}
