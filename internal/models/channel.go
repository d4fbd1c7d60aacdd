package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a messaging-platform channel the bot can post ads to.
type Channel struct {
	ID                uuid.UUID  `json:"id"`
	TelegramChatID    *int64     `json:"telegram_chat_id,omitempty"`
	Username          string     `json:"username"`
	Title             *string    `json:"title,omitempty"`
	Category          *string    `json:"category,omitempty"`
	PricePerPostTON   string     `json:"price_per_post_ton"`
	SubscriberCount   int        `json:"subscriber_count"`
	BotIsAdmin        bool       `json:"bot_is_admin"`
	BotCanPost        bool       `json:"bot_can_post"`
	Verified          bool       `json:"verified"`
	OwnerPayoutAddress *string   `json:"owner_payout_address,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CheckVerifiedInvariant enforces §8: verified ⇒ bot_is_admin ∧ bot_can_post.
func (c *Channel) CheckVerifiedInvariant() bool {
	if c.Verified {
		return c.BotIsAdmin && c.BotCanPost
	}
	return true
}

// Admin roles, lattice OWNER ⊇ MANAGER ⊇ POSTER (§4.5).
const (
	RoleOwner   = "OWNER"
	RoleManager = "MANAGER"
	RolePoster  = "POSTER"
)

// roleRank orders the lattice so higher ranks satisfy lower-ranked checks.
var roleRank = map[string]int{
	RolePoster:  1,
	RoleManager: 2,
	RoleOwner:   3,
}

// RoleSatisfies reports whether `have` grants at least the privileges of `need`.
func RoleSatisfies(have, need string) bool {
	hr, ok := roleRank[have]
	if !ok {
		return false
	}
	nr, ok := roleRank[need]
	if !ok {
		return false
	}
	return hr >= nr
}

// ChannelAdmin is a (channel, user) pair with a role, reflecting the most
// recent verification against the messaging platform (I6).
type ChannelAdmin struct {
	ID               uuid.UUID `json:"id"`
	ChannelID        uuid.UUID `json:"channel_id"`
	UserID           uuid.UUID `json:"user_id"`
	Role             string    `json:"role"`
	LastVerifiedAt   time.Time `json:"last_verified_at"`
}

// ChannelStatsSnapshot is an enrichment record for Channel.subscriber_count /
// category. No component in this module produces or persists one (the
// schema has no table for it), and it gates no deal operation.
type ChannelStatsSnapshot struct {
	ID            uuid.UUID `json:"id"`
	ChannelID     uuid.UUID `json:"channel_id"`
	FetchedAt     time.Time `json:"fetched_at"`
	Subscribers   *int      `json:"subscribers,omitempty"`
	VerifiedBadge bool      `json:"verified_badge"`
	AvgViews20    *int      `json:"avg_views_20,omitempty"`
}
