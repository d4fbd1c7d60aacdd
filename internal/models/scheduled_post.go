package models

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledPost statuses (§4.8). A deal has at most one ScheduledPost,
// UNIQUE(deal_id).
const (
	PostStatusScheduled = "scheduled"
	PostStatusPosted    = "posted"
	PostStatusReleased  = "released"
	PostStatusRefunded  = "refunded"
)

// ScheduledPost is the posting intent carried from Deal.scheduled through
// to the payout decision taken once the hold period elapses.
type ScheduledPost struct {
	ID             uuid.UUID  `json:"id"`
	DealID         uuid.UUID  `json:"deal_id"`
	ChannelID      uuid.UUID  `json:"channel_id"`
	AdText         string     `json:"ad_text"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	MessageID      *int64     `json:"message_id,omitempty"`
	HoldHours      int        `json:"hold_hours"`
	ReleaseAt      *time.Time `json:"release_at,omitempty"`
	Status         string     `json:"status"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DuePosting reports whether the scheduled time has arrived and the post
// has not yet been made (§4.8 post-tick predicate).
func (p *ScheduledPost) DuePosting(now time.Time) bool {
	return p.Status == PostStatusScheduled && !p.ScheduledTime.After(now)
}

// DueVerification reports whether the hold period has elapsed since
// posting and the deal is still awaiting a release/refund decision
// (§4.8 verify-tick predicate).
func (p *ScheduledPost) DueVerification(now time.Time) bool {
	if p.Status != PostStatusPosted || p.ReleaseAt == nil {
		return false
	}
	return !p.ReleaseAt.After(now)
}
