// Package store is the Postgres persistence layer. Every repository holds
// a shared *pgxpool.Pool; DealStore additionally exposes the
// compare-and-set primitive the deal state machine relies on to make
// concurrent transitions safe (§4.6, I2/I3).
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store bundles all per-entity repositories behind one constructor so
// callers wire a single object instead of one per table.
type Store struct {
	Users          *UserStore
	Channels       *ChannelStore
	Campaigns      *CampaignStore
	Deals          *DealStore
	Escrow         *EscrowStore
	ScheduledPosts *ScheduledPostStore
	Audit          *AuditStore
}

func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{
		Users:          &UserStore{pool: pool},
		Channels:       &ChannelStore{pool: pool},
		Campaigns:      &CampaignStore{pool: pool},
		Deals:          &DealStore{pool: pool, log: log},
		Escrow:         &EscrowStore{pool: pool},
		ScheduledPosts: &ScheduledPostStore{pool: pool},
		Audit:          &AuditStore{pool: pool},
	}
}
