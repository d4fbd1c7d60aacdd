package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowWallet is the per-deal on-chain wallet the system generates and
// holds custody of (exactly one per Deal, I1).
type EscrowWallet struct {
	ID              uuid.UUID `json:"id"`
	DealID          uuid.UUID `json:"deal_id"`
	Address         string    `json:"address"`
	EncryptedKey    string    `json:"-"`
	WalletVersion   string    `json:"wallet_version"`
	CachedBalance   string    `json:"cached_balance"`
	LastCheckedAt   time.Time `json:"last_checked_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// EscrowTransaction kinds and statuses (§3).
const (
	TxKindDeposit = "DEPOSIT"
	TxKindRelease = "RELEASE"
	TxKindRefund  = "REFUND"

	TxStatusPending   = "pending"
	TxStatusConfirmed = "confirmed"
)

// EscrowTransaction is an append-only record of on-chain value movement
// tied to an escrow wallet; UNIQUE(tx_hash) makes recording idempotent.
type EscrowTransaction struct {
	ID        uuid.UUID `json:"id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	TxHash    string    `json:"tx_hash"`
	Kind      string    `json:"kind"`
	AmountTON string    `json:"amount_ton"`
	FromAddr  string    `json:"from_addr,omitempty"`
	ToAddr    string    `json:"to_addr,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
