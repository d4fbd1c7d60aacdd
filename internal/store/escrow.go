package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

type EscrowStore struct {
	pool *pgxpool.Pool
}

// CreateWallet is idempotent on deal_id: UNIQUE(deal_id) means a second
// CreateWallet call for the same deal returns the existing row instead of
// erroring, which is what makes EscrowService.CreateWallet safe to retry.
func (s *EscrowStore) CreateWallet(ctx context.Context, w *models.EscrowWallet) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO escrow_wallets (deal_id, address, encrypted_key, wallet_version, cached_balance, last_checked_at)
		VALUES ($1, $2, $3, $4, '0', now())
		ON CONFLICT (deal_id) DO UPDATE SET deal_id = escrow_wallets.deal_id
		RETURNING id, address, encrypted_key, wallet_version, cached_balance, last_checked_at, created_at
	`, w.DealID, w.Address, w.EncryptedKey, w.WalletVersion).Scan(&w.ID, &w.Address, &w.EncryptedKey, &w.WalletVersion, &w.CachedBalance, &w.LastCheckedAt, &w.CreatedAt)
}

func (s *EscrowStore) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error) {
	var w models.EscrowWallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, deal_id, address, encrypted_key, wallet_version, cached_balance, last_checked_at, created_at
		FROM escrow_wallets WHERE deal_id = $1
	`, dealID).Scan(&w.ID, &w.DealID, &w.Address, &w.EncryptedKey, &w.WalletVersion, &w.CachedBalance, &w.LastCheckedAt, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *EscrowStore) UpdateCachedBalance(ctx context.Context, id uuid.UUID, balance string) error {
	_, err := s.pool.Exec(ctx, `UPDATE escrow_wallets SET cached_balance = $1, last_checked_at = now() WHERE id = $2`, balance, id)
	return err
}

// ListAwaitingDeposit returns every wallet whose deal is in `accepted`,
// the set the scheduler's deposit-watch tick polls against.
func (s *EscrowStore) ListAwaitingDeposit(ctx context.Context) ([]models.EscrowWallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.deal_id, w.address, w.encrypted_key, w.wallet_version, w.cached_balance, w.last_checked_at, w.created_at
		FROM escrow_wallets w JOIN deals d ON d.id = w.deal_id
		WHERE d.status = $1
	`, models.DealStatusAccepted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscrowWallet
	for rows.Next() {
		var w models.EscrowWallet
		if err := rows.Scan(&w.ID, &w.DealID, &w.Address, &w.EncryptedKey, &w.WalletVersion, &w.CachedBalance, &w.LastCheckedAt, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordTransaction inserts an escrow transaction; UNIQUE(tx_hash) makes
// this idempotent when the same on-chain transfer is observed twice
// (e.g. the deposit-watch tick racing the HTTP escrow/verify endpoint).
func (s *EscrowStore) RecordTransaction(ctx context.Context, tx *models.EscrowTransaction) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO escrow_transactions (wallet_id, tx_hash, kind, amount_ton, from_addr, to_addr, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id, created_at
	`, tx.WalletID, tx.TxHash, tx.Kind, tx.AmountTON, tx.FromAddr, tx.ToAddr, tx.Status).Scan(&tx.ID, &tx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// ON CONFLICT DO NOTHING with no RETURNING row means it already existed.
		return s.pool.QueryRow(ctx, `SELECT id, created_at FROM escrow_transactions WHERE tx_hash = $1`, tx.TxHash).Scan(&tx.ID, &tx.CreatedAt)
	}
	return err
}

func (s *EscrowStore) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]models.EscrowTransaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, tx_hash, kind, amount_ton, from_addr, to_addr, status, created_at
		FROM escrow_transactions WHERE wallet_id = $1 ORDER BY created_at ASC
	`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EscrowTransaction
	for rows.Next() {
		var tx models.EscrowTransaction
		if err := rows.Scan(&tx.ID, &tx.WalletID, &tx.TxHash, &tx.Kind, &tx.AmountTON, &tx.FromAddr, &tx.ToAddr, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// HasTransaction reports whether a transaction with this hash has already
// been recorded, the idempotency check VerifyDeposit uses before crediting
// a deposit twice.
func (s *EscrowStore) HasTransaction(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM escrow_transactions WHERE tx_hash = $1)`, txHash).Scan(&exists)
	return exists, err
}
