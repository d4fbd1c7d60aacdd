package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

var ErrNotFound = errors.New("not found")

type UserStore struct {
	pool *pgxpool.Pool
}

// GetOrCreateByTelegramID is the entry point for /api/auth: a user with a
// given messaging-platform ID is created on first sight and returned
// thereafter, with its username replaced when a non-nil one is passed.
func (s *UserStore) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, username *string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (telegram_id, username)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO UPDATE SET username = COALESCE(EXCLUDED.username, users.username)
		RETURNING id, telegram_id, username, payout_address, created_at
	`, telegramID, username).Scan(&u.ID, &u.TelegramID, &u.Username, &u.PayoutAddress, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, telegram_id, username, payout_address, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.TelegramID, &u.Username, &u.PayoutAddress, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) SetPayoutAddress(ctx context.Context, id uuid.UUID, address string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET payout_address = $1 WHERE id = $2`, address, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
