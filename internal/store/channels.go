package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

type ChannelStore struct {
	pool *pgxpool.Pool
}

func (s *ChannelStore) Create(ctx context.Context, c *models.Channel) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO channels (telegram_chat_id, username, title, category, price_per_post_ton, owner_payout_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, subscriber_count, bot_is_admin, bot_can_post, verified, created_at, updated_at
	`, c.TelegramChatID, c.Username, c.Title, c.Category, c.PricePerPostTON, c.OwnerPayoutAddress,
	).Scan(&c.ID, &c.SubscriberCount, &c.BotIsAdmin, &c.BotCanPost, &c.Verified, &c.CreatedAt, &c.UpdatedAt)
}

func (s *ChannelStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	var c models.Channel
	err := s.pool.QueryRow(ctx, `
		SELECT id, telegram_chat_id, username, title, category, price_per_post_ton, subscriber_count,
		       bot_is_admin, bot_can_post, verified, owner_payout_address, created_at, updated_at
		FROM channels WHERE id = $1
	`, id).Scan(&c.ID, &c.TelegramChatID, &c.Username, &c.Title, &c.Category, &c.PricePerPostTON, &c.SubscriberCount,
		&c.BotIsAdmin, &c.BotCanPost, &c.Verified, &c.OwnerPayoutAddress, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ChannelStore) GetByUsername(ctx context.Context, username string) (*models.Channel, error) {
	var c models.Channel
	err := s.pool.QueryRow(ctx, `
		SELECT id, telegram_chat_id, username, title, category, price_per_post_ton, subscriber_count,
		       bot_is_admin, bot_can_post, verified, owner_payout_address, created_at, updated_at
		FROM channels WHERE username = $1
	`, username).Scan(&c.ID, &c.TelegramChatID, &c.Username, &c.Title, &c.Category, &c.PricePerPostTON, &c.SubscriberCount,
		&c.BotIsAdmin, &c.BotCanPost, &c.Verified, &c.OwnerPayoutAddress, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *ChannelStore) List(ctx context.Context, limit, offset int) ([]models.Channel, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, telegram_chat_id, username, title, category, price_per_post_ton, subscriber_count,
		       bot_is_admin, bot_can_post, verified, owner_payout_address, created_at, updated_at
		FROM channels ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.TelegramChatID, &c.Username, &c.Title, &c.Category, &c.PricePerPostTON,
			&c.SubscriberCount, &c.BotIsAdmin, &c.BotCanPost, &c.Verified, &c.OwnerPayoutAddress,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateVerification writes the result of a bot-admin-status probe (I6)
// as given, without calling CheckVerifiedInvariant; its caller, httpapi's
// VerifyChannel, derives verified as botIsAdmin && botCanPost.
func (s *ChannelStore) UpdateVerification(ctx context.Context, id uuid.UUID, botIsAdmin, botCanPost, verified bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE channels SET bot_is_admin = $1, bot_can_post = $2, verified = $3, updated_at = now()
		WHERE id = $4
	`, botIsAdmin, botCanPost, verified, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ChannelStore) UpdateStatsSnapshot(ctx context.Context, id uuid.UUID, subscriberCount int) error {
	_, err := s.pool.Exec(ctx, `UPDATE channels SET subscriber_count = $1, updated_at = now() WHERE id = $2`, subscriberCount, id)
	return err
}

// -- channel_admins --

func (s *ChannelStore) UpsertAdmin(ctx context.Context, a *models.ChannelAdmin) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO channel_admins (channel_id, user_id, role, last_verified_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (channel_id, user_id) DO UPDATE SET role = EXCLUDED.role, last_verified_at = now()
		RETURNING id, last_verified_at
	`, a.ChannelID, a.UserID, a.Role).Scan(&a.ID, &a.LastVerifiedAt)
}

func (s *ChannelStore) GetAdmin(ctx context.Context, channelID, userID uuid.UUID) (*models.ChannelAdmin, error) {
	var a models.ChannelAdmin
	err := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, user_id, role, last_verified_at FROM channel_admins
		WHERE channel_id = $1 AND user_id = $2
	`, channelID, userID).Scan(&a.ID, &a.ChannelID, &a.UserID, &a.Role, &a.LastVerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RemoveAdmin deletes a channel_admins row, used when re-verification
// finds the user is no longer an admin on the messaging platform (§4.5).
func (s *ChannelStore) RemoveAdmin(ctx context.Context, channelID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM channel_admins WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	return err
}

func (s *ChannelStore) ListAdmins(ctx context.Context, channelID uuid.UUID) ([]models.ChannelAdmin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, user_id, role, last_verified_at FROM channel_admins
		WHERE channel_id = $1 ORDER BY role DESC
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChannelAdmin
	for rows.Next() {
		var a models.ChannelAdmin
		if err := rows.Scan(&a.ID, &a.ChannelID, &a.UserID, &a.Role, &a.LastVerifiedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
