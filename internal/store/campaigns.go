package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

type CampaignStore struct {
	pool *pgxpool.Pool
}

func (s *CampaignStore) Create(ctx context.Context, c *models.Campaign) error {
	c.Status = models.CampaignStatusActive
	return s.pool.QueryRow(ctx, `
		INSERT INTO campaigns (advertiser_user_id, title, text, budget_ton, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, c.AdvertiserUserID, c.Title, c.Text, c.BudgetTON, c.Status).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *CampaignStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var c models.Campaign
	err := s.pool.QueryRow(ctx, `
		SELECT id, advertiser_user_id, title, text, budget_ton, status, created_at, updated_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.AdvertiserUserID, &c.Title, &c.Text, &c.BudgetTON, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CampaignStore) ListByAdvertiser(ctx context.Context, advertiserID uuid.UUID) ([]models.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, advertiser_user_id, title, text, budget_ton, status, created_at, updated_at
		FROM campaigns WHERE advertiser_user_id = $1 ORDER BY created_at DESC
	`, advertiserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.AdvertiserUserID, &c.Title, &c.Text, &c.BudgetTON, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CampaignStore) Close(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE campaigns SET status = $1, updated_at = now() WHERE id = $2`, models.CampaignStatusClosed, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
