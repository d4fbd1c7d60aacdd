package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

type ScheduledPostStore struct {
	pool *pgxpool.Pool
}

// Create is idempotent on deal_id (UNIQUE(deal_id)): scheduling the same
// deal twice updates the existing row rather than erroring.
func (s *ScheduledPostStore) Create(ctx context.Context, p *models.ScheduledPost) error {
	p.Status = models.PostStatusScheduled
	return s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_posts (deal_id, channel_id, ad_text, scheduled_time, hold_hours, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (deal_id) DO UPDATE SET scheduled_time = EXCLUDED.scheduled_time, ad_text = EXCLUDED.ad_text
		RETURNING id, created_at, updated_at
	`, p.DealID, p.ChannelID, p.AdText, p.ScheduledTime, p.HoldHours, p.Status).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *ScheduledPostStore) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.ScheduledPost, error) {
	var p models.ScheduledPost
	err := s.pool.QueryRow(ctx, `
		SELECT id, deal_id, channel_id, ad_text, scheduled_time, posted_at, message_id, hold_hours,
		       release_at, status, last_verified_at, created_at, updated_at
		FROM scheduled_posts WHERE deal_id = $1
	`, dealID).Scan(&p.ID, &p.DealID, &p.ChannelID, &p.AdText, &p.ScheduledTime, &p.PostedAt, &p.MessageID,
		&p.HoldHours, &p.ReleaseAt, &p.Status, &p.LastVerifiedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListDuePosting returns scheduled posts whose scheduled_time has arrived
// (§4.8 post-tick input set).
func (s *ScheduledPostStore) ListDuePosting(ctx context.Context, now time.Time) ([]models.ScheduledPost, error) {
	return s.listByStatusAndTime(ctx, models.PostStatusScheduled, "scheduled_time", now)
}

// ListDueVerification returns posted scheduled posts whose hold-period
// release_at has arrived (§4.8 verify-tick input set).
func (s *ScheduledPostStore) ListDueVerification(ctx context.Context, now time.Time) ([]models.ScheduledPost, error) {
	return s.listByStatusAndTime(ctx, models.PostStatusPosted, "release_at", now)
}

// ListPostedForPeriodicCheck returns posted scheduled posts not yet due
// for their release-time verification but stale on last_verified_at,
// so the verify tick can also catch early removal well before the hold
// period elapses (§4.8: the verify tick runs far more often than any
// single post's hold period).
func (s *ScheduledPostStore) ListPostedForPeriodicCheck(ctx context.Context, now time.Time, staleAfter time.Duration) ([]models.ScheduledPost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, deal_id, channel_id, ad_text, scheduled_time, posted_at, message_id, hold_hours,
		       release_at, status, last_verified_at, created_at, updated_at
		FROM scheduled_posts
		WHERE status = $1
		  AND (release_at IS NULL OR release_at > $2)
		  AND (last_verified_at IS NULL OR last_verified_at <= $3)
	`, models.PostStatusPosted, now, now.Add(-staleAfter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScheduledPost
	for rows.Next() {
		var p models.ScheduledPost
		if err := rows.Scan(&p.ID, &p.DealID, &p.ChannelID, &p.AdText, &p.ScheduledTime, &p.PostedAt, &p.MessageID,
			&p.HoldHours, &p.ReleaseAt, &p.Status, &p.LastVerifiedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ScheduledPostStore) listByStatusAndTime(ctx context.Context, status, timeCol string, now time.Time) ([]models.ScheduledPost, error) {
	query := `
		SELECT id, deal_id, channel_id, ad_text, scheduled_time, posted_at, message_id, hold_hours,
		       release_at, status, last_verified_at, created_at, updated_at
		FROM scheduled_posts WHERE status = $1 AND ` + timeCol + ` <= $2`
	rows, err := s.pool.Query(ctx, query, status, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScheduledPost
	for rows.Next() {
		var p models.ScheduledPost
		if err := rows.Scan(&p.ID, &p.DealID, &p.ChannelID, &p.AdText, &p.ScheduledTime, &p.PostedAt, &p.MessageID,
			&p.HoldHours, &p.ReleaseAt, &p.Status, &p.LastVerifiedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ScheduledPostStore) MarkPosted(ctx context.Context, id uuid.UUID, messageID int64, postedAt, releaseAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_posts SET status = $1, posted_at = $2, message_id = $3, release_at = $4, updated_at = now()
		WHERE id = $5 AND status = $6
	`, models.PostStatusPosted, postedAt, messageID, releaseAt, id, models.PostStatusScheduled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCASConflict
	}
	return nil
}

func (s *ScheduledPostStore) MarkVerified(ctx context.Context, id uuid.UUID, newStatus string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_posts SET status = $1, last_verified_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3
	`, newStatus, id, models.PostStatusPosted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCASConflict
	}
	return nil
}
