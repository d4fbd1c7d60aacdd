package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

// ErrCASConflict is returned by UpdateStatusCAS when the row's status no
// longer matches the expected "from" value — another writer won the race.
var ErrCASConflict = errors.New("compare-and-set conflict")

type DealStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func (s *DealStore) Create(ctx context.Context, d *models.Deal) error {
	d.Status = models.DealStatusPending
	return s.pool.QueryRow(ctx, `
		INSERT INTO deals (campaign_id, channel_id, advertiser_user_id, status, escrow_amount_ton,
		                    advertiser_payout_address, channel_owner_payout_address, hold_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, d.CampaignID, d.ChannelID, d.AdvertiserUserID, d.Status, d.EscrowAmountTON,
		d.AdvertiserPayoutAddress, d.ChannelOwnerPayoutAddr, d.HoldHours,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (s *DealStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	var d models.Deal
	err := s.pool.QueryRow(ctx, `
		SELECT id, campaign_id, channel_id, advertiser_user_id, status, escrow_amount_ton,
		       advertiser_payout_address, channel_owner_payout_address, message_id, posted_at,
		       hold_hours, sender_address, created_at, updated_at
		FROM deals WHERE id = $1
	`, id).Scan(&d.ID, &d.CampaignID, &d.ChannelID, &d.AdvertiserUserID, &d.Status, &d.EscrowAmountTON,
		&d.AdvertiserPayoutAddress, &d.ChannelOwnerPayoutAddr, &d.MessageID, &d.PostedAt,
		&d.HoldHours, &d.SenderAddress, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type DealFilter struct {
	ChannelID        *uuid.UUID
	AdvertiserUserID *uuid.UUID
	Status           *string
	Limit            int
	Offset           int
}

func (s *DealStore) List(ctx context.Context, f DealFilter) ([]models.DealWithChannel, error) {
	query := `
		SELECT d.id, d.campaign_id, d.channel_id, d.advertiser_user_id, d.status, d.escrow_amount_ton,
		       d.advertiser_payout_address, d.channel_owner_payout_address, d.message_id, d.posted_at,
		       d.hold_hours, d.sender_address, d.created_at, d.updated_at, c.username, c.title
		FROM deals d JOIN channels c ON c.id = d.channel_id
	`
	var where []string
	var args []any
	idx := 1
	if f.ChannelID != nil {
		where = append(where, pArg("d.channel_id", idx))
		args = append(args, *f.ChannelID)
		idx++
	}
	if f.AdvertiserUserID != nil {
		where = append(where, pArg("d.advertiser_user_id", idx))
		args = append(args, *f.AdvertiserUserID)
		idx++
	}
	if f.Status != nil {
		where = append(where, pArg("d.status", idx))
		args = append(args, *f.Status)
		idx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DealWithChannel
	for rows.Next() {
		var d models.DealWithChannel
		if err := rows.Scan(&d.ID, &d.CampaignID, &d.ChannelID, &d.AdvertiserUserID, &d.Status, &d.EscrowAmountTON,
			&d.AdvertiserPayoutAddress, &d.ChannelOwnerPayoutAddr, &d.MessageID, &d.PostedAt,
			&d.HoldHours, &d.SenderAddress, &d.CreatedAt, &d.UpdatedAt, &d.ChannelUsername, &d.ChannelTitle); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateStatusCAS is the sole mutator of Deal.status. It succeeds only if
// the row's current status still equals `from`, which is how concurrent
// transition attempts are serialized without a database-level lock (I3):
// the loser sees RowsAffected() == 0 and returns ErrCASConflict, which the
// dealfsm package maps to a CONFLICT apperr.
func (s *DealStore) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deals SET status = $1, updated_at = now() WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCASConflict
	}
	return nil
}

func (s *DealStore) SetSenderAddress(ctx context.Context, id uuid.UUID, addr string) error {
	_, err := s.pool.Exec(ctx, `UPDATE deals SET sender_address = $1, updated_at = now() WHERE id = $2`, addr, id)
	return err
}

func (s *DealStore) MarkPosted(ctx context.Context, id uuid.UUID, messageID int64, postedAt any) error {
	_, err := s.pool.Exec(ctx, `UPDATE deals SET message_id = $1, posted_at = $2, updated_at = now() WHERE id = $3`, messageID, postedAt, id)
	return err
}

func pArg(col string, idx int) string {
	return fmt.Sprintf("%s = $%d", col, idx)
}
