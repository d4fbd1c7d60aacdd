package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
	"github.com/tonads/escrow-coordinator/internal/models"
)

type AuditStore struct {
	pool *pgxpool.Pool
}

// Record persists one audit entry. Every Deal state transition writes one
// of these (I4); meta typically carries {"from": ..., "to": ...}.
func (s *AuditStore) Record(ctx context.Context, actorUserID *uuid.UUID, actorType, action, entityType string, entityID *uuid.UUID, meta map[string]any) error {
	var rawMeta []byte
	if meta != nil {
		var err error
		rawMeta, err = json.Marshal(meta)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, actor_type, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, actorUserID, actorType, action, entityType, entityID, rawMeta)
	return err
}

func (s *AuditStore) ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_user_id, actor_type, action, entity_type, entity_id, meta, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at ASC
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		var rawMeta []byte
		if err := rows.Scan(&a.ID, &a.ActorUserID, &a.ActorType, &a.Action, &a.EntityType, &a.EntityID, &rawMeta, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(rawMeta) > 0 {
			var meta map[string]any
			if err := json.Unmarshal(rawMeta, &meta); err == nil {
				a.Meta = meta
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
