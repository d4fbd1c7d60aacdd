// Package dealfsm is the single place Deal.status is mutated. Every
// transition goes through Transition, which enforces the §4.6 table,
// rejects moves out of a terminal state (I2), and uses the store's
// compare-and-set update so two concurrent callers racing the same Deal
// never both "win" (I3).
package dealfsm

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/events"
	"github.com/tonads/escrow-coordinator/internal/models"
	"github.com/tonads/escrow-coordinator/internal/store"
)

type FSM struct {
	store     *store.Store
	publisher events.Publisher // nil publisher is fine; transitions still apply, just unannounced
	log       *zap.Logger
}

func New(st *store.Store, publisher events.Publisher, log *zap.Logger) *FSM {
	return &FSM{store: st, publisher: publisher, log: log}
}

// Transition moves a deal from its current status to `to`, given the
// actor performing the move (nil for system/scheduler-initiated moves).
// It reloads the deal fresh from the store so callers never need to pass
// a possibly-stale "from" status.
func (f *FSM) Transition(ctx context.Context, dealID uuid.UUID, to string, actorUserID *uuid.UUID, actorType string) (*models.Deal, error) {
	deal, err := f.store.Deals.GetByID(ctx, dealID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("deal not found")
		}
		return nil, apperr.External("load deal", err)
	}

	if models.IsTerminal(deal.Status) {
		return nil, apperr.WithFields(apperr.KindConflict, "deal is in a terminal state", map[string]any{
			"status":              deal.Status,
			"allowed_transitions": []string{},
		})
	}

	if !models.IsValidTransition(deal.Status, to) {
		return nil, apperr.WithFields(apperr.KindConflict, "illegal deal transition", map[string]any{
			"from":                deal.Status,
			"to":                  to,
			"allowed_transitions": models.AllowedTransitions(deal.Status),
		})
	}

	from := deal.Status
	if err := f.store.Deals.UpdateStatusCAS(ctx, dealID, from, to); err != nil {
		if err == store.ErrCASConflict {
			return nil, apperr.WithFields(apperr.KindConflict, "deal was modified concurrently, retry", map[string]any{
				"expected_from": from,
			})
		}
		return nil, apperr.External("update deal status", err)
	}

	if auditErr := f.store.Audit.Record(ctx, actorUserID, actorType, "deal_transition", "deal", &dealID, map[string]any{
		"from": from, "to": to,
	}); auditErr != nil {
		f.log.Error("failed to record audit log for deal transition",
			zap.String("deal_id", dealID.String()), zap.Error(auditErr))
	}

	deal.Status = to
	f.log.Info("deal transitioned", zap.String("deal_id", dealID.String()), zap.String("from", from), zap.String("to", to))

	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, events.Stream, events.Event{
			Type: events.EventDealStatusChanged,
			Payload: map[string]any{
				"deal_id": dealID.String(),
				"from":    from,
				"to":      to,
			},
		}); err != nil {
			f.log.Warn("failed to publish deal transition event", zap.String("deal_id", dealID.String()), zap.Error(err))
		}
	}

	return deal, nil
}
