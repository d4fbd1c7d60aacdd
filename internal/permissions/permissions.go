// Package permissions implements the channel admin role lattice and the
// per-action gate table (§4.5): OWNER subsumes MANAGER subsumes POSTER,
// and every gated action names the minimum role it requires.
package permissions

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/messaging"
	"github.com/tonads/escrow-coordinator/internal/models"
	"github.com/tonads/escrow-coordinator/internal/store"
)

// Action names gated by the role lattice (§4.5).
const (
	ActionAcceptDeal   = "accept_deal"
	ActionPostAd       = "post_ad"
	ActionReleaseEscrow = "release_escrow"
)

// requiredRole maps each gated action to the minimum role in the lattice
// that satisfies it.
var requiredRole = map[string]string{
	ActionAcceptDeal:    models.RoleManager,
	ActionPostAd:        models.RolePoster,
	ActionReleaseEscrow: models.RoleManager,
}

type Service struct {
	store     *store.Store
	messaging messaging.Client // nil => ReVerify returns a CONFIG error; Check reads the cached role either way
	log       *zap.Logger
}

func New(st *store.Store, msg messaging.Client, log *zap.Logger) *Service {
	return &Service{store: st, messaging: msg, log: log}
}

// Check reports whether userID may perform action on channelID, based on
// the most recently verified role on file.
func (s *Service) Check(ctx context.Context, channelID, userID uuid.UUID, action string) error {
	need, ok := requiredRole[action]
	if !ok {
		return apperr.New(apperr.KindValidation, "unknown permission action: "+action)
	}

	admin, err := s.store.Channels.GetAdmin(ctx, channelID, userID)
	if err != nil {
		if err == store.ErrNotFound {
			return apperr.Forbidden("user has no role on this channel")
		}
		return apperr.External("load channel admin", err)
	}

	if !models.RoleSatisfies(admin.Role, need) {
		return apperr.WithFields(apperr.KindForbidden, "insufficient role", map[string]any{
			"have": admin.Role,
			"need": need,
		})
	}
	return nil
}

// ReVerify re-derives a user's role against the messaging platform and
// persists it (I6), returning the refreshed role. If no messaging client
// is configured, this is a CONFIG error rather than silently trusting the
// stale cached role.
func (s *Service) ReVerify(ctx context.Context, channelID, userID uuid.UUID, channelUsername string, telegramUserID int64) (string, error) {
	if s.messaging == nil {
		return "", apperr.Config("messaging client not configured, cannot re-verify channel role")
	}

	role, ok, err := s.messaging.VerifyUserOnChannel(ctx, channelUsername, telegramUserID)
	if err != nil {
		return "", apperr.External("verify user on channel", err)
	}
	if !ok {
		if err := s.store.Channels.RemoveAdmin(ctx, channelID, userID); err != nil {
			s.log.Warn("failed to remove stale channel admin", zap.String("channel_id", channelID.String()), zap.Error(err))
		}
		return "", apperr.Forbidden("user is not an admin of this channel")
	}

	admin := &models.ChannelAdmin{ChannelID: channelID, UserID: userID, Role: role}
	if err := s.store.Channels.UpsertAdmin(ctx, admin); err != nil {
		return "", apperr.External("persist channel admin", err)
	}
	return role, nil
}
