// Package scheduler runs the two periodic tasks that carry a deal from
// SCHEDULED through to a terminal state (§4.8): the post tick publishes
// due ads, the verify tick checks them still exist and releases or
// refunds escrow once the hold period has elapsed. A third, supplemental
// deposit-watch tick polls pending escrow wallets for incoming transfers,
// generalizing the teacher's single-hot-wallet TON indexer to many
// per-deal wallets.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/dealfsm"
	"github.com/tonads/escrow-coordinator/internal/escrow"
	"github.com/tonads/escrow-coordinator/internal/messaging"
	"github.com/tonads/escrow-coordinator/internal/models"
	"github.com/tonads/escrow-coordinator/internal/notifier"
	"github.com/tonads/escrow-coordinator/internal/store"
)

// gracePeriod bounds how long Stop waits for the in-flight tick to finish
// before returning anyway (§5: "stops within a bounded grace period ~5s").
const gracePeriod = 5 * time.Second

type Scheduler struct {
	store     *store.Store
	fsm       *dealfsm.FSM
	escrow    *escrow.Service
	messaging messaging.Client // nil => post tick logs and skips, does not crash
	notifier  *notifier.Notifier
	log       *zap.Logger

	postTick    time.Duration
	verifyTick  time.Duration
	depositTick time.Duration

	stopCh chan struct{}
	doneWG sync.WaitGroup
}

type Config struct {
	PostTickInterval    time.Duration
	VerifyTickInterval  time.Duration
	DepositTickInterval time.Duration
}

func New(st *store.Store, fsm *dealfsm.FSM, esc *escrow.Service, msg messaging.Client, notif *notifier.Notifier, cfg Config, log *zap.Logger) *Scheduler {
	return &Scheduler{
		store:       st,
		fsm:         fsm,
		escrow:      esc,
		messaging:   msg,
		notifier:    notif,
		log:         log,
		postTick:    cfg.PostTickInterval,
		verifyTick:  cfg.VerifyTickInterval,
		depositTick: cfg.DepositTickInterval,
		stopCh:      make(chan struct{}),
	}
}

// Run starts the three ticker loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.doneWG.Add(3)
	go s.loop(ctx, "post", s.postTick, s.runPostTick)
	go s.loop(ctx, "verify", s.verifyTick, s.runVerifyTick)
	go s.loop(ctx, "deposit", s.depositTick, s.runDepositTick)
	s.doneWG.Wait()
}

// Stop signals the loops to exit and waits up to gracePeriod for the
// current tick of each to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.doneWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gracePeriod):
		s.log.Warn("scheduler did not stop within grace period")
	}
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	defer s.doneWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.log.Debug("tick", zap.String("loop", name))
			run(ctx)
		}
	}
}

// runPostTick drains due scheduled posts and publishes each ad. Send
// failures leave the row untouched for the next tick to retry; per §5,
// the tick never aborts because one item failed.
func (s *Scheduler) runPostTick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.ScheduledPosts.ListDuePosting(ctx, now)
	if err != nil {
		s.log.Error("post tick: failed to list due posts", zap.Error(err))
		return
	}

	for _, post := range due {
		s.postOne(ctx, post)
	}
}

func (s *Scheduler) postOne(ctx context.Context, post models.ScheduledPost) {
	if s.messaging == nil {
		s.log.Warn("post tick: messaging client unavailable, skipping", zap.String("deal_id", post.DealID.String()))
		return
	}

	channel, err := s.store.Channels.GetByID(ctx, post.ChannelID)
	if err != nil {
		s.log.Error("post tick: failed to load channel", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		return
	}

	messageID, err := s.messaging.SendChannelMessage(ctx, channel.Username, post.AdText)
	if err != nil {
		s.log.Warn("post tick: send failed, will retry next tick", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		return
	}

	postedAt := time.Now()
	releaseAt := postedAt.Add(time.Duration(post.HoldHours) * time.Hour)
	if err := s.store.ScheduledPosts.MarkPosted(ctx, post.ID, messageID, postedAt, releaseAt); err != nil {
		s.log.Error("post tick: failed to mark post posted", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		return
	}
	if err := s.store.Deals.MarkPosted(ctx, post.DealID, messageID, postedAt); err != nil {
		s.log.Error("post tick: failed to denormalize deal posted_at", zap.String("deal_id", post.DealID.String()), zap.Error(err))
	}

	if _, err := s.fsm.Transition(ctx, post.DealID, models.DealStatusPosted, nil, "system"); err != nil {
		s.log.Error("post tick: failed to transition deal to posted", zap.String("deal_id", post.DealID.String()), zap.Error(err))
	}

	s.notifyBestEffort(ctx, post.DealID, notifier.EventPosted, notifier.Vars{HoldHours: post.HoldHours})
}

// verifyStaleAfter is how recently a still-within-hold post must have
// been re-verified for the periodic sweep to skip it. With the default
// 300 s verify tick every posted row is older than this at each tick, so
// the sweep only skips rows when the verify tick is set below 4 minutes.
const verifyStaleAfter = 4 * time.Minute

// runVerifyTick has two input sets: posts whose hold period has fully
// elapsed (release or refund decision due) and posts still within their
// hold period but due for a periodic liveness recheck, so removal is
// caught well before release_at rather than only at it.
func (s *Scheduler) runVerifyTick(ctx context.Context) {
	now := time.Now()

	due, err := s.store.ScheduledPosts.ListDueVerification(ctx, now)
	if err != nil {
		s.log.Error("verify tick: failed to list due verifications", zap.Error(err))
	}
	for _, post := range due {
		s.verifyOne(ctx, post, now, true)
	}

	periodic, err := s.store.ScheduledPosts.ListPostedForPeriodicCheck(ctx, now, verifyStaleAfter)
	if err != nil {
		s.log.Error("verify tick: failed to list periodic checks", zap.Error(err))
		return
	}
	for _, post := range periodic {
		s.verifyOne(ctx, post, now, false)
	}
}

// verifyOne re-probes a single posted ad. releaseDue tells it whether the
// hold period has elapsed: if so and the post is still live, it releases;
// if the post is gone, it always refunds regardless of releaseDue.
func (s *Scheduler) verifyOne(ctx context.Context, post models.ScheduledPost, now time.Time, releaseDue bool) {
	if s.messaging == nil {
		s.log.Warn("verify tick: messaging client unavailable, skipping", zap.String("deal_id", post.DealID.String()))
		return
	}
	if post.MessageID == nil {
		return
	}

	channel, err := s.store.Channels.GetByID(ctx, post.ChannelID)
	if err != nil {
		s.log.Error("verify tick: failed to load channel", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		return
	}

	exists, err := s.messaging.MessageExists(ctx, channel.Username, *post.MessageID)
	if err != nil {
		s.log.Warn("verify tick: message existence check failed, retrying next tick", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		if err := s.store.ScheduledPosts.MarkVerified(ctx, post.ID, models.PostStatusPosted); err != nil {
			s.log.Error("verify tick: failed to bump last_verified", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		}
		return
	}

	if !exists {
		s.log.Info("verify tick: post no longer exists, refunding", zap.String("deal_id", post.DealID.String()))
		if err := s.escrow.Refund(ctx, post.DealID, nil); err != nil {
			s.log.Error("verify tick: refund failed", zap.String("deal_id", post.DealID.String()), zap.Error(err))
			return
		}
		if err := s.store.ScheduledPosts.MarkVerified(ctx, post.ID, models.PostStatusRefunded); err != nil {
			s.log.Error("verify tick: failed to mark post refunded", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		}
		s.notifyBestEffort(ctx, post.DealID, notifier.EventRefunded, notifier.Vars{})
		return
	}

	if releaseDue {
		if _, err := s.fsm.Transition(ctx, post.DealID, models.DealStatusVerified, nil, "system"); err != nil {
			if ae, ok := apperr.As(err); !ok || ae.Kind != apperr.KindConflict {
				s.log.Error("verify tick: failed to transition deal to verified", zap.String("deal_id", post.DealID.String()), zap.Error(err))
				return
			}
			s.log.Debug("verify tick: deal already past verified, proceeding to release",
				zap.String("deal_id", post.DealID.String()))
		}
		if err := s.escrow.Release(ctx, post.DealID, nil); err != nil {
			s.log.Error("verify tick: release failed", zap.String("deal_id", post.DealID.String()), zap.Error(err))
			return
		}
		if err := s.store.ScheduledPosts.MarkVerified(ctx, post.ID, models.PostStatusReleased); err != nil {
			s.log.Error("verify tick: failed to mark post released", zap.String("deal_id", post.DealID.String()), zap.Error(err))
		}
		s.notifyBestEffort(ctx, post.DealID, notifier.EventCompleted, notifier.Vars{})
		return
	}

	if err := s.store.ScheduledPosts.MarkVerified(ctx, post.ID, models.PostStatusPosted); err != nil {
		s.log.Error("verify tick: failed to bump last_verified", zap.String("deal_id", post.DealID.String()), zap.Error(err))
	}
}

// runDepositTick polls every escrow wallet awaiting a deposit and calls
// VerifyDeposit, supplementing the spec's two named ticks with the
// chain-polling loop the teacher's TON indexer ran continuously.
func (s *Scheduler) runDepositTick(ctx context.Context) {
	wallets, err := s.store.Escrow.ListAwaitingDeposit(ctx)
	if err != nil {
		s.log.Error("deposit tick: failed to list wallets", zap.Error(err))
		return
	}

	for _, w := range wallets {
		found, err := s.escrow.VerifyDeposit(ctx, w.DealID)
		if err != nil {
			s.log.Warn("deposit tick: verify failed, will retry next tick", zap.String("deal_id", w.DealID.String()), zap.Error(err))
			continue
		}
		if found {
			s.log.Info("deposit tick: deposit detected", zap.String("deal_id", w.DealID.String()))
			s.notifyBestEffort(ctx, w.DealID, notifier.EventFunded, notifier.Vars{})
		}
	}
}

// notifyBestEffort resolves the deal's two parties to Telegram IDs and
// fires the notification; failures are logged only, never surfaced,
// since a notification is never allowed to roll back the transition
// that triggered it (§5).
func (s *Scheduler) notifyBestEffort(ctx context.Context, dealID uuid.UUID, event string, vars notifier.Vars) {
	if s.notifier == nil {
		return
	}

	deal, err := s.store.Deals.GetByID(ctx, dealID)
	if err != nil {
		s.log.Warn("notify: failed to load deal", zap.String("deal_id", dealID.String()), zap.Error(err))
		return
	}

	recipients := notifier.Recipients{}
	if advertiser, err := s.store.Users.GetByID(ctx, deal.AdvertiserUserID); err == nil {
		recipients.AdvertiserTelegramID = advertiser.TelegramID
	} else {
		s.log.Warn("notify: failed to load advertiser", zap.String("deal_id", dealID.String()), zap.Error(err))
	}

	admins, err := s.store.Channels.ListAdmins(ctx, deal.ChannelID)
	if err != nil {
		s.log.Warn("notify: failed to load channel admins", zap.String("deal_id", dealID.String()), zap.Error(err))
	}
	for _, a := range admins {
		if a.Role != models.RoleOwner {
			continue
		}
		if owner, err := s.store.Users.GetByID(ctx, a.UserID); err == nil {
			recipients.ChannelOwnerTelegramID = owner.TelegramID
		}
		break
	}

	vars.DealID = dealID
	if err := s.notifier.Notify(ctx, dealID, event, recipients, vars, false); err != nil {
		s.log.Debug("notify: not delivered", zap.String("deal_id", dealID.String()), zap.String("event", event), zap.Error(err))
	}
}
