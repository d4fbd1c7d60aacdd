// Package notifier renders templated, per-(deal, event) rate-limited
// notifications and routes them to the advertiser, the channel owner, or
// both (§4.9). The cooldown is backed by Redis when available (a
// SETNX-with-TTL per (deal_id, event) key), so a restarted process
// doesn't immediately re-send a notification another instance just sent;
// without Redis it falls back to the in-process map the spec's own
// callout documents as purge-on-restart.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
)

// Event names (§4.9). Routing and templates are keyed on these.
const (
	EventAccepted = "accepted"
	EventFunded   = "funded"
	EventScheduled = "scheduled"
	EventPosted   = "posted"
	EventVerified = "verified"
	EventCompleted = "completed"
	EventRefunded  = "refunded"
	EventCancelled = "cancelled"
)

const (
	recipientAdvertiser = "advertiser"
	recipientChannelOwner = "channel_owner"
	recipientBoth         = "both"
)

var routingTable = map[string]string{
	EventAccepted:  recipientAdvertiser,
	EventFunded:    recipientChannelOwner,
	EventScheduled: recipientBoth,
	EventPosted:    recipientAdvertiser,
	EventVerified:  recipientBoth,
	EventCompleted: recipientBoth,
	EventRefunded:  recipientAdvertiser,
	EventCancelled: recipientBoth,
}

var templates = map[string]string{
	EventAccepted:  "Deal %(deal_id)s for %(channel)s was accepted.",
	EventFunded:    "Deal %(deal_id)s is now funded with %(amount)s TON.",
	EventScheduled: "Deal %(deal_id)s is scheduled to post at %(scheduled_time)s.",
	EventPosted:    "Your ad for deal %(deal_id)s was posted on %(channel)s. Funds release in %(hold_hours)s hours.",
	EventVerified:  "Deal %(deal_id)s's post was re-verified and is still live.",
	EventCompleted: "Deal %(deal_id)s is complete; %(amount)s TON has been released.",
	EventRefunded:  "Deal %(deal_id)s was refunded: %(reason)s.",
	EventCancelled: "Deal %(deal_id)s was cancelled.",
}

// Vars carries the template substitution values; missing values fall back
// to the documented defaults.
type Vars struct {
	DealID        uuid.UUID
	Channel       string
	AmountTON     string
	HoldHours     int
	ScheduledTime time.Time
	Reason        string
}

func (v Vars) withDefaults() Vars {
	if v.Channel == "" {
		v.Channel = "Channel"
	}
	if v.AmountTON == "" {
		v.AmountTON = "0"
	}
	if v.HoldHours == 0 {
		v.HoldHours = 24
	}
	if v.Reason == "" {
		v.Reason = "Advertisement removed or policy violation"
	}
	return v
}

func render(event string, v Vars) string {
	v = v.withDefaults()
	tmpl, ok := templates[event]
	if !ok {
		tmpl = "Deal %(deal_id)s: " + event
	}
	replacer := map[string]string{
		"%(deal_id)s":        v.DealID.String(),
		"%(channel)s":        v.Channel,
		"%(amount)s":         v.AmountTON,
		"%(hold_hours)s":     fmt.Sprintf("%d", v.HoldHours),
		"%(scheduled_time)s": v.ScheduledTime.Format(time.RFC3339),
		"%(reason)s":         v.Reason,
	}
	out := tmpl
	for token, val := range replacer {
		out = strings.ReplaceAll(out, token, val)
	}
	return out
}

// Sender delivers a rendered message to a recipient user; the concrete
// implementation is the messaging client's SendDirectMessage, kept
// abstract here so notifier_test.go can fake it.
type Sender interface {
	SendDirectMessage(ctx context.Context, telegramUserID int64, text string) error
}

// CooldownStore records the last-sent time for a (deal_id, event) pair.
// RedisCooldownStore is the durable implementation; inMemoryCooldownStore
// is the zero-value fallback used when no Redis client is supplied.
type CooldownStore interface {
	// TryMark reports whether the (deal_id, event) pair is currently
	// outside its cooldown window, atomically marking it as sent if so.
	TryMark(ctx context.Context, key string, cooldown time.Duration) (bool, error)
}

type Notifier struct {
	sender   Sender
	cooldown time.Duration
	store    CooldownStore
	log      *zap.Logger
}

// New builds a Notifier. store may be nil, in which case an in-process
// map is used (restart-purged, per §4.9's own callout).
func New(sender Sender, cooldown time.Duration, log *zap.Logger, store CooldownStore) *Notifier {
	if store == nil {
		store = newInMemoryCooldownStore()
	}
	return &Notifier{
		sender:   sender,
		cooldown: cooldown,
		store:    store,
		log:      log,
	}
}

type inMemoryCooldownStore struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

func newInMemoryCooldownStore() *inMemoryCooldownStore {
	return &inMemoryCooldownStore{lastSent: make(map[string]time.Time)}
}

func (s *inMemoryCooldownStore) TryMark(ctx context.Context, key string, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSent[key]; ok && time.Since(last) < cooldown {
		return false, nil
	}
	s.lastSent[key] = time.Now()
	return true, nil
}

// Recipients identifies the telegram IDs of the two parties to a deal;
// the routing table picks which of these actually receive a given event.
type Recipients struct {
	AdvertiserTelegramID  int64
	ChannelOwnerTelegramID int64
}

// Notify renders and sends event for dealID to whichever party the
// routing table names, honoring the per-(deal_id, event) cooldown unless
// force is set.
func (n *Notifier) Notify(ctx context.Context, dealID uuid.UUID, event string, recipients Recipients, vars Vars, force bool) error {
	if !force {
		may, err := n.store.TryMark(ctx, n.key(dealID, event), n.cooldown)
		if err != nil {
			n.log.Warn("cooldown store unavailable, sending without throttle", zap.Error(err))
		} else if !may {
			return apperr.New(apperr.KindConflict, "notification throttled")
		}
	}

	who, ok := routingTable[event]
	if !ok {
		return apperr.New(apperr.KindValidation, "unknown notification event: "+event)
	}

	vars.DealID = dealID
	text := render(event, vars)

	var targets []int64
	switch who {
	case recipientAdvertiser:
		targets = []int64{recipients.AdvertiserTelegramID}
	case recipientChannelOwner:
		targets = []int64{recipients.ChannelOwnerTelegramID}
	case recipientBoth:
		targets = []int64{recipients.AdvertiserTelegramID, recipients.ChannelOwnerTelegramID}
	}

	var firstErr error
	for _, target := range targets {
		if target == 0 {
			continue
		}
		if err := n.sender.SendDirectMessage(ctx, target, text); err != nil {
			n.log.Warn("failed to deliver notification",
				zap.String("deal_id", dealID.String()), zap.String("event", event), zap.Int64("target", target), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (n *Notifier) key(dealID uuid.UUID, event string) string {
	return "notify-cooldown:" + dealID.String() + ":" + event
}
