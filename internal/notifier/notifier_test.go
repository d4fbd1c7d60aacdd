package notifier

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent []int64
}

func (f *fakeSender) SendDirectMessage(ctx context.Context, telegramUserID int64, text string) error {
	f.sent = append(f.sent, telegramUserID)
	return nil
}

func TestNotifyRoutesToBothParties(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, 60*time.Second, zap.NewNop(), nil)

	dealID := uuid.New()
	recipients := Recipients{AdvertiserTelegramID: 111, ChannelOwnerTelegramID: 222}

	if err := n.Notify(context.Background(), dealID, EventScheduled, recipients, Vars{}, false); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("got %d sends, want 2 (both parties)", len(sender.sent))
	}
}

func TestNotifyThrottlesSecondSendWithinCooldown(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, 60*time.Second, zap.NewNop(), nil)

	dealID := uuid.New()
	recipients := Recipients{AdvertiserTelegramID: 111}

	if err := n.Notify(context.Background(), dealID, EventAccepted, recipients, Vars{}, false); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := n.Notify(context.Background(), dealID, EventAccepted, recipients, Vars{}, false); err == nil {
		t.Fatalf("expected second Notify to be throttled")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sender.sent))
	}
}

func TestNotifyForceBypassesCooldown(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, 60*time.Second, zap.NewNop(), nil)

	dealID := uuid.New()
	recipients := Recipients{AdvertiserTelegramID: 111}

	if err := n.Notify(context.Background(), dealID, EventAccepted, recipients, Vars{}, false); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := n.Notify(context.Background(), dealID, EventAccepted, recipients, Vars{}, true); err != nil {
		t.Fatalf("forced Notify should bypass cooldown: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("got %d sends, want 2", len(sender.sent))
	}
}

func TestRenderAppliesDefaults(t *testing.T) {
	text := render(EventRefunded, Vars{DealID: uuid.New()})
	if text == "" {
		t.Fatalf("render returned empty string")
	}
	want := "Advertisement removed or policy violation"
	if !strings.Contains(text, want) {
		t.Errorf("render(%q) missing default reason, got %q", EventRefunded, text)
	}
}
