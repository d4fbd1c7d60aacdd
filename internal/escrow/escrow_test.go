package escrow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/chain"
	"github.com/tonads/escrow-coordinator/internal/crypto"
	"github.com/tonads/escrow-coordinator/internal/models"
)

func TestJoinSplitMnemonicRoundTrip(t *testing.T) {
	words := []string{"abandon", "ability", "able", "about"}
	joined := joinMnemonic(words)
	got := splitMnemonic(joined)
	if len(got) != len(words) {
		t.Fatalf("got %d words, want %d", len(got), len(words))
	}
	for i := range words {
		if got[i] != words[i] {
			t.Errorf("word %d: got %q, want %q", i, got[i], words[i])
		}
	}
}

// fakeChain is a chain.Client whose Send calls are counted, so tests can
// assert that an ineligible Release/Refund never reaches it.
type fakeChain struct {
	balance   string
	sendCalls int
	sendErr   error
}

func (f *fakeChain) CreateWallet(ctx context.Context) (string, []string, error) {
	return "EQtest", []string{"a", "b"}, nil
}
func (f *fakeChain) GetBalance(ctx context.Context, addr string) (string, error) {
	return f.balance, nil
}
func (f *fakeChain) ListIncoming(ctx context.Context, addr string, sinceLT uint64) ([]chain.Incoming, error) {
	return nil, nil
}
func (f *fakeChain) Send(ctx context.Context, fromMnemonic []string, toAddr, amountTON, comment string) (string, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "txhash:" + comment, nil
}

type fakeDeals struct {
	deal *models.Deal
}

func (f *fakeDeals) GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error) {
	return f.deal, nil
}
func (f *fakeDeals) SetSenderAddress(ctx context.Context, id uuid.UUID, addr string) error {
	return nil
}

type fakeEscrowStore struct {
	wallet         *models.EscrowWallet
	recordedTxs    int
	hasTransaction bool
}

func (f *fakeEscrowStore) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error) {
	return f.wallet, nil
}
func (f *fakeEscrowStore) CreateWallet(ctx context.Context, w *models.EscrowWallet) error { return nil }
func (f *fakeEscrowStore) UpdateCachedBalance(ctx context.Context, id uuid.UUID, balance string) error {
	return nil
}
func (f *fakeEscrowStore) HasTransaction(ctx context.Context, txHash string) (bool, error) {
	return f.hasTransaction, nil
}
func (f *fakeEscrowStore) RecordTransaction(ctx context.Context, tx *models.EscrowTransaction) error {
	f.recordedTxs++
	return nil
}

type fakeTransitioner struct {
	calls int
	to    string
}

func (f *fakeTransitioner) Transition(ctx context.Context, dealID uuid.UUID, to string, actorUserID *uuid.UUID, actorType string) (*models.Deal, error) {
	f.calls++
	f.to = to
	return &models.Deal{ID: dealID, Status: to}, nil
}

// newTestService wires a Service against fakes plus a real MnemonicBox (so
// payout's Open/Seal round-trip is genuine), with deal.Status set to
// status and a funded wallet balance.
func newTestService(t *testing.T, status string) (*Service, *fakeChain, *fakeEscrowStore, *fakeTransitioner) {
	t.Helper()
	box, err := crypto.NewMnemonicBox("test-secret")
	if err != nil {
		t.Fatalf("NewMnemonicBox: %v", err)
	}
	sealed, err := box.Seal(joinMnemonic([]string{"abandon", "ability", "able", "about"}))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	fc := &fakeChain{balance: "10.0"}
	fe := &fakeEscrowStore{wallet: &models.EscrowWallet{
		ID:           uuid.New(),
		Address:      "EQtest",
		EncryptedKey: sealed,
	}}
	ft := &fakeTransitioner{}
	fd := &fakeDeals{deal: &models.Deal{ID: uuid.New(), Status: status}}

	svc := &Service{
		deals:            fd,
		escrowRepo:       fe,
		chain:            fc,
		box:              box,
		fsm:              ft,
		depositTolerance: 0.01,
		feeReserveTON:    0.05,
		log:              zap.NewNop(),
	}
	return svc, fc, fe, ft
}

func TestRelease_OnlyLegalFromVerified(t *testing.T) {
	dest := "EQdest"
	allStatuses := []string{
		models.DealStatusPending, models.DealStatusAccepted, models.DealStatusFunded,
		models.DealStatusScheduled, models.DealStatusPosted, models.DealStatusVerified,
		models.DealStatusCompleted, models.DealStatusRefunded, models.DealStatusCancelled,
	}

	for _, status := range allStatuses {
		t.Run(status, func(t *testing.T) {
			svc, fc, fe, ft := newTestService(t, status)
			err := svc.Release(context.Background(), svc.deals.(*fakeDeals).deal.ID, &dest)

			if status == models.DealStatusVerified {
				if err != nil {
					t.Fatalf("Release() from verified: unexpected error %v", err)
				}
				if fc.sendCalls != 1 {
					t.Errorf("Release() from verified: chain.Send called %d times, want 1", fc.sendCalls)
				}
				if fe.recordedTxs != 1 {
					t.Errorf("Release() from verified: recorded %d transactions, want 1", fe.recordedTxs)
				}
				if ft.calls != 1 || ft.to != models.DealStatusCompleted {
					t.Errorf("Release() from verified: fsm.Transition calls=%d to=%q, want 1/completed", ft.calls, ft.to)
				}
				return
			}

			if err == nil {
				t.Fatalf("Release() from %s: expected error, got nil", status)
			}
			ae, ok := apperr.As(err)
			if !ok || ae.Kind != apperr.KindConflict {
				t.Fatalf("Release() from %s: expected CONFLICT, got %v", status, err)
			}
			if fc.sendCalls != 0 {
				t.Errorf("Release() from %s: chain.Send called %d times, want 0 (no chain interaction on illegal transition)", status, fc.sendCalls)
			}
			if fe.recordedTxs != 0 {
				t.Errorf("Release() from %s: recorded %d transactions, want 0", status, fe.recordedTxs)
			}
			if ft.calls != 0 {
				t.Errorf("Release() from %s: fsm.Transition called, want untouched", status)
			}
		})
	}
}

func TestRefund_LegalFromFundedScheduledPostedVerified(t *testing.T) {
	dest := "EQdest"
	legal := map[string]bool{
		models.DealStatusFunded:    true,
		models.DealStatusScheduled: true,
		models.DealStatusPosted:    true,
		models.DealStatusVerified:  true,
	}
	allStatuses := []string{
		models.DealStatusPending, models.DealStatusAccepted, models.DealStatusFunded,
		models.DealStatusScheduled, models.DealStatusPosted, models.DealStatusVerified,
		models.DealStatusCompleted, models.DealStatusRefunded, models.DealStatusCancelled,
	}

	for _, status := range allStatuses {
		t.Run(status, func(t *testing.T) {
			svc, fc, fe, ft := newTestService(t, status)
			err := svc.Refund(context.Background(), svc.deals.(*fakeDeals).deal.ID, &dest)

			if legal[status] {
				if err != nil {
					t.Fatalf("Refund() from %s: unexpected error %v", status, err)
				}
				if fc.sendCalls != 1 {
					t.Errorf("Refund() from %s: chain.Send called %d times, want 1", status, fc.sendCalls)
				}
				if fe.recordedTxs != 1 {
					t.Errorf("Refund() from %s: recorded %d transactions, want 1", status, fe.recordedTxs)
				}
				if ft.calls != 1 || ft.to != models.DealStatusRefunded {
					t.Errorf("Refund() from %s: fsm.Transition calls=%d to=%q, want 1/refunded", status, ft.calls, ft.to)
				}
				return
			}

			if err == nil {
				t.Fatalf("Refund() from %s: expected error, got nil", status)
			}
			ae, ok := apperr.As(err)
			if !ok || ae.Kind != apperr.KindConflict {
				t.Fatalf("Refund() from %s: expected CONFLICT, got %v", status, err)
			}
			if fc.sendCalls != 0 {
				t.Errorf("Refund() from %s: chain.Send called %d times, want 0 (no chain interaction on illegal transition)", status, fc.sendCalls)
			}
			if fe.recordedTxs != 0 {
				t.Errorf("Refund() from %s: recorded %d transactions, want 0", status, fe.recordedTxs)
			}
			if ft.calls != 0 {
				t.Errorf("Refund() from %s: fsm.Transition called, want untouched", status)
			}
		})
	}
}

func TestEnsureTransitionLegal_TerminalDealHasNoAllowedTransitions(t *testing.T) {
	for _, status := range []string{models.DealStatusCompleted, models.DealStatusRefunded, models.DealStatusCancelled} {
		err := ensureTransitionLegal(status, models.DealStatusCompleted)
		if err == nil {
			t.Fatalf("ensureTransitionLegal(%s, completed): expected error, got nil", status)
		}
		ae, ok := apperr.As(err)
		if !ok || ae.Kind != apperr.KindConflict {
			t.Fatalf("ensureTransitionLegal(%s, completed): expected CONFLICT, got %v", status, err)
		}
		if msg := ae.Message; msg != "deal is in a terminal state" {
			t.Errorf("ensureTransitionLegal(%s, completed): message = %q, want terminal-state message", status, msg)
		}
	}
}
