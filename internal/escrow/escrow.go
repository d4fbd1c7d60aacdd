// Package escrow implements EscrowService: creating a deal's custodial
// wallet, checking its on-chain deposit, and releasing or refunding funds
// at the end of a deal (§4.2, §4.7).
package escrow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/chain"
	"github.com/tonads/escrow-coordinator/internal/crypto"
	"github.com/tonads/escrow-coordinator/internal/dealfsm"
	"github.com/tonads/escrow-coordinator/internal/events"
	"github.com/tonads/escrow-coordinator/internal/models"
	"github.com/tonads/escrow-coordinator/internal/store"
)

// dealStore, escrowStore, and transitioner are the narrow slices of
// *store.Store and *dealfsm.FSM the service actually calls, kept as
// interfaces so escrow_test.go can drive Release/Refund against a fake
// chain and a fake store instead of a live Postgres instance.
type dealStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	SetSenderAddress(ctx context.Context, id uuid.UUID, addr string) error
}

type escrowStore interface {
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error)
	CreateWallet(ctx context.Context, w *models.EscrowWallet) error
	UpdateCachedBalance(ctx context.Context, id uuid.UUID, balance string) error
	HasTransaction(ctx context.Context, txHash string) (bool, error)
	RecordTransaction(ctx context.Context, tx *models.EscrowTransaction) error
}

type transitioner interface {
	Transition(ctx context.Context, dealID uuid.UUID, to string, actorUserID *uuid.UUID, actorType string) (*models.Deal, error)
}

type Service struct {
	deals            dealStore
	escrowRepo       escrowStore
	chain            chain.Client // nil => chain-gated operations return CONFIG/503
	box              *crypto.MnemonicBox
	fsm              transitioner
	publisher        events.Publisher
	depositTolerance float64
	feeReserveTON    float64
	log              *zap.Logger
}

func New(st *store.Store, chainClient chain.Client, box *crypto.MnemonicBox, fsm *dealfsm.FSM, publisher events.Publisher, depositTolerance, feeReserveTON float64, log *zap.Logger) *Service {
	return &Service{
		deals:            st.Deals,
		escrowRepo:       st.Escrow,
		chain:            chainClient,
		box:              box,
		fsm:              fsm,
		publisher:        publisher,
		depositTolerance: depositTolerance,
		feeReserveTON:    feeReserveTON,
		log:              log,
	}
}

func (s *Service) publish(ctx context.Context, eventType string, dealID uuid.UUID, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["deal_id"] = dealID.String()
	if err := s.publisher.Publish(ctx, events.Stream, events.Event{Type: eventType, Payload: payload}); err != nil {
		s.log.Warn("failed to publish escrow event", zap.String("deal_id", dealID.String()), zap.String("event", eventType), zap.Error(err))
	}
}

func (s *Service) unavailable() error {
	return apperr.Config("chain client not configured, escrow operations are unavailable")
}

// Status is EscrowService.GetStatus's richer view (§4.7): current balance
// alongside the expected amount and the funded threshold, so a caller
// never has to re-derive isFunded from raw decimals itself.
type Status struct {
	Address     string    `json:"address"`
	Expected    string    `json:"expected"`
	Current     string    `json:"current"`
	IsFunded    bool      `json:"is_funded"`
	LastChecked time.Time `json:"last_checked"`
}

// CreateWallet is idempotent (I1: exactly one wallet per deal): a second
// call for a deal that already has a wallet returns the existing one.
func (s *Service) CreateWallet(ctx context.Context, dealID uuid.UUID) (*models.EscrowWallet, error) {
	if existing, err := s.escrowRepo.GetByDealID(ctx, dealID); err == nil {
		return existing, nil
	} else if err != store.ErrNotFound {
		return nil, apperr.External("load escrow wallet", err)
	}

	if s.chain == nil || s.box == nil {
		return nil, s.unavailable()
	}

	addr, mnemonic, err := s.chain.CreateWallet(ctx)
	if err != nil {
		return nil, err
	}

	sealed, err := s.box.Seal(joinMnemonic(mnemonic))
	if err != nil {
		return nil, apperr.External("seal escrow mnemonic", err)
	}

	wallet := &models.EscrowWallet{
		DealID:        dealID,
		Address:       addr,
		EncryptedKey:  sealed,
		WalletVersion: "v4r2",
	}
	if err := s.escrowRepo.CreateWallet(ctx, wallet); err != nil {
		return nil, apperr.External("persist escrow wallet", err)
	}
	return wallet, nil
}

// fundedThreshold is the fraction of the expected deposit that counts as
// "funded" for GetStatus's isFunded flag (§4.7: current ≥ 0.99·expected).
const fundedThreshold = 0.99

// GetStatus refreshes the escrow wallet's cached balance from chain (when
// available) and reports whether the deal is funded.
func (s *Service) GetStatus(ctx context.Context, dealID uuid.UUID) (*Status, error) {
	wallet, err := s.escrowRepo.GetByDealID(ctx, dealID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperr.NotFound("no escrow wallet for this deal")
		}
		return nil, apperr.External("load escrow wallet", err)
	}
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, apperr.External("load deal", err)
	}

	current := wallet.CachedBalance
	if s.chain != nil {
		balance, err := s.chain.GetBalance(ctx, wallet.Address)
		if err == nil {
			current = balance
			wallet.CachedBalance = balance
			wallet.LastCheckedAt = time.Now()
			_ = s.escrowRepo.UpdateCachedBalance(ctx, wallet.ID, balance)
		} else {
			s.log.Warn("failed to refresh escrow balance", zap.String("deal_id", dealID.String()), zap.Error(err))
		}
	}

	isFunded := false
	expected, errExp := strconv.ParseFloat(deal.EscrowAmountTON, 64)
	currentF, errCur := strconv.ParseFloat(current, 64)
	if errExp == nil && errCur == nil {
		isFunded = currentF >= fundedThreshold*expected
	}

	return &Status{
		Address:     wallet.Address,
		Expected:    deal.EscrowAmountTON,
		Current:     current,
		IsFunded:    isFunded,
		LastChecked: wallet.LastCheckedAt,
	}, nil
}

// VerifyDeposit scans the wallet's incoming transfers for one matching the
// deal's expected escrow_amount_ton within tolerance, records it, and
// reports whether a qualifying deposit was found. Recording is keyed on
// tx_hash so re-running VerifyDeposit after a deposit was already credited
// is a no-op, not a double-credit.
func (s *Service) VerifyDeposit(ctx context.Context, dealID uuid.UUID) (bool, error) {
	if s.chain == nil {
		return false, s.unavailable()
	}

	wallet, err := s.escrowRepo.GetByDealID(ctx, dealID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, apperr.NotFound("no escrow wallet for this deal")
		}
		return false, apperr.External("load escrow wallet", err)
	}

	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return false, apperr.External("load deal", err)
	}

	incoming, err := s.chain.ListIncoming(ctx, wallet.Address, 0)
	if err != nil {
		return false, apperr.External("list incoming transfers", err)
	}

	expected, err := strconv.ParseFloat(deal.EscrowAmountTON, 64)
	if err != nil {
		return false, apperr.Fatal("deal has invalid escrow_amount_ton", err)
	}

	for _, in := range incoming {
		already, err := s.escrowRepo.HasTransaction(ctx, in.TxHash)
		if err != nil {
			return false, apperr.External("check existing transaction", err)
		}
		if already {
			continue
		}

		received, err := strconv.ParseFloat(in.AmountTON, 64)
		if err != nil {
			continue
		}
		if received < expected*(1-s.depositTolerance) {
			s.log.Warn("deposit below expected amount, not crediting",
				zap.String("deal_id", dealID.String()), zap.Float64("received", received), zap.Float64("expected", expected))
			continue
		}

		if err := s.escrowRepo.RecordTransaction(ctx, &models.EscrowTransaction{
			WalletID:  wallet.ID,
			TxHash:    in.TxHash,
			Kind:      models.TxKindDeposit,
			AmountTON: in.AmountTON,
			FromAddr:  in.FromAddr,
			ToAddr:    wallet.Address,
			Status:    models.TxStatusConfirmed,
		}); err != nil {
			return false, apperr.External("record deposit transaction", err)
		}
		if err := s.deals.SetSenderAddress(ctx, dealID, in.FromAddr); err != nil {
			s.log.Warn("failed to persist sender address", zap.String("deal_id", dealID.String()), zap.Error(err))
		}
		s.publish(ctx, events.EventEscrowDeposit, dealID, map[string]any{"amount_ton": in.AmountTON, "tx_hash": in.TxHash})

		if _, err := s.fsm.Transition(ctx, dealID, models.DealStatusFunded, nil, "system"); err != nil {
			if ae, ok := apperr.As(err); !ok || ae.Kind != apperr.KindConflict {
				return true, err
			}
			s.log.Debug("deposit recorded but deal already past funded, leaving status as-is",
				zap.String("deal_id", dealID.String()))
		}
		return true, nil
	}
	return false, nil
}

// ensureTransitionLegal mirrors dealfsm.Transition's own legality checks
// (terminal-state rejection, then table membership) but runs before any
// chain interaction, so Release/Refund never drain a wallet only to learn
// afterward that the deal was not eligible for the move (Release is legal
// only from verified, Refund from funded|scheduled|posted|verified; a
// completed/refunded/cancelled deal gets the terminal-state CONFLICT).
func ensureTransitionLegal(status, to string) error {
	if models.IsTerminal(status) {
		return apperr.WithFields(apperr.KindConflict, "deal is in a terminal state", map[string]any{
			"status":              status,
			"allowed_transitions": []string{},
		})
	}
	if !models.IsValidTransition(status, to) {
		return apperr.WithFields(apperr.KindConflict, "deal not eligible for this payout", map[string]any{
			"status":              status,
			"to":                  to,
			"allowed_transitions": models.AllowedTransitions(status),
		})
	}
	return nil
}

// Release resolves the payout destination as destinationHint, falling
// back to the channel owner's payout address on file, sends the wallet's
// current balance (less the fee reserve), writes a RELEASE transaction,
// and transitions the deal to completed. The deal must already be
// `verified`; a terminal or otherwise-ineligible deal is rejected before
// any chain interaction.
func (s *Service) Release(ctx context.Context, dealID uuid.UUID, destinationHint *string) error {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return apperr.External("load deal", err)
	}
	if err := ensureTransitionLegal(deal.Status, models.DealStatusCompleted); err != nil {
		return err
	}

	dest := destinationHint
	if dest == nil {
		dest = deal.ChannelOwnerPayoutAddr
	}
	if dest == nil {
		return apperr.New(apperr.KindValidation, "no destination address available for release")
	}

	if err := s.payout(ctx, dealID, models.TxKindRelease, *dest); err != nil {
		return err
	}
	_, err = s.fsm.Transition(ctx, dealID, models.DealStatusCompleted, nil, "system")
	return err
}

// Refund resolves the payout destination as destinationHint, falling back
// to the recorded on-chain sender and then the advertiser's payout
// address, and transitions the deal to refunded. The deal must be in one
// of funded|scheduled|posted|verified; a terminal or otherwise-ineligible
// deal is rejected before any chain interaction.
func (s *Service) Refund(ctx context.Context, dealID uuid.UUID, destinationHint *string) error {
	deal, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return apperr.External("load deal", err)
	}
	if err := ensureTransitionLegal(deal.Status, models.DealStatusRefunded); err != nil {
		return err
	}

	dest := destinationHint
	if dest == nil {
		dest = deal.SenderAddress
	}
	if dest == nil {
		dest = deal.AdvertiserPayoutAddress
	}
	if dest == nil {
		return apperr.New(apperr.KindValidation, "no destination address available for refund")
	}

	if err := s.payout(ctx, dealID, models.TxKindRefund, *dest); err != nil {
		return err
	}
	_, err = s.fsm.Transition(ctx, dealID, models.DealStatusRefunded, nil, "system")
	return err
}

func (s *Service) payout(ctx context.Context, dealID uuid.UUID, kind, destAddr string) error {
	if s.chain == nil || s.box == nil {
		return s.unavailable()
	}

	wallet, err := s.escrowRepo.GetByDealID(ctx, dealID)
	if err != nil {
		if err == store.ErrNotFound {
			return apperr.NotFound("no escrow wallet for this deal")
		}
		return apperr.External("load escrow wallet", err)
	}

	mnemonicStr, err := s.box.Open(wallet.EncryptedKey)
	if err != nil {
		return apperr.External("open escrow mnemonic", err)
	}
	mnemonic := splitMnemonic(mnemonicStr)

	balance, err := s.chain.GetBalance(ctx, wallet.Address)
	if err != nil {
		return apperr.External("get wallet balance", err)
	}
	balanceTON, err := strconv.ParseFloat(balance, 64)
	if err != nil {
		return apperr.Fatal("chain returned invalid balance", err)
	}
	if balanceTON <= s.feeReserveTON {
		return apperr.New(apperr.KindExternal, fmt.Sprintf("balance %s TON does not exceed the %g TON fee reserve", balance, s.feeReserveTON))
	}
	amountTON := balanceTON - s.feeReserveTON

	txHash, err := s.chain.Send(ctx, mnemonic, destAddr, strconv.FormatFloat(amountTON, 'f', 9, 64), kind+":"+dealID.String())
	if err != nil {
		return err
	}

	if err := s.escrowRepo.RecordTransaction(ctx, &models.EscrowTransaction{
		WalletID:  wallet.ID,
		TxHash:    txHash,
		Kind:      kind,
		AmountTON: strconv.FormatFloat(amountTON, 'f', 9, 64),
		FromAddr:  wallet.Address,
		ToAddr:    destAddr,
		Status:    models.TxStatusConfirmed,
	}); err != nil {
		return err
	}
	s.publish(ctx, events.EventEscrowPayout, dealID, map[string]any{"kind": kind, "amount_ton": amountTON, "to": destAddr})
	return nil
}

func joinMnemonic(words []string) string {
	return strings.Join(words, " ")
}

func splitMnemonic(s string) []string {
	return strings.Fields(s)
}
