// Package chain wraps tonutils-go into the narrow ChainClient surface the
// escrow service needs: generate a custodial wallet, read its balance and
// incoming transfers, and send an outbound transfer. Grounded on the
// lite-client connection and transaction-scanning pattern used by the
// teacher's TON indexer (cmd/ton-indexer), generalized from one shared hot
// wallet to many short-lived per-deal escrow wallets.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
)

// Incoming describes one inbound transfer observed on a wallet address.
type Incoming struct {
	TxHash    string
	LT        uint64
	FromAddr  string
	AmountTON string
	Comment   string
	At        time.Time
}

// Client is the interface the escrow/scheduler packages depend on; the
// concrete TONClient is the only implementation, kept behind an interface
// so escrow_test.go can substitute a fake.
type Client interface {
	CreateWallet(ctx context.Context) (address string, mnemonic []string, err error)
	GetBalance(ctx context.Context, addr string) (string, error)
	ListIncoming(ctx context.Context, addr string, sinceLT uint64) ([]Incoming, error)
	Send(ctx context.Context, fromMnemonic []string, toAddr, amountTON, comment string) (txHash string, err error)
}

const walletVersion = wallet.V4R2

// TONClient talks to the TON network through a lite-server connection
// pool, auto-discovered from the network's global config unless
// LITE_SERVER_HOST/KEY pin a specific one (same knobs the teacher's
// indexer exposed).
type TONClient struct {
	api     ton.APIClientWrapped
	network string
	log     *zap.Logger
}

type Config struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

func New(ctx context.Context, cfg Config, log *zap.Logger) (*TONClient, error) {
	pool := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		if err := pool.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.ToLower(cfg.Network) == "mainnet" {
			configURL = "https://ton.org/global.config.json"
		}
		if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	policy := ton.ProofCheckPolicyFast
	if strings.ToLower(cfg.Network) == "mainnet" {
		policy = ton.ProofCheckPolicySecure
	}
	api := ton.NewAPIClient(pool, policy).WithRetry()

	return &TONClient{api: api, network: cfg.Network, log: log}, nil
}

// CreateWallet generates a fresh BIP39-style mnemonic and derives its
// address without deploying it on-chain; the wallet is deployed lazily by
// the first outbound Send, the usual pattern for wallets that only ever
// receive one deposit and forward it onward.
func (c *TONClient) CreateWallet(ctx context.Context) (string, []string, error) {
	seed := wallet.NewSeed()
	w, err := wallet.FromSeed(c.api, seed, walletVersion)
	if err != nil {
		return "", nil, apperr.External("derive wallet from seed", err)
	}
	return w.Address().String(), seed, nil
}

func (c *TONClient) GetBalance(ctx context.Context, addr string) (string, error) {
	a, err := address.ParseAddr(addr)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "invalid address: "+addr)
	}

	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return "", apperr.External("get masterchain info", err)
	}

	account, err := c.api.GetAccount(ctx, block, a)
	if err != nil {
		return "", apperr.External("get account", err)
	}
	if account == nil || !account.IsActive {
		return "0", nil
	}

	return tlb.FromNanoTON(account.State.Balance.NanoTON()).String(), nil
}

// ListIncoming scans the account's transaction history back to sinceLT,
// returning inbound non-bounced transfers oldest-first — the same
// pagination strategy as the teacher's fetchNewTransactions, applied per
// escrow wallet instead of to one shared hot wallet.
func (c *TONClient) ListIncoming(ctx context.Context, addrStr string, sinceLT uint64) ([]Incoming, error) {
	a, err := address.ParseAddr(addrStr)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, "invalid address: "+addrStr)
	}

	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, apperr.External("get masterchain info", err)
	}

	account, err := c.api.GetAccount(ctx, block, a)
	if err != nil {
		return nil, apperr.External("get account", err)
	}
	if account == nil || !account.IsActive || account.LastTxLT == 0 || account.LastTxLT <= sinceLT {
		return nil, nil
	}

	const batchSize = 100
	var all []*tlb.Transaction
	lt, hash := account.LastTxLT, account.LastTxHash

	for {
		txs, err := c.api.ListTransactions(ctx, a, batchSize, lt, hash)
		if err != nil {
			return nil, apperr.External("list transactions", err)
		}
		if len(txs) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range txs {
			if tx.LT <= sinceLT {
				reachedCursor = true
				continue
			}
			all = append(all, tx)
		}
		if reachedCursor || len(txs) < batchSize {
			break
		}

		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LT < all[j].LT })

	var out []Incoming
	for _, tx := range all {
		if tx.IO.In == nil {
			continue
		}
		in, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
		if !ok || in == nil || in.Bounced || in.Amount.Nano().Sign() <= 0 {
			continue
		}
		out = append(out, Incoming{
			TxHash:    fmt.Sprintf("%d:%x", tx.LT, tx.Hash),
			LT:        tx.LT,
			FromAddr:  in.SrcAddr.String(),
			AmountTON: in.Amount.String(),
			Comment:   extractComment(in),
			At:        time.Unix(int64(tx.Now), 0),
		})
	}
	return out, nil
}

// Send deploys (if needed) and spends from the wallet derived from
// fromMnemonic, sending amountTON to toAddr with an optional text comment.
// The caller is responsible for reserving gas: amountTON is the full
// transfer amount, not the wallet's balance.
func (c *TONClient) Send(ctx context.Context, fromMnemonic []string, toAddr, amountTON, comment string) (string, error) {
	w, err := wallet.FromSeed(c.api, fromMnemonic, walletVersion)
	if err != nil {
		return "", apperr.External("derive wallet from seed", err)
	}

	to, err := address.ParseAddr(toAddr)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "invalid destination address: "+toAddr)
	}

	amount, err := tlb.FromTON(amountTON)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "invalid amount: "+amountTON)
	}

	msg, err := w.BuildTransfer(to, amount, true, comment)
	if err != nil {
		return "", apperr.External("build transfer", err)
	}

	tx, _, err := w.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", apperr.External("send transfer", err)
	}

	return fmt.Sprintf("%d:%x", tx.LT, tx.Hash), nil
}

func extractComment(in *tlb.InternalMessage) string {
	if in.Body == nil {
		return ""
	}
	slice := in.Body.BeginParse()
	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}
	text, err := slice.LoadStringSnake()
	if err != nil {
		return ""
	}
	return text
}

// nanoToFloat converts a nanoTON amount to whole TON as a float64. Only
// client_test.go calls it; the escrow package's deposit tolerance check
// parses the string amounts with strconv.ParseFloat instead.
func nanoToFloat(n *big.Int) float64 {
	f := new(big.Float).SetInt(n)
	f.Quo(f, big.NewFloat(1_000_000_000))
	out, _ := f.Float64()
	return out
}
