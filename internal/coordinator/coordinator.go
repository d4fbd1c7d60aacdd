// Package coordinator is the single wiring point for the service: it
// constructs every component from config, gating the TON chain client,
// messaging client, and notifier behind their configuration
// prerequisites so a partially-configured deployment still boots with
// reduced capability (§4.1's CONFIG/503 contract) rather than refusing
// to start, the same posture the teacher's main() took toward optional
// dependencies.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/chain"
	"github.com/tonads/escrow-coordinator/internal/config"
	"github.com/tonads/escrow-coordinator/internal/crypto"
	"github.com/tonads/escrow-coordinator/internal/db"
	"github.com/tonads/escrow-coordinator/internal/dealfsm"
	"github.com/tonads/escrow-coordinator/internal/escrow"
	"github.com/tonads/escrow-coordinator/internal/events"
	"github.com/tonads/escrow-coordinator/internal/httpapi"
	"github.com/tonads/escrow-coordinator/internal/messaging"
	"github.com/tonads/escrow-coordinator/internal/notifier"
	"github.com/tonads/escrow-coordinator/internal/permissions"
	"github.com/tonads/escrow-coordinator/internal/scheduler"
	"github.com/tonads/escrow-coordinator/internal/store"
)

// Coordinator bundles every constructed component plus the resources
// (pool, redis client) the api/scheduler entrypoints need to close on
// shutdown.
type Coordinator struct {
	Config *config.Config
	Log    *zap.Logger

	Pool *pgxpool.Pool
	Rdb  *redis.Client

	Store       *store.Store
	Chain       chain.Client // nil if the TON lite-server connection fails at startup
	Messaging   messaging.Client // nil if BOT_TOKEN unset
	Permissions *permissions.Service
	FSM         *dealfsm.FSM
	Escrow      *escrow.Service
	Notifier    *notifier.Notifier // nil if messaging is unavailable
	Scheduler   *scheduler.Scheduler

	Handlers *httpapi.Handlers
	Hub      *httpapi.Hub
}

// Build constructs every component. Postgres and Redis connectivity are
// hard requirements and fail fast; the TON chain client, messaging
// client, and notifier degrade to nil instead, per §4.1.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Coordinator, error) {
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := store.New(pool, log)
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	var chainClient chain.Client
	tc, err := chain.New(ctx, chain.Config{
		Network:        cfg.TONNetwork,
		LiteServerHost: cfg.LiteServerHost,
		LiteServerPort: cfg.LiteServerPort,
		LiteServerKey:  cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Warn("TON chain client unavailable, escrow deposit/payout will return CONFIG errors", zap.Error(err))
	} else {
		chainClient = tc
	}

	var msgClient messaging.Client
	var sender notifier.Sender
	if cfg.BotToken != "" {
		bc := messaging.New(cfg.BotToken, log)
		msgClient = bc
		sender = bc
	}

	// §4.2: an absent ESCROW_SECRET_KEY doesn't disable escrow custody —
	// a key is generated at startup, logged once so the operator can
	// persist it, and used in-memory for this process only (development
	// mode: wallets sealed under it can't be opened after a restart
	// unless that logged key is set as ESCROW_SECRET_KEY).
	secretKey := cfg.EscrowSecretKey
	if secretKey == "" {
		generated, err := crypto.GenerateSecret()
		if err != nil {
			log.Warn("failed to generate a development escrow key, escrow wallet custody will be unavailable", zap.Error(err))
		} else {
			log.Warn("ESCROW_SECRET_KEY not set, generated an in-memory development key — set ESCROW_SECRET_KEY to this value to keep decrypting existing wallets across restarts",
				zap.String("generated_escrow_secret_key", generated))
			secretKey = generated
		}
	}

	var box *crypto.MnemonicBox
	if secretKey != "" {
		b, err := crypto.NewMnemonicBox(secretKey)
		if err != nil {
			log.Warn("mnemonic box unavailable, escrow wallet custody will return CONFIG errors", zap.Error(err))
		} else {
			box = b
		}
	}

	fsm := dealfsm.New(st, publisher, log)
	permSvc := permissions.New(st, msgClient, log)
	escrowSvc := escrow.New(st, chainClient, box, fsm, publisher, cfg.DepositTolerance, cfg.FeeReserveTON, log)

	var notif *notifier.Notifier
	if sender != nil {
		cooldownStore := notifier.NewRedisCooldownStore(rdb)
		notif = notifier.New(sender, time.Duration(cfg.NotificationCooldownSeconds)*time.Second, log, cooldownStore)
	} else {
		log.Warn("notifier unavailable, deal/escrow events will not be delivered to users")
	}

	sched := scheduler.New(st, fsm, escrowSvc, msgClient, notif, scheduler.Config{
		PostTickInterval:    time.Duration(cfg.SchedulerPostTickSeconds) * time.Second,
		VerifyTickInterval:  time.Duration(cfg.SchedulerVerifyTickSeconds) * time.Second,
		DepositTickInterval: time.Duration(cfg.SchedulerDepositTickSeconds) * time.Second,
	}, log)

	handlers := httpapi.NewHandlers(st, cfg, escrowSvc, fsm, permSvc, msgClient, log)
	hub := httpapi.NewHub(cfg, subscriber, log)

	return &Coordinator{
		Config:      cfg,
		Log:         log,
		Pool:        pool,
		Rdb:         rdb,
		Store:       st,
		Chain:       chainClient,
		Messaging:   msgClient,
		Permissions: permSvc,
		FSM:         fsm,
		Escrow:      escrowSvc,
		Notifier:    notif,
		Scheduler:   sched,
		Handlers:    handlers,
		Hub:         hub,
	}, nil
}

// Close releases the pool and Redis client; it does not stop the
// scheduler or HTTP server, which the entrypoint owns the lifecycle of.
func (c *Coordinator) Close() {
	c.Pool.Close()
	_ = c.Rdb.Close()
}
