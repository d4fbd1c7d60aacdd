package httpapi

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
	"github.com/tonads/escrow-coordinator/internal/auth"
	"github.com/tonads/escrow-coordinator/internal/config"
	"github.com/tonads/escrow-coordinator/internal/dealfsm"
	"github.com/tonads/escrow-coordinator/internal/escrow"
	"github.com/tonads/escrow-coordinator/internal/messaging"
	"github.com/tonads/escrow-coordinator/internal/middleware"
	"github.com/tonads/escrow-coordinator/internal/models"
	"github.com/tonads/escrow-coordinator/internal/permissions"
	"github.com/tonads/escrow-coordinator/internal/store"
)

type Handlers struct {
	store       *store.Store
	cfg         *config.Config
	escrow      *escrow.Service
	fsm         *dealfsm.FSM
	permissions *permissions.Service
	messaging   messaging.Client
	log         *zap.Logger
}

func NewHandlers(st *store.Store, cfg *config.Config, esc *escrow.Service, fsm *dealfsm.FSM, perm *permissions.Service, msg messaging.Client, log *zap.Logger) *Handlers {
	return &Handlers{store: st, cfg: cfg, escrow: esc, fsm: fsm, permissions: perm, messaging: msg, log: log}
}

// respondErr translates an apperr.Error into the envelope shape and HTTP
// status; any other error is treated as an unexpected 500.
func respondErr(c *fiber.Ctx, err error) error {
	if ae, ok := apperr.As(err); ok {
		return c.Status(ae.Kind.HTTPStatus()).JSON(Envelope{Success: false, Error: ae.Message, Fields: ae.Fields})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(Envelope{Success: false, Error: "internal error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(Envelope{Success: false, Error: msg})
}

// -- Auth --

// TelegramAuth validates Telegram WebApp initData, upserts the user, and
// returns a session JWT.
func (h *Handlers) TelegramAuth(c *fiber.Ctx) error {
	var req authRequest
	if err := c.BodyParser(&req); err != nil || req.InitData == "" {
		return badRequest(c, "init_data is required")
	}

	vals, err := auth.ValidateTelegramWebAppData(req.InitData, h.cfg.BotToken, auth.DefaultInitDataTTL)
	if err != nil {
		h.log.Debug("telegram auth validation failed", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(Envelope{Success: false, Error: "invalid or expired init_data"})
	}

	userJSON := vals.Get("user")
	if userJSON == "" {
		return badRequest(c, "user data missing from init_data")
	}
	var tgUser struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal([]byte(userJSON), &tgUser); err != nil {
		return badRequest(c, "invalid user data")
	}

	var username *string
	if tgUser.Username != "" {
		username = &tgUser.Username
	}

	user, err := h.store.Users.GetOrCreateByTelegramID(c.Context(), tgUser.ID, username)
	if err != nil {
		h.log.Error("failed to upsert user", zap.Error(err))
		return respondErr(c, apperr.External("upsert user", err))
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.TelegramID, h.cfg.JWTExpiration)
	if err != nil {
		return respondErr(c, apperr.External("generate token", err))
	}

	return c.JSON(ok(authResponse{Token: token, User: user}))
}

func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// -- Channels --

func (h *Handlers) CreateChannel(c *fiber.Ctx) error {
	var req createChannelRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" {
		return badRequest(c, "username is required")
	}

	channel := &models.Channel{
		Username:        req.Username,
		Title:           req.Title,
		Category:        req.Category,
		PricePerPostTON: req.PricePerPostTON,
	}
	if channel.PricePerPostTON == "" {
		channel.PricePerPostTON = "0"
	}
	if err := h.store.Channels.Create(c.Context(), channel); err != nil {
		return respondErr(c, apperr.External("create channel", err))
	}

	userID := middleware.GetUserID(c)
	if err := h.store.Channels.UpsertAdmin(c.Context(), &models.ChannelAdmin{
		ChannelID: channel.ID, UserID: userID, Role: models.RoleOwner,
	}); err != nil {
		h.log.Warn("failed to seed owner admin row", zap.Error(err))
	}

	return c.Status(fiber.StatusCreated).JSON(ok(channel))
}

func (h *Handlers) GetChannel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid channel id")
	}
	channel, err := h.store.Channels.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("channel not found"))
		}
		return respondErr(c, apperr.External("load channel", err))
	}
	return c.JSON(ok(channel))
}

func (h *Handlers) ListChannels(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	channels, err := h.store.Channels.List(c.Context(), limit, offset)
	if err != nil {
		return respondErr(c, apperr.External("list channels", err))
	}
	return c.JSON(ok(channels))
}

// VerifyChannel re-probes the bot's admin status on a channel and persists
// the result (§4.1/§4.5 verification gate for posting).
func (h *Handlers) VerifyChannel(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid channel id")
	}
	channel, err := h.store.Channels.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("channel not found"))
		}
		return respondErr(c, apperr.External("load channel", err))
	}
	if h.messaging == nil {
		return respondErr(c, apperr.Config("messaging client not configured"))
	}

	isAdmin, canPost, err := h.messaging.VerifyBotOnChannel(c.Context(), channel.Username)
	if err != nil {
		return respondErr(c, err)
	}
	verified := isAdmin && canPost
	if err := h.store.Channels.UpdateVerification(c.Context(), id, isAdmin, canPost, verified); err != nil {
		return respondErr(c, apperr.External("persist verification", err))
	}
	channel.BotIsAdmin, channel.BotCanPost, channel.Verified = isAdmin, canPost, verified
	return c.JSON(ok(channel))
}

func (h *Handlers) AddChannelAdmin(c *fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid channel id")
	}
	var req addManagerRequest
	if err := c.BodyParser(&req); err != nil || req.TelegramUserID == 0 {
		return badRequest(c, "telegram_user_id is required")
	}
	if req.Role == "" {
		req.Role = models.RoleManager
	}

	user, err := h.store.Users.GetOrCreateByTelegramID(c.Context(), req.TelegramUserID, nil)
	if err != nil {
		return respondErr(c, apperr.External("load user", err))
	}
	admin := &models.ChannelAdmin{ChannelID: channelID, UserID: user.ID, Role: req.Role}
	if err := h.store.Channels.UpsertAdmin(c.Context(), admin); err != nil {
		return respondErr(c, apperr.External("persist channel admin", err))
	}
	return c.Status(fiber.StatusCreated).JSON(ok(admin))
}

func (h *Handlers) ListChannelAdmins(c *fiber.Ctx) error {
	channelID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid channel id")
	}
	admins, err := h.store.Channels.ListAdmins(c.Context(), channelID)
	if err != nil {
		return respondErr(c, apperr.External("list channel admins", err))
	}
	return c.JSON(ok(admins))
}

// -- Campaigns --

func (h *Handlers) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil || req.Title == "" {
		return badRequest(c, "title is required")
	}
	campaign := &models.Campaign{
		AdvertiserUserID: middleware.GetUserID(c),
		Title:            req.Title,
		Text:             req.Text,
		BudgetTON:        req.BudgetTON,
	}
	if err := h.store.Campaigns.Create(c.Context(), campaign); err != nil {
		return respondErr(c, apperr.External("create campaign", err))
	}
	return c.Status(fiber.StatusCreated).JSON(ok(campaign))
}

func (h *Handlers) ListCampaigns(c *fiber.Ctx) error {
	advertiserID := middleware.GetUserID(c)
	campaigns, err := h.store.Campaigns.ListByAdvertiser(c.Context(), advertiserID)
	if err != nil {
		return respondErr(c, apperr.External("list campaigns", err))
	}
	return c.JSON(ok(campaigns))
}

// -- Deals --

func (h *Handlers) CreateDeal(c *fiber.Ctx) error {
	var req createDealRequest
	if err := c.BodyParser(&req); err != nil || req.ChannelID == uuid.Nil || req.EscrowAmountTON == "" {
		return badRequest(c, "channel_id and escrow_amount_ton are required")
	}
	if req.HoldHours <= 0 {
		req.HoldHours = 24
	}

	deal := &models.Deal{
		CampaignID:              req.CampaignID,
		ChannelID:               req.ChannelID,
		AdvertiserUserID:        middleware.GetUserID(c),
		EscrowAmountTON:         req.EscrowAmountTON,
		AdvertiserPayoutAddress: req.PayoutAddress,
		HoldHours:               req.HoldHours,
	}
	if err := h.store.Deals.Create(c.Context(), deal); err != nil {
		return respondErr(c, apperr.External("create deal", err))
	}
	return c.Status(fiber.StatusCreated).JSON(ok(deal))
}

func (h *Handlers) GetDeal(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	deal, err := h.store.Deals.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("deal not found"))
		}
		return respondErr(c, apperr.External("load deal", err))
	}
	return c.JSON(ok(deal))
}

func (h *Handlers) ListDeals(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := store.DealFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("channel_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.ChannelID = &id
		}
	} else {
		filter.AdvertiserUserID = &userID
	}

	deals, err := h.store.Deals.List(c.Context(), filter)
	if err != nil {
		return respondErr(c, apperr.External("list deals", err))
	}
	return c.JSON(ok(deals))
}

// ListAllDeals is the operator dashboard's REST fallback alongside the
// WebSocket feed: every deal, unfiltered by advertiser.
func (h *Handlers) ListAllDeals(c *fiber.Ctx) error {
	filter := store.DealFilter{Limit: 50}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	deals, err := h.store.Deals.List(c.Context(), filter)
	if err != nil {
		return respondErr(c, apperr.External("list deals", err))
	}
	return c.JSON(ok(deals))
}

// DealStatus reports the deal's current state plus its progress step, the
// cheap read hit so a client doesn't need to poll GetDeal for a spinner.
func (h *Handlers) DealStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	deal, err := h.store.Deals.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("deal not found"))
		}
		return respondErr(c, apperr.External("load deal", err))
	}
	return c.JSON(ok(fiber.Map{
		"status":     deal.Status,
		"step":       models.DealStep[deal.Status],
		"terminal":   models.IsTerminal(deal.Status),
		"release_at": deal.ReleaseAt(),
	}))
}

// Transition is the generic escape hatch for moves the escrow service
// doesn't otherwise special-case (e.g. cancel).
func (h *Handlers) Transition(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	var req transitionRequest
	if err := c.BodyParser(&req); err != nil || req.To == "" {
		return badRequest(c, "to is required")
	}
	actorID := middleware.GetUserID(c)
	deal, err := h.fsm.Transition(c.Context(), id, req.To, &actorID, "user")
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(ok(deal))
}

// AcceptDeal is the channel-side acceptance gate: only a MANAGER+ on the
// deal's channel may accept it (§4.5).
func (h *Handlers) AcceptDeal(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	deal, err := h.store.Deals.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("deal not found"))
		}
		return respondErr(c, apperr.External("load deal", err))
	}

	actorID := middleware.GetUserID(c)
	if err := h.permissions.Check(c.Context(), deal.ChannelID, actorID, permissions.ActionAcceptDeal); err != nil {
		return respondErr(c, err)
	}

	updated, err := h.fsm.Transition(c.Context(), id, models.DealStatusAccepted, &actorID, "user")
	if err != nil {
		return respondErr(c, err)
	}
	if _, err := h.escrow.CreateWallet(c.Context(), id); err != nil {
		h.log.Error("failed to create escrow wallet after acceptance", zap.String("deal_id", id.String()), zap.Error(err))
	}
	return c.JSON(ok(updated))
}

// SchedulePost records the ad copy and scheduled time; it only succeeds
// once the deal is funded, and the caller must be at least POSTER on the
// channel (§4.5/§4.8).
func (h *Handlers) SchedulePost(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil || req.AdText == "" {
		return badRequest(c, "ad_text is required")
	}
	if req.ScheduledTime.IsZero() {
		req.ScheduledTime = time.Now()
	}

	deal, err := h.store.Deals.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("deal not found"))
		}
		return respondErr(c, apperr.External("load deal", err))
	}

	actorID := middleware.GetUserID(c)
	if err := h.permissions.Check(c.Context(), deal.ChannelID, actorID, permissions.ActionPostAd); err != nil {
		return respondErr(c, err)
	}

	post := &models.ScheduledPost{
		DealID:        id,
		ChannelID:     deal.ChannelID,
		AdText:        req.AdText,
		ScheduledTime: req.ScheduledTime,
		HoldHours:     deal.HoldHours,
	}
	if err := h.store.ScheduledPosts.Create(c.Context(), post); err != nil {
		return respondErr(c, apperr.External("schedule post", err))
	}

	updated, err := h.fsm.Transition(c.Context(), id, models.DealStatusScheduled, &actorID, "user")
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ok(fiber.Map{"deal": updated, "scheduled_post": post}))
}

// ReleaseEscrow is the manual release path, gated on the release_escrow
// permission. escrow.Release accepts only a verified deal, so a call made
// while the deal is still posted (hold period running) or earlier gets a
// CONFLICT without any chain interaction.
func (h *Handlers) ReleaseEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	var req destinationRequest
	_ = c.BodyParser(&req)

	deal, err := h.store.Deals.GetByID(c.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			return respondErr(c, apperr.NotFound("deal not found"))
		}
		return respondErr(c, apperr.External("load deal", err))
	}

	actorID := middleware.GetUserID(c)
	if err := h.permissions.Check(c.Context(), deal.ChannelID, actorID, permissions.ActionReleaseEscrow); err != nil {
		return respondErr(c, err)
	}

	if err := h.escrow.Release(c.Context(), id, req.Destination); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(ok(fiber.Map{"released": true}))
}

func (h *Handlers) EscrowStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	status, err := h.escrow.GetStatus(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(ok(status))
}

func (h *Handlers) VerifyDeposit(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid deal id")
	}
	found, err := h.escrow.VerifyDeposit(c.Context(), id)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(ok(fiber.Map{"deposit_found": found}))
}

// -- Permissions --

func (h *Handlers) CheckPermission(c *fiber.Ctx) error {
	var req permissionCheckRequest
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return badRequest(c, "channel_id, user_id, action are required")
	}
	if err := h.permissions.Check(c.Context(), req.ChannelID, req.UserID, req.Action); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(ok(fiber.Map{"allowed": true}))
}
