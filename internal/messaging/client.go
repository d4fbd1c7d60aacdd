// Package messaging wraps the bot's HTTP API for posting and admin checks,
// plus a goquery-based scrape of the public t.me channel preview pages for
// the non-mutating message-existence probe used by the verify tick.
// Grounded on internal/statsparser's FetchPostContent, which already
// fetches and parses exactly this page shape.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/apperr"
)

// Client is the interface the permissions/scheduler/httpapi packages use;
// a nil Coordinator.Messaging means a messaging-gated HTTP operation
// returns CONFIG/503 (§4.1) and the scheduler's post and verify ticks
// skip their work.
type Client interface {
	VerifyBotOnChannel(ctx context.Context, channelUsername string) (isAdmin, canPost bool, err error)
	VerifyUserOnChannel(ctx context.Context, channelUsername string, telegramUserID int64) (role string, ok bool, err error)
	SendChannelMessage(ctx context.Context, channelUsername, text string) (messageID int64, err error)
	MessageExists(ctx context.Context, channelUsername string, messageID int64) (bool, error)
}

type BotClient struct {
	botToken   string
	httpClient *http.Client
	log        *zap.Logger
}

func New(botToken string, log *zap.Logger) *BotClient {
	return &BotClient{
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

type chatMember struct {
	Status      string `json:"status"`
	CanPostMessages bool `json:"can_post_messages"`
}

type getChatMemberResponse struct {
	OK     bool       `json:"ok"`
	Result chatMember `json:"result"`
}

// VerifyBotOnChannel calls Telegram's getChatMember for the bot itself,
// the standard way to discover admin/post rights on a channel it was
// added to.
func (c *BotClient) VerifyBotOnChannel(ctx context.Context, channelUsername string) (bool, bool, error) {
	member, err := c.getChatMember(ctx, channelUsername, "me")
	if err != nil {
		return false, false, err
	}
	isAdmin := member.Status == "administrator" || member.Status == "creator"
	canPost := member.Status == "creator" || (member.Status == "administrator" && member.CanPostMessages)
	return isAdmin, canPost, nil
}

// VerifyUserOnChannel reports the messaging-platform admin role of a
// specific user, used to re-derive the role lattice position in I6's
// periodic re-verification.
func (c *BotClient) VerifyUserOnChannel(ctx context.Context, channelUsername string, telegramUserID int64) (string, bool, error) {
	member, err := c.getChatMember(ctx, channelUsername, strconv.FormatInt(telegramUserID, 10))
	if err != nil {
		return "", false, err
	}
	switch member.Status {
	case "creator":
		return "OWNER", true, nil
	case "administrator":
		if member.CanPostMessages {
			return "MANAGER", true, nil
		}
		return "POSTER", true, nil
	default:
		return "", false, nil
	}
}

func (c *BotClient) getChatMember(ctx context.Context, channelUsername, userRef string) (*chatMember, error) {
	if c.botToken == "" {
		return nil, apperr.Config("messaging client not configured: BOT_TOKEN missing")
	}

	chatParam := "@" + strings.TrimPrefix(channelUsername, "@")
	var userIDParam string
	if userRef == "me" {
		userIDParam = "me"
	} else {
		userIDParam = userRef
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/getChatMember?chat_id=%s&user_id=%s",
		c.botToken, url.QueryEscape(chatParam), url.QueryEscape(userIDParam))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, apperr.External("build getChatMember request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.External("getChatMember request failed", err)
	}
	defer resp.Body.Close()

	var parsed getChatMemberResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.External("decode getChatMember response", err)
	}
	if !parsed.OK {
		return nil, apperr.External("getChatMember returned not ok", fmt.Errorf("http %d", resp.StatusCode))
	}
	return &parsed.Result, nil
}

type sendMessageResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// SendChannelMessage posts the ad text to the channel via Telegram's
// sendMessage, returning the resulting message_id for later verification.
func (c *BotClient) SendChannelMessage(ctx context.Context, channelUsername, text string) (int64, error) {
	if c.botToken == "" {
		return 0, apperr.Config("messaging client not configured: BOT_TOKEN missing")
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.botToken)
	form := url.Values{}
	form.Set("chat_id", "@"+strings.TrimPrefix(channelUsername, "@"))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, apperr.External("build sendMessage request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperr.External("sendMessage request failed", err)
	}
	defer resp.Body.Close()

	var parsed sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, apperr.External("decode sendMessage response", err)
	}
	if !parsed.OK {
		return 0, apperr.External("sendMessage returned not ok", fmt.Errorf("http %d", resp.StatusCode))
	}
	return parsed.Result.MessageID, nil
}

// SendDirectMessage delivers a plain-text direct message to a Telegram
// user, satisfying notifier.Sender; it is the same sendMessage call as
// SendChannelMessage with a numeric chat_id instead of a channel handle.
func (c *BotClient) SendDirectMessage(ctx context.Context, telegramUserID int64, text string) error {
	if c.botToken == "" {
		return apperr.Config("messaging client not configured: BOT_TOKEN missing")
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.botToken)
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(telegramUserID, 10))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperr.External("build sendMessage request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.External("sendMessage request failed", err)
	}
	defer resp.Body.Close()

	var parsed sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return apperr.External("decode sendMessage response", err)
	}
	if !parsed.OK {
		return apperr.External("sendMessage returned not ok", fmt.Errorf("http %d", resp.StatusCode))
	}
	return nil
}

// MessageExists probes the public t.me preview page rather than calling
// a Bot API method, so checking survives even if the bot has since been
// removed from the channel — a deliberate non-mutating choice over
// re-forwarding the message to test deliverability.
func (c *BotClient) MessageExists(ctx context.Context, channelUsername string, messageID int64) (bool, error) {
	username := strings.TrimPrefix(channelUsername, "@")
	previewURL := fmt.Sprintf("https://t.me/%s/%d?embed=1", username, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, nil)
	if err != nil {
		return false, apperr.External("build preview request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; escrow-coordinator/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, apperr.External("fetch preview page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, apperr.External("unexpected preview status", fmt.Errorf("http %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false, apperr.External("parse preview page", err)
	}

	if doc.Find(".tgme_widget_message").Length() == 0 {
		return false, nil
	}
	return true, nil
}
