package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/infra/i18n"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/usecase"

	"github.com/rs/zerolog"
)

const (
	CallbackCheckPaymentPrefix = "check_pay_"
	CallbackBuyPremium         = "buy_premium"
)

type offerReason int

const (
	offerCommand offerReason = iota
	offerLimitReached
)

// BotFacade composes the use cases into the chat flows. The transport
// adapter only parses updates and calls into it.
type BotFacade struct {
	Entitlements usecase.EntitlementUseCase
	Gate         usecase.AccessGate
	Payments     usecase.PaymentUseCase

	bot             adapter.TelegramBotAdapter
	links           LinkChecker
	jobs            JobSubmitter
	tr              *i18n.Translator
	supportURL      string
	downloadTimeout time.Duration
	log             *zerolog.Logger
}

type FacadeOption func(*BotFacade)

func WithSupportURL(u string) FacadeOption {
	return func(b *BotFacade) { b.supportURL = u }
}

// WithDownloadTimeout bounds one queued download including delivery.
func WithDownloadTimeout(d time.Duration) FacadeOption {
	return func(b *BotFacade) { b.downloadTimeout = d }
}

func NewBotFacade(
	entitlements usecase.EntitlementUseCase,
	gate usecase.AccessGate,
	payments usecase.PaymentUseCase,
	links LinkChecker,
	jobs JobSubmitter,
	tr *i18n.Translator,
	logger *zerolog.Logger,
	opts ...FacadeOption,
) *BotFacade {
	b := &BotFacade{
		Entitlements:    entitlements,
		Gate:            gate,
		Payments:        payments,
		links:           links,
		jobs:            jobs,
		tr:              tr,
		downloadTimeout: 10 * time.Minute,
		log:             logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// AttachBot wires the outbound transport. The Telegram adapter needs the
// facade to route updates, so the two are connected after construction.
func (b *BotFacade) AttachBot(bot adapter.TelegramBotAdapter) {
	b.bot = bot
}

func (b *BotFacade) HandleStart(ctx context.Context, chatID int64) error {
	_, err := b.bot.SendText(ctx, chatID, b.tr.T("welcome"), nil)
	return err
}

// HandlePlan shows the expiry to premium users and the offer to everyone else.
func (b *BotFacade) HandlePlan(ctx context.Context, chatID, userID int64) error {
	_, allowance, err := b.Entitlements.Status(ctx, userID)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("plan: status failed")
		_, err = b.bot.SendText(ctx, chatID, b.tr.T("offer_unavailable"), nil)
		return err
	}
	if allowance.IsPremium && allowance.PremiumExpiry != nil {
		text := b.tr.T("already_premium", formatDate(*allowance.PremiumExpiry))
		_, err = b.bot.SendText(ctx, chatID, text, nil)
		return err
	}
	return b.sendOffer(ctx, chatID, userID, offerCommand, allowance)
}

// HandleText treats any non-command message as a possible link.
func (b *BotFacade) HandleText(ctx context.Context, chatID, userID int64, text string) error {
	link := b.extractLink(text)
	if link == "" {
		_, err := b.bot.SendText(ctx, chatID, b.tr.T("unrecognized"), nil)
		return err
	}
	log := logging.With(ctx, b.log)

	allowance, err := b.Entitlements.CheckAllowance(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("allowance check failed")
		_, err = b.bot.SendText(ctx, chatID, b.tr.T("download_failed"), nil)
		return err
	}
	if !allowance.Allowed {
		return b.sendOffer(ctx, chatID, userID, offerLimitReached, allowance)
	}

	traceID := logging.TraceIDFrom(ctx)
	err = b.jobs.Submit(func(pctx context.Context) error {
		jctx := logging.WithChatID(logging.WithUserID(logging.WithTraceID(pctx, traceID), userID), chatID)
		jctx, cancel := context.WithTimeout(jctx, b.downloadTimeout)
		defer cancel()
		return b.runDownload(jctx, chatID, userID, link)
	})
	if err != nil {
		log.Warn().Err(err).Msg("download not queued")
		_, serr := b.bot.SendText(ctx, chatID, b.tr.T("download_busy"), nil)
		return serr
	}
	return nil
}

func (b *BotFacade) runDownload(ctx context.Context, chatID, userID int64, link string) error {
	log := logging.With(ctx, b.log)

	_ = b.bot.SendChatAction(ctx, chatID, adapter.ActionUploadVideo)
	statusID, err := b.bot.SendText(ctx, chatID, b.tr.T("download_status"), nil)
	if err != nil {
		log.Warn().Err(err).Msg("status message not sent")
	}
	fail := func() error {
		if statusID != 0 {
			return b.bot.EditMessage(ctx, chatID, statusID, b.tr.T("download_failed"))
		}
		_, err := b.bot.SendText(ctx, chatID, b.tr.T("download_failed"), nil)
		return err
	}

	res, err := b.Gate.HandleRequest(ctx, userID, link)
	if err != nil {
		log.Error().Err(err).Msg("download request failed")
		return fail()
	}
	switch res.Outcome {
	case model.OutcomeDenied:
		// lost a race with another request of the same user
		if statusID != 0 {
			_ = b.bot.DeleteMessage(ctx, chatID, statusID)
		}
		return b.sendOffer(ctx, chatID, userID, offerLimitReached, res.Allowance)
	case model.OutcomeFailed:
		log.Info().Err(res.Err).Msg("download failed")
		return fail()
	}

	defer func() {
		if err := os.Remove(res.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", res.FilePath).Msg("failed to remove delivered file")
		}
	}()
	caption := b.tr.T("download_caption", b.footer(res.Allowance))
	if err := b.bot.SendMedia(ctx, chatID, res.FilePath, caption); err != nil {
		log.Error().Err(err).Msg("media upload failed")
		return fail()
	}
	if statusID != 0 {
		_ = b.bot.DeleteMessage(ctx, chatID, statusID)
	}
	return nil
}

// HandleCallback routes inline button presses.
func (b *BotFacade) HandleCallback(ctx context.Context, chatID, userID int64, messageID int, callbackID, data string) error {
	switch {
	case strings.HasPrefix(data, CallbackCheckPaymentPrefix):
		return b.confirmPayment(ctx, chatID, userID, messageID, callbackID, strings.TrimPrefix(data, CallbackCheckPaymentPrefix))
	case data == CallbackBuyPremium:
		_ = b.bot.AnswerCallback(ctx, callbackID, "", false)
		_, allowance, err := b.Entitlements.Status(ctx, userID)
		if err != nil {
			logging.With(ctx, b.log).Warn().Err(err).Msg("buy: status failed")
		}
		return b.sendOffer(ctx, chatID, userID, offerCommand, allowance)
	default:
		return b.bot.AnswerCallback(ctx, callbackID, "", false)
	}
}

func (b *BotFacade) confirmPayment(ctx context.Context, chatID, userID int64, messageID int, callbackID, paymentID string) error {
	log := logging.With(ctx, b.log)
	out, err := b.Payments.Confirm(ctx, userID, paymentID)
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		return b.bot.AnswerCallback(ctx, callbackID, b.tr.T("payment_already_settled"), true)
	case err != nil:
		log.Warn().Err(err).Str("payment_id", paymentID).Msg("payment check failed")
		return b.bot.AnswerCallback(ctx, callbackID, b.tr.T("payment_check_failed"), true)
	case !out.Paid:
		return b.bot.AnswerCallback(ctx, callbackID, b.tr.T("payment_pending_alert"), true)
	}

	text := b.tr.T("payment_confirmed", out.GrantedDays)
	if err := b.bot.EditMessage(ctx, chatID, messageID, text); err != nil {
		_, _ = b.bot.SendText(ctx, chatID, text, nil)
	}
	return b.bot.AnswerCallback(ctx, callbackID, b.tr.T("payment_approved_toast"), false)
}

// NotifySettled tells a user about a payment settled by webhook or reconciler.
// Private chats share the user id.
func (b *BotFacade) NotifySettled(ctx context.Context, out *model.PaymentOutcome) {
	if out == nil || !out.Paid || b.bot == nil {
		return
	}
	if _, err := b.bot.SendText(ctx, out.UserID, b.tr.T("payment_confirmed", out.GrantedDays), nil); err != nil {
		logging.With(ctx, b.log).Warn().Err(err).Int64("user_id", out.UserID).Msg("settlement notice not sent")
	}
}

func (b *BotFacade) sendOffer(ctx context.Context, chatID, userID int64, reason offerReason, allowance model.Allowance) error {
	charge, err := b.Payments.StartPurchase(ctx, userID)
	if err != nil {
		logging.With(ctx, b.log).Error().Err(err).Msg("offer: charge not created")
		_, err = b.bot.SendText(ctx, chatID, b.tr.T("offer_unavailable"), nil)
		return err
	}

	header := b.tr.T("offer_header_command")
	switch {
	case allowance.PremiumExpiry != nil && !allowance.IsPremium:
		header = b.tr.T("offer_header_expired")
	case reason == offerLimitReached:
		header = b.tr.T("offer_header_limit_reached")
	}
	text := b.tr.T("offer_body", header) + "\n\n" +
		b.tr.T("offer_pix", b.Payments.PremiumDays(), formatBRL(charge.Amount), charge.PixCode)

	rows := [][]adapter.InlineButton{
		{{Text: b.tr.T("button_check_payment"), Data: CallbackCheckPaymentPrefix + charge.PaymentID}},
	}
	if b.supportURL != "" {
		rows = append(rows, []adapter.InlineButton{{Text: b.tr.T("button_support"), URL: b.supportURL}})
	}
	_, err = b.bot.SendText(ctx, chatID, text, rows)
	return err
}

func (b *BotFacade) footer(a model.Allowance) string {
	if a.IsPremium {
		return b.tr.T("footer_premium")
	}
	return b.tr.T("footer_free", a.DownloadsLeft, a.DailyLimit)
}

// extractLink returns the first supported link in text, or "".
func (b *BotFacade) extractLink(text string) string {
	text = strings.TrimSpace(text)
	for _, f := range strings.Fields(text) {
		if b.links.IsSupportedLink(f) {
			return f
		}
	}
	return ""
}

func formatDate(t time.Time) string { return t.Format("02/01/2006") }

func formatBRL(cents int64) string {
	return fmt.Sprintf("%d,%02d", cents/100, cents%100)
}
