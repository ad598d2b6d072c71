package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"shopee-video-bot/internal/config"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/infra/i18n"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"
	red "shopee-video-bot/internal/infra/redis"
)

var _ adapter.TelegramBotAdapter = (*RealTelegramBotAdapter)(nil)

// UpdateHandler is the application side of the bot. *application.BotFacade satisfies it.
type UpdateHandler interface {
	HandleStart(ctx context.Context, chatID int64) error
	HandlePlan(ctx context.Context, chatID, userID int64) error
	HandleText(ctx context.Context, chatID, userID int64, text string) error
	HandleCallback(ctx context.Context, chatID, userID int64, messageID int, callbackID, data string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// botAPI is the part of *tgbotapi.BotAPI the adapter calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

const (
	messagesPerMinute  = 20
	callbacksPerMinute = 30
)

// SecretTokenHeader carries the secret_token given to setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// RealTelegramBotAdapter receives updates (long polling or webhook), fans them
// out to a fixed number of workers and implements the outbound port.
type RealTelegramBotAdapter struct {
	api         botAPI
	bot         *tgbotapi.BotAPI
	cfg         *config.BotConfig
	handler     UpdateHandler
	rateLimiter RateLimiter
	tr          *i18n.Translator
	log         *zerolog.Logger

	updates       chan tgbotapi.Update
	updateWorkers int
}

func NewRealTelegramBotAdapter(cfg *config.BotConfig, handler UpdateHandler, rateLimiter RateLimiter, tr *i18n.Translator, logger *zerolog.Logger) (*RealTelegramBotAdapter, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	r := newAdapter(bot, cfg, handler, rateLimiter, tr, logger)
	r.bot = bot
	logger.Info().Str("username", bot.Self.UserName).Msg("telegram bot authorized")
	return r, nil
}

func newAdapter(api botAPI, cfg *config.BotConfig, handler UpdateHandler, rateLimiter RateLimiter, tr *i18n.Translator, logger *zerolog.Logger) *RealTelegramBotAdapter {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	return &RealTelegramBotAdapter{
		api:           api,
		cfg:           cfg,
		handler:       handler,
		rateLimiter:   rateLimiter,
		tr:            tr,
		log:           logger,
		updates:       make(chan tgbotapi.Update, 100),
		updateWorkers: workers,
	}
}

// SetHandler wires the facade after construction.
func (r *RealTelegramBotAdapter) SetHandler(h UpdateHandler) { r.handler = h }

// Start runs the update workers until ctx ends. In polling mode it also
// pulls updates from Telegram; in webhook mode updates arrive through
// HandleWebhook.
func (r *RealTelegramBotAdapter) Start(ctx context.Context) error {
	if r.handler == nil {
		return errors.New("telegram: update handler not set")
	}
	var wg sync.WaitGroup
	for i := 0; i < r.updateWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case up := <-r.updates:
					r.process(ctx, id, up)
				}
			}
		}(i)
	}
	defer wg.Wait()

	if strings.EqualFold(r.cfg.Mode, "webhook") {
		if err := r.registerWebhook(); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return r.poll(ctx)
}

func (r *RealTelegramBotAdapter) poll(ctx context.Context) error {
	if r.bot == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	// a leftover webhook blocks getUpdates
	if _, err := r.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		r.log.Warn().Err(err).Msg("failed to delete webhook before polling")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)
	defer r.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *RealTelegramBotAdapter) registerWebhook() error {
	if r.bot == nil {
		return nil
	}
	wh, err := tgbotapi.NewWebhook(r.cfg.WebhookURL)
	if err != nil {
		return err
	}
	// WebhookConfig in this client version has no secret_token field.
	params := tgbotapi.Params{"url": wh.URL.String()}
	params.AddNonEmpty("secret_token", r.cfg.WebhookSecret)
	if _, err := r.bot.MakeRequest("setWebhook", params); err != nil {
		return err
	}
	r.log.Info().Str("url", r.cfg.WebhookURL).Bool("secret", r.cfg.WebhookSecret != "").Msg("telegram webhook registered")
	return nil
}

// HandleWebhook accepts one update pushed by Telegram. When a secret is
// configured, requests without the matching header are rejected.
func (r *RealTelegramBotAdapter) HandleWebhook(w http.ResponseWriter, req *http.Request) {
	if !r.authorized(req) {
		metrics.IncTelegramUpdate("unauthorized")
		r.log.Warn().Str("remote", req.RemoteAddr).Msg("webhook push with a bad secret token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var up tgbotapi.Update
	if err := json.NewDecoder(req.Body).Decode(&up); err != nil {
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	select {
	case r.updates <- up:
		w.WriteHeader(http.StatusOK)
	case <-req.Context().Done():
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (r *RealTelegramBotAdapter) authorized(req *http.Request) bool {
	want := r.cfg.WebhookSecret
	if want == "" {
		return true
	}
	got := req.Header.Get(SecretTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (r *RealTelegramBotAdapter) process(ctx context.Context, worker int, up tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Int("worker", worker).Msg("update handler panicked")
		}
	}()
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	if err := r.handleUpdate(ctx, up); err != nil {
		logging.With(ctx, r.log).Warn().Err(err).Int("worker", worker).Int("update_id", up.UpdateID).Msg("update failed")
	}
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, up tgbotapi.Update) error {
	switch {
	case up.CallbackQuery != nil:
		metrics.IncTelegramUpdate("callback")
		return r.handleQuery(ctx, up.CallbackQuery)
	case up.Message != nil:
		metrics.IncTelegramUpdate("message")
		return r.handleMessage(ctx, up.Message)
	default:
		metrics.IncTelegramUpdate("other")
		return nil
	}
}

// allow applies the per-user limit. Limiter errors let the update through.
func (r *RealTelegramBotAdapter) allow(ctx context.Context, userID int64, command string, limit int) bool {
	if r.rateLimiter == nil {
		return true
	}
	ok, err := r.rateLimiter.Allow(ctx, red.UserCommandKey(userID, command), limit, time.Minute)
	if err != nil {
		logging.With(ctx, r.log).Warn().Err(err).Msg("rate limit check failed")
		return true
	}
	if !ok {
		metrics.IncRateLimitTriggered()
	}
	return ok
}

// ---- outbound port ----

func (r *RealTelegramBotAdapter) SendText(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if kb := inlineKeyboard(rows); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := r.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (r *RealTelegramBotAdapter) SendMedia(ctx context.Context, chatID int64, filePath, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(filePath))
	v.Caption = caption
	v.ParseMode = tgbotapi.ModeMarkdown
	v.SupportsStreaming = true
	_, err := r.api.Send(v)
	return err
}

func (r *RealTelegramBotAdapter) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err := r.api.Request(edit)
	return err
}

func (r *RealTelegramBotAdapter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (r *RealTelegramBotAdapter) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if callbackID == "" {
		return nil
	}
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := r.api.Request(cb)
	return err
}

func (r *RealTelegramBotAdapter) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := r.api.Request(tgbotapi.NewChatAction(chatID, action))
	return err
}

// inlineKeyboard builds markup from rows; URL buttons win over data buttons.
func inlineKeyboard(rows [][]adapter.InlineButton) *tgbotapi.InlineKeyboardMarkup {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, r)
	}
	if len(kbRows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	return &markup
}
