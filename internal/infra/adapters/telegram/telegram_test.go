//go:build !integration

package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"shopee-video-bot/internal/config"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/infra/i18n"
)

type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

type call struct {
	Kind    string
	ChatID  int64
	UserID  int64
	Payload string
	MsgID   int
}

type fakeHandler struct{ calls []call }

func (h *fakeHandler) HandleStart(_ context.Context, chatID int64) error {
	h.calls = append(h.calls, call{Kind: "start", ChatID: chatID})
	return nil
}
func (h *fakeHandler) HandlePlan(_ context.Context, chatID, userID int64) error {
	h.calls = append(h.calls, call{Kind: "plan", ChatID: chatID, UserID: userID})
	return nil
}
func (h *fakeHandler) HandleText(_ context.Context, chatID, userID int64, text string) error {
	h.calls = append(h.calls, call{Kind: "text", ChatID: chatID, UserID: userID, Payload: text})
	return nil
}
func (h *fakeHandler) HandleCallback(_ context.Context, chatID, userID int64, messageID int, _ string, data string) error {
	h.calls = append(h.calls, call{Kind: "callback", ChatID: chatID, UserID: userID, Payload: data, MsgID: messageID})
	return nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func newTestAdapter(t *testing.T, limiter RateLimiter) (*RealTelegramBotAdapter, *fakeAPI, *fakeHandler) {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	api, h := &fakeAPI{}, &fakeHandler{}
	logger := zerolog.Nop()
	return newAdapter(api, &config.BotConfig{Workers: 1}, h, limiter, tr, &logger), api, h
}

func command(text string, userID int64) tgbotapi.Update {
	msg := &tgbotapi.Message{
		Text: text,
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return tgbotapi.Update{Message: msg}
}

func TestRealTelegramBotAdapter_Routing(t *testing.T) {
	ctx := context.Background()

	t.Run("should route commands and aliases", func(t *testing.T) {
		r, _, h := newTestAdapter(t, nil)
		for _, text := range []string{"/start", "/help", "/plano", "/ilimitado", "/premium"} {
			if err := r.handleUpdate(ctx, command(text, 42)); err != nil {
				t.Fatalf("%s: %v", text, err)
			}
		}
		kinds := []string{"start", "start", "plan", "plan", "plan"}
		for i, k := range kinds {
			if h.calls[i].Kind != k {
				t.Errorf("call %d: expected %s, got %s", i, k, h.calls[i].Kind)
			}
		}
	})

	t.Run("should pass plain text and unknown commands to the text flow", func(t *testing.T) {
		r, _, h := newTestAdapter(t, nil)
		_ = r.handleUpdate(ctx, command("https://shopee.com.br/v/1", 42))
		_ = r.handleUpdate(ctx, command("/whatever", 42))
		if len(h.calls) != 2 || h.calls[0].Kind != "text" || h.calls[0].Payload != "https://shopee.com.br/v/1" || h.calls[1].Kind != "text" {
			t.Errorf("unexpected calls %+v", h.calls)
		}
	})

	t.Run("should pass callback data with the message id", func(t *testing.T) {
		r, _, h := newTestAdapter(t, nil)
		up := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			From:    &tgbotapi.User{ID: 42},
			Data:    "check_pay_pay-1",
			Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 42}},
		}}
		_ = r.handleUpdate(ctx, up)
		if len(h.calls) != 1 || h.calls[0].Payload != "check_pay_pay-1" || h.calls[0].MsgID != 9 {
			t.Errorf("unexpected calls %+v", h.calls)
		}
	})

	t.Run("should answer with a notice when rate limited", func(t *testing.T) {
		l := &fakeLimiter{allow: false}
		r, api, h := newTestAdapter(t, l)
		_ = r.handleUpdate(ctx, command("https://shopee.com.br/v/1", 42))
		if len(h.calls) != 0 || len(api.sent) != 1 {
			t.Errorf("expected only the rate limit notice, calls=%v sent=%d", h.calls, len(api.sent))
		}
		if l.keys[0] != "rate_limit:42:message" {
			t.Errorf("unexpected limiter key %q", l.keys[0])
		}
	})

	t.Run("should bucket payment checks together", func(t *testing.T) {
		l := &fakeLimiter{allow: true}
		r, _, _ := newTestAdapter(t, l)
		up := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb", From: &tgbotapi.User{ID: 42}, Data: "check_pay_abc"}}
		_ = r.handleUpdate(ctx, up)
		if l.keys[0] != "rate_limit:42:cb:check_pay" {
			t.Errorf("unexpected limiter key %q", l.keys[0])
		}
	})

	t.Run("should let updates through when the limiter fails", func(t *testing.T) {
		r, _, h := newTestAdapter(t, &fakeLimiter{err: errors.New("redis down")})
		_ = r.handleUpdate(ctx, command("/start", 42))
		if len(h.calls) != 1 {
			t.Errorf("expected the update to be handled, got %+v", h.calls)
		}
	})
}

func TestRealTelegramBotAdapter_Outbound(t *testing.T) {
	ctx := context.Background()

	t.Run("should send markdown text with a keyboard", func(t *testing.T) {
		r, api, _ := newTestAdapter(t, nil)
		rows := [][]adapter.InlineButton{
			{{Text: "Pay", Data: "check_pay_1"}},
			{{Text: "Help", URL: "https://t.me/support"}},
		}
		id, err := r.SendText(ctx, 42, "*hi*", rows)
		if err != nil || id != 1 {
			t.Fatalf("unexpected result %d %v", id, err)
		}
		msg, ok := api.sent[0].(tgbotapi.MessageConfig)
		if !ok {
			t.Fatalf("unexpected chattable %T", api.sent[0])
		}
		kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		if msg.ParseMode != tgbotapi.ModeMarkdown || !ok || len(kb.InlineKeyboard) != 2 {
			t.Errorf("unexpected message %+v", msg)
		}
		if kb.InlineKeyboard[1][0].URL == nil || *kb.InlineKeyboard[1][0].URL != "https://t.me/support" {
			t.Errorf("expected a url button, got %+v", kb.InlineKeyboard[1][0])
		}
	})

	t.Run("should send an alert callback answer", func(t *testing.T) {
		r, api, _ := newTestAdapter(t, nil)
		_ = r.AnswerCallback(ctx, "cb-1", "not yet", true)
		cb, ok := api.requests[0].(tgbotapi.CallbackConfig)
		if !ok || !cb.ShowAlert || cb.Text != "not yet" {
			t.Errorf("unexpected callback %+v", api.requests[0])
		}
	})

	t.Run("should skip the keyboard when no rows are given", func(t *testing.T) {
		if inlineKeyboard(nil) != nil || inlineKeyboard([][]adapter.InlineButton{{}}) != nil {
			t.Error("expected no markup")
		}
	})
}

func TestRealTelegramBotAdapter_HandleWebhook(t *testing.T) {
	r, _, _ := newTestAdapter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(`{"update_id":7,"message":{"message_id":1,"text":"hi"}}`))
	rec := httptest.NewRecorder()
	r.HandleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case up := <-r.updates:
		if up.UpdateID != 7 {
			t.Errorf("unexpected update %+v", up)
		}
	default:
		t.Fatal("update was not queued")
	}

	bad := httptest.NewRecorder()
	r.HandleWebhook(bad, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{")))
	if bad.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", bad.Code)
	}
}

func TestRealTelegramBotAdapter_HandleWebhookSecret(t *testing.T) {
	body := `{"update_id":9,"message":{"message_id":1,"text":"https://shopee.com.br/video"}}`
	newSecured := func(t *testing.T) *RealTelegramBotAdapter {
		r, _, _ := newTestAdapter(t, nil)
		r.cfg.WebhookSecret = "hook-secret"
		return r
	}

	t.Run("should reject a push without the secret header", func(t *testing.T) {
		// --- Arrange ---
		r := newSecured(t)
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		rec := httptest.NewRecorder()

		// --- Act ---
		r.HandleWebhook(rec, req)

		// --- Assert ---
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if len(r.updates) != 0 {
			t.Error("a forged update must not be queued")
		}
	})

	t.Run("should reject a push with the wrong secret", func(t *testing.T) {
		r := newSecured(t)
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		req.Header.Set(SecretTokenHeader, "hook-secreT")
		rec := httptest.NewRecorder()

		r.HandleWebhook(rec, req)

		if rec.Code != http.StatusUnauthorized || len(r.updates) != 0 {
			t.Fatalf("expected 401 and nothing queued, got %d with %d queued", rec.Code, len(r.updates))
		}
	})

	t.Run("should queue a push carrying the secret", func(t *testing.T) {
		r := newSecured(t)
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		req.Header.Set(SecretTokenHeader, "hook-secret")
		rec := httptest.NewRecorder()

		r.HandleWebhook(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if up := <-r.updates; up.UpdateID != 9 {
			t.Errorf("unexpected update %+v", up)
		}
	})
}
