package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shopee-video-bot/internal/infra/logging"
)

func (r *RealTelegramBotAdapter) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query == nil || query.From == nil {
		return errors.New("invalid callback query")
	}
	userID := query.From.ID
	chatID := userID
	messageID := 0
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
		messageID = query.Message.MessageID
	}
	ctx = logging.WithChatID(logging.WithUserID(ctx, userID), chatID)

	data := strings.TrimSpace(query.Data)
	// one bucket per action so a payment check is not starved by offer spam
	bucket := "cb:" + data
	if i := strings.LastIndexByte(data, '_'); i > 0 {
		bucket = "cb:" + data[:i]
	}
	if !r.allow(ctx, userID, bucket, callbacksPerMinute) {
		return r.AnswerCallback(ctx, query.ID, r.tr.T("rate_limited"), true)
	}
	return r.handler.HandleCallback(ctx, chatID, userID, messageID, query.ID, data)
}
