package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"shopee-video-bot/internal/infra/logging"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

// commandRoutes maps bot commands (without the slash) to handlers.
func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":     r.handleStartCommand,
		"help":      r.handleStartCommand,
		"plano":     r.handlePlanCommand,
		"ilimitado": r.handlePlanCommand,
		"plan":      r.handlePlanCommand,
		"premium":   r.handlePlanCommand,
	}
}

func (r *RealTelegramBotAdapter) handleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil || message.Chat == nil {
		return nil
	}
	userID, chatID := message.From.ID, message.Chat.ID
	ctx = logging.WithChatID(logging.WithUserID(ctx, userID), chatID)

	command := "message"
	if message.IsCommand() {
		command = strings.ToLower(message.Command())
	}
	if !r.allow(ctx, userID, command, messagesPerMinute) {
		_, err := r.SendText(ctx, chatID, r.tr.T("rate_limited"), nil)
		return err
	}

	if message.IsCommand() {
		if fn, ok := r.commandRoutes()[command]; ok {
			return fn(ctx, message)
		}
	}
	// links and anything else
	return r.handler.HandleText(ctx, chatID, userID, message.Text)
}

func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.handler.HandleStart(ctx, message.Chat.ID)
}

func (r *RealTelegramBotAdapter) handlePlanCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.handler.HandlePlan(ctx, message.Chat.ID, message.From.ID)
}
