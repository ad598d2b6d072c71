package adapter

import "context"

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// Chat actions understood by SendChatAction.
const (
	ActionTyping      = "typing"
	ActionUploadVideo = "upload_video"
)

// TelegramBotAdapter is the outbound side of the messaging transport.
// Delivery is best-effort; callers log failures and move on.
type TelegramBotAdapter interface {
	// SendText sends a Markdown message, optionally with inline keyboard rows,
	// and returns the new message id.
	SendText(ctx context.Context, chatID int64, text string, rows [][]InlineButton) (int, error)
	SendMedia(ctx context.Context, chatID int64, filePath, caption string) error
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}
