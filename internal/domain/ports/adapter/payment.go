package adapter

import (
	"context"

	"shopee-video-bot/internal/domain/model"
)

// PaymentGateway is the hex port for payment providers. The provider is
// authoritative on whether a charge was paid.
type PaymentGateway interface {
	Name() string

	// CreateCharge opens a charge of amount (cents) for the user.
	CreateCharge(ctx context.Context, userID int64, amount int64, description string) (*model.Charge, error)
	// CheckStatus reports whether the charge has been paid.
	CheckStatus(ctx context.Context, paymentID string) (paid bool, err error)
}
