package model

import (
	"time"

	"shopee-video-bot/internal/domain"
)

// DefaultPremiumDays is granted when a confirmed payment has no pending order left.
const DefaultPremiumDays = 30

// Charge is what the gateway hands back when a payment is initiated.
type Charge struct {
	PaymentID string
	Provider  string // e.g. "pushinpay"
	Amount    int64  // cents (BRL)
	PayURL    string // optional checkout link
	PixCode   string // Pix copy-paste payload
}

// PendingOrder correlates a gateway payment id with the grant it pays for.
type PendingOrder struct {
	PaymentID   string    `json:"payment_id"`
	UserID      int64     `json:"user_id"`
	GrantedDays int       `json:"granted_days"`
	Amount      int64     `json:"amount"`
	CreatedAt   time.Time `json:"created_at"`
	Settled     bool      `json:"settled"`
}

func NewPendingOrder(paymentID string, userID int64, days int, amount int64, now time.Time) (*PendingOrder, error) {
	if paymentID == "" || userID == 0 || days <= 0 || amount < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &PendingOrder{
		PaymentID:   paymentID,
		UserID:      userID,
		GrantedDays: days,
		Amount:      amount,
		CreatedAt:   now,
	}, nil
}

// PaymentOutcome is the result of confirming a payment.
type PaymentOutcome struct {
	Paid          bool
	UserID        int64
	GrantedDays   int
	PremiumExpiry time.Time
	OrderLost     bool // no pending order was found; fallback days applied
}

// SettledPayment is the durable record that a paid charge was already granted.
type SettledPayment struct {
	PaymentID   string
	UserID      int64
	GrantedDays int
	SettledAt   time.Time
}
