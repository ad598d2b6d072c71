// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/domain/ports/repository"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// StartPurchase opens a charge with the gateway and records the pending order.
	StartPurchase(ctx context.Context, userID int64) (*model.Charge, error)
	// Confirm is the user-initiated check. The gateway decides whether the
	// charge was paid; each payment id is granted at most once, even after
	// its pending order has expired.
	Confirm(ctx context.Context, userID int64, paymentID string) (*model.PaymentOutcome, error)
	// Settle is the server-side path (webhook, reconciler). It only acts on
	// known pending orders.
	Settle(ctx context.Context, paymentID string) (*model.PaymentOutcome, error)
	// ReconcilePending re-checks orders older than minAge and returns how many settled.
	ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (int, error)
	PremiumDays() int
	Price() int64
}

// SettlementHook is told about payments settled outside a user interaction.
type SettlementHook func(ctx context.Context, out *model.PaymentOutcome)

type paymentUC struct {
	orders       repository.PendingOrderRepository
	gateway      adapter.PaymentGateway
	entitlements EntitlementUseCase
	priceCents   int64
	premiumDays  int
	onSettled    SettlementHook
	now          func() time.Time
	log          *zerolog.Logger
}

type PaymentOption func(*paymentUC)

func WithSettlementHook(h SettlementHook) PaymentOption {
	return func(u *paymentUC) { u.onSettled = h }
}

func WithPaymentClock(now func() time.Time) PaymentOption {
	return func(u *paymentUC) { u.now = now }
}

func NewPaymentUseCase(orders repository.PendingOrderRepository, gateway adapter.PaymentGateway, entitlements EntitlementUseCase, priceCents int64, premiumDays int, logger *zerolog.Logger, opts ...PaymentOption) *paymentUC {
	if premiumDays <= 0 {
		premiumDays = model.DefaultPremiumDays
	}
	u := &paymentUC{
		orders:       orders,
		gateway:      gateway,
		entitlements: entitlements,
		priceCents:   priceCents,
		premiumDays:  premiumDays,
		now:          time.Now,
		log:          logger,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *paymentUC) PremiumDays() int { return u.premiumDays }
func (u *paymentUC) Price() int64     { return u.priceCents }

func (u *paymentUC) StartPurchase(ctx context.Context, userID int64) (*model.Charge, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.StartPurchase")()

	desc := fmt.Sprintf("Premium %d dias", u.premiumDays)
	charge, err := u.gateway.CreateCharge(ctx, userID, u.priceCents, desc)
	if err != nil {
		metrics.IncPayment("create_failed")
		return nil, gatewayErr(err)
	}
	amount := charge.Amount
	if amount == 0 {
		amount = u.priceCents
	}
	order, err := model.NewPendingOrder(charge.PaymentID, userID, u.premiumDays, amount, u.now())
	if err != nil {
		return nil, fmt.Errorf("gateway returned an unusable charge: %w", err)
	}
	if err := u.orders.Put(ctx, order); err != nil {
		return nil, err
	}
	metrics.IncPayment("created")
	logging.With(ctx, u.log).Info().Str("payment_id", charge.PaymentID).Str("provider", charge.Provider).
		Int64("amount", amount).Msg("charge created")
	return charge, nil
}

func (u *paymentUC) Confirm(ctx context.Context, userID int64, paymentID string) (*model.PaymentOutcome, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Confirm")()
	log := logging.With(ctx, u.log)

	if paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	// Settled orders never reach the gateway again.
	if o, err := u.orders.Peek(ctx, paymentID); err == nil && o.Settled {
		return nil, domain.ErrAlreadySettled
	}
	// The pending store forgets; the ledger does not.
	settled, err := u.entitlements.PaymentSettled(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if settled {
		return nil, domain.ErrAlreadySettled
	}

	paid, err := u.gateway.CheckStatus(ctx, paymentID)
	if err != nil {
		metrics.IncPayment("check_failed")
		return nil, gatewayErr(err)
	}
	if !paid {
		metrics.IncPayment("pending")
		return &model.PaymentOutcome{Paid: false, UserID: userID}, nil
	}

	out := &model.PaymentOutcome{Paid: true, UserID: userID, GrantedDays: u.premiumDays}
	order, err := u.orders.Take(ctx, paymentID)
	switch {
	case err == nil:
		out.UserID = order.UserID
		out.GrantedDays = order.GrantedDays
	case errors.Is(err, domain.ErrNotFound):
		// Lost on restart or evicted; the gateway already said it is paid.
		out.OrderLost = true
		log.Warn().Str("payment_id", paymentID).Msg("paid charge without pending order, applying default grant")
	default:
		return nil, err
	}
	if out.UserID == 0 {
		return nil, domain.ErrInvalidArgument
	}

	exp, err := u.entitlements.GrantPremiumForPayment(ctx, out.UserID, out.GrantedDays, paymentID)
	if errors.Is(err, domain.ErrAlreadySettled) {
		log.Info().Str("payment_id", paymentID).Msg("payment already granted")
		return nil, err
	}
	if err != nil {
		if order != nil {
			// put it back so a retry can still settle it
			if perr := u.orders.Put(ctx, order); perr != nil {
				log.Error().Err(perr).Str("payment_id", paymentID).Msg("failed to restore pending order")
			}
		}
		return nil, err
	}
	out.PremiumExpiry = exp

	source := "payment"
	if out.OrderLost {
		source = "payment_fallback"
		// remember the id so another press does not grant again
		marker := &model.PendingOrder{PaymentID: paymentID, UserID: out.UserID, GrantedDays: out.GrantedDays, CreatedAt: u.now(), Settled: true}
		if perr := u.orders.Put(ctx, marker); perr != nil {
			log.Warn().Err(perr).Str("payment_id", paymentID).Msg("failed to record settled marker")
		}
	}
	metrics.IncPayment("paid")
	metrics.IncPremiumGrant(source, out.GrantedDays)
	if order != nil {
		metrics.AddPaymentRevenue("brl", order.Amount)
	}
	log.Info().Str("payment_id", paymentID).Int64("user_id", out.UserID).Time("premium_expiry", exp).Msg("payment settled")
	return out, nil
}

func (u *paymentUC) Settle(ctx context.Context, paymentID string) (*model.PaymentOutcome, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.Settle")()

	order, err := u.orders.Peek(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if order.Settled {
		return nil, domain.ErrAlreadySettled
	}
	out, err := u.Confirm(ctx, order.UserID, paymentID)
	if err != nil {
		return nil, err
	}
	if out.Paid && u.onSettled != nil {
		u.onSettled(ctx, out)
	}
	return out, nil
}

func (u *paymentUC) ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ReconcilePending")()

	pending, err := u.orders.ListPending(ctx, u.now().Add(-minAge), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, o := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		out, err := u.Settle(ctx, o.PaymentID)
		switch {
		case err == nil && out.Paid:
			settled++
			metrics.IncReconciler("settled")
		case err == nil:
			metrics.IncReconciler("pending")
		case errors.Is(err, domain.ErrAlreadySettled), errors.Is(err, domain.ErrNotFound):
			metrics.IncReconciler("skipped")
		default:
			metrics.IncReconciler("error")
			u.log.Warn().Err(err).Str("payment_id", o.PaymentID).Msg("reconcile: settle failed")
		}
	}
	return settled, nil
}

func gatewayErr(err error) error {
	if errors.Is(err, domain.ErrPaymentGateway) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPaymentGateway, err)
}
