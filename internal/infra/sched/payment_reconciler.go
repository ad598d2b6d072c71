package sched

import (
	"context"
	"time"

	"shopee-video-bot/internal/usecase"

	"github.com/rs/zerolog"
)

// PaymentReconciler re-checks pending orders whose webhook never arrived
// (or arrived while the process was down) and settles the paid ones.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{uc: uc, interval: interval, staleAfter: staleAfter, batch: 200, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	return runEvery(ctx, w.log, w.interval, 2*time.Minute, w.tick)
}

func (w *PaymentReconciler) tick(ctx context.Context) error {
	n, err := w.uc.ReconcilePending(ctx, w.staleAfter, w.batch)
	if n > 0 {
		w.log.Info().Int("count", n).Msg("pending payments reconciled")
	}
	return err
}
