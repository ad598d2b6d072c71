package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/repository"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase owns the per-user quota and premium state.
// Every mutation is committed before the call returns.
type EntitlementUseCase interface {
	// CheckAllowance lazily creates the record and applies the day rollover
	// before evaluating.
	CheckAllowance(ctx context.Context, userID int64) (model.Allowance, error)
	// IncrementUsage counts one delivered download. Only call it after the
	// media is on disk.
	IncrementUsage(ctx context.Context, userID int64) (model.Allowance, error)
	// GrantPremium stacks days onto a running premium or restarts it from today.
	GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error)
	// GrantPremiumForPayment grants days at most once per payment id. The
	// claim and the grant commit together; a second call for the same id
	// returns domain.ErrAlreadySettled.
	GrantPremiumForPayment(ctx context.Context, userID int64, days int, paymentID string) (time.Time, error)
	// PaymentSettled reports whether a payment id was already granted.
	PaymentSettled(ctx context.Context, paymentID string) (bool, error)
	// Status reads the record without creating or mutating it. Unknown users
	// get a zeroed record.
	Status(ctx context.Context, userID int64) (*model.UserEntitlement, model.Allowance, error)
	// Lookup is Status for stored records only; unknown users yield domain.ErrNotFound.
	Lookup(ctx context.Context, userID int64) (*model.UserEntitlement, model.Allowance, error)
	Stats(ctx context.Context) (total, premium int, err error)
}

// optimistic retries when no transaction manager is wired
const casAttempts = 5

type entitlementUC struct {
	repo       repository.EntitlementRepository
	tm         repository.TransactionManager
	settled    repository.SettledPaymentRepository
	dailyLimit int
	now        func() time.Time
	log        *zerolog.Logger
}

type EntitlementOption func(*entitlementUC)

// WithClock overrides time.Now; tests use it to move across days.
func WithClock(now func() time.Time) EntitlementOption {
	return func(u *entitlementUC) { u.now = now }
}

func WithDailyLimit(n int) EntitlementOption {
	return func(u *entitlementUC) {
		if n > 0 {
			u.dailyLimit = n
		}
	}
}

// WithSettledPayments wires the durable ledger of granted payment ids.
// Without it GrantPremiumForPayment behaves like GrantPremium.
func WithSettledPayments(repo repository.SettledPaymentRepository) EntitlementOption {
	return func(u *entitlementUC) { u.settled = repo }
}

// NewEntitlementUseCase builds the store. tm may be nil, in which case
// mutations fall back to compare-and-swap on the record's UpdatedAt.
func NewEntitlementUseCase(repo repository.EntitlementRepository, tm repository.TransactionManager, logger *zerolog.Logger, opts ...EntitlementOption) *entitlementUC {
	u := &entitlementUC{
		repo:       repo,
		tm:         tm,
		dailyLimit: model.DefaultDailyLimit,
		now:        time.Now,
		log:        logger,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

func (u *entitlementUC) CheckAllowance(ctx context.Context, userID int64) (model.Allowance, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.CheckAllowance")()

	var out model.Allowance
	err := u.mutate(ctx, "check_allowance", userID, nil, func(e *model.UserEntitlement, now time.Time) bool {
		changed := e.Rollover(now)
		out = e.Allowance(now, u.dailyLimit)
		return changed
	})
	return out, err
}

func (u *entitlementUC) IncrementUsage(ctx context.Context, userID int64) (model.Allowance, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.IncrementUsage")()

	var out model.Allowance
	err := u.mutate(ctx, "increment_usage", userID, nil, func(e *model.UserEntitlement, now time.Time) bool {
		e.RecordDownload(now)
		out = e.Allowance(now, u.dailyLimit)
		return true
	})
	return out, err
}

func (u *entitlementUC) GrantPremium(ctx context.Context, userID int64, days int) (time.Time, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.GrantPremium")()
	return u.grant(ctx, userID, days, "")
}

func (u *entitlementUC) GrantPremiumForPayment(ctx context.Context, userID int64, days int, paymentID string) (time.Time, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.GrantPremiumForPayment")()

	if paymentID == "" {
		return time.Time{}, domain.ErrInvalidArgument
	}
	return u.grant(ctx, userID, days, paymentID)
}

func (u *entitlementUC) PaymentSettled(ctx context.Context, paymentID string) (bool, error) {
	if u.settled == nil || paymentID == "" {
		return false, nil
	}
	_, err := u.settled.Get(ctx, repository.NoTX, paymentID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, u.storeErr("payment_settled", err)
	}
}

func (u *entitlementUC) grant(ctx context.Context, userID int64, days int, paymentID string) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, domain.ErrInvalidArgument
	}
	var claim *model.SettledPayment
	if paymentID != "" && u.settled != nil {
		claim = &model.SettledPayment{PaymentID: paymentID, UserID: userID, GrantedDays: days}
	}
	var exp time.Time
	err := u.mutate(ctx, "grant_premium", userID, claim, func(e *model.UserEntitlement, now time.Time) bool {
		e.Rollover(now)
		exp = e.ExtendPremium(now, days)
		return true
	})
	if err != nil {
		return time.Time{}, err
	}
	logging.With(ctx, u.log).Info().Int64("user_id", userID).Int("days", days).Str("payment_id", paymentID).
		Time("premium_expiry", exp).Msg("premium granted")
	return exp, nil
}

func (u *entitlementUC) Status(ctx context.Context, userID int64) (*model.UserEntitlement, model.Allowance, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Status")()

	e, a, err := u.lookup(ctx, userID)
	if !errors.Is(err, domain.ErrNotFound) {
		return e, a, err
	}
	now := u.clock()
	e, err = model.NewUserEntitlement(userID, now)
	if err != nil {
		return nil, model.Allowance{}, err
	}
	return e, e.Allowance(now, u.dailyLimit), nil
}

func (u *entitlementUC) Lookup(ctx context.Context, userID int64) (*model.UserEntitlement, model.Allowance, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Lookup")()
	return u.lookup(ctx, userID)
}

func (u *entitlementUC) lookup(ctx context.Context, userID int64) (*model.UserEntitlement, model.Allowance, error) {
	if userID == 0 {
		return nil, model.Allowance{}, domain.ErrInvalidArgument
	}
	e, err := u.repo.Get(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, model.Allowance{}, err
	}
	if err != nil {
		return nil, model.Allowance{}, u.storeErr("status", err)
	}
	return e, e.Allowance(u.clock(), u.dailyLimit), nil
}

func (u *entitlementUC) Stats(ctx context.Context) (int, int, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Stats")()

	total, err := u.repo.Count(ctx, repository.NoTX)
	if err != nil {
		return 0, 0, u.storeErr("count", err)
	}
	premium, err := u.repo.CountPremium(ctx, repository.NoTX, model.Today(u.clock()))
	if err != nil {
		return 0, 0, u.storeErr("count_premium", err)
	}
	return total, premium, nil
}

// mutate loads (or lazily creates) the record, applies fn and persists it
// when fn reports a change or the record is new. A non-nil claim is recorded
// in the settled ledger before fn runs; a taken claim aborts with
// domain.ErrAlreadySettled.
func (u *entitlementUC) mutate(ctx context.Context, op string, userID int64, claim *model.SettledPayment, fn func(e *model.UserEntitlement, now time.Time) bool) error {
	if userID == 0 {
		return domain.ErrInvalidArgument
	}
	if u.tm == nil {
		return u.mutateCAS(ctx, op, userID, claim, fn)
	}

	txOpts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		now := u.clock()
		if claim != nil {
			if err := u.claim(ctx, tx, claim, now); err != nil {
				return err
			}
		}
		e, err := u.lockOrCreate(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if !fn(e, now) {
			return nil
		}
		e.UpdatedAt = now
		return u.repo.Upsert(ctx, tx, e)
	})
	if err != nil {
		return u.storeErr(op, err)
	}
	return nil
}

// lockOrCreate returns the row locked for the rest of tx. A missing row is
// inserted only if still absent and then read back, so a concurrent first
// write is never overwritten by a fresh zero record.
func (u *entitlementUC) lockOrCreate(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (*model.UserEntitlement, error) {
	e, created, err := u.load(ctx, tx, userID, now)
	if err != nil || !created {
		return e, err
	}
	inserted, err := u.repo.CompareAndSwap(ctx, tx, time.Time{}, e)
	if err != nil {
		return nil, err
	}
	if inserted {
		metrics.IncUserCreated()
	} else {
		u.log.Debug().Int64("user_id", userID).Msg("entitlement created concurrently, re-reading")
	}
	return u.repo.Get(ctx, tx, userID)
}

func (u *entitlementUC) claim(ctx context.Context, tx repository.Tx, p *model.SettledPayment, now time.Time) error {
	p.SettledAt = now
	ok, err := u.settled.Record(ctx, tx, p)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAlreadySettled
	}
	return nil
}

func (u *entitlementUC) mutateCAS(ctx context.Context, op string, userID int64, claim *model.SettledPayment, fn func(e *model.UserEntitlement, now time.Time) bool) error {
	if claim != nil {
		if err := u.claim(ctx, repository.NoTX, claim, u.clock()); err != nil {
			return u.storeErr(op, err)
		}
	}
	err := u.casLoop(ctx, op, userID, fn)
	if err != nil && claim != nil {
		// release the id so a retry can still settle it
		if derr := u.settled.Delete(ctx, repository.NoTX, claim.PaymentID); derr != nil {
			u.log.Error().Err(derr).Str("payment_id", claim.PaymentID).Msg("failed to release settled payment claim")
		}
	}
	return err
}

func (u *entitlementUC) casLoop(ctx context.Context, op string, userID int64, fn func(e *model.UserEntitlement, now time.Time) bool) error {
	for i := 0; i < casAttempts; i++ {
		now := u.clock()
		e, created, err := u.load(ctx, repository.NoTX, userID, now)
		if err != nil {
			return u.storeErr(op, err)
		}
		expected := e.UpdatedAt
		if created {
			// zero means "insert only if absent"
			expected = time.Time{}
		}
		if !fn(e, now) && !created {
			return nil
		}
		e.UpdatedAt = now
		ok, err := u.repo.CompareAndSwap(ctx, repository.NoTX, expected, e)
		if err != nil {
			return u.storeErr(op, err)
		}
		if ok {
			if created {
				metrics.IncUserCreated()
			}
			return nil
		}
		u.log.Debug().Str("op", op).Int64("user_id", userID).Int("attempt", i+1).Msg("entitlement changed concurrently, retrying")
	}
	return u.storeErr(op, fmt.Errorf("compare-and-swap lost %d times", casAttempts))
}

func (u *entitlementUC) load(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (*model.UserEntitlement, bool, error) {
	e, err := u.repo.Get(ctx, tx, userID)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	e, err = model.NewUserEntitlement(userID, now)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (u *entitlementUC) storeErr(op string, err error) error {
	if errors.Is(err, domain.ErrStoreIO) || errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrAlreadySettled) {
		return err
	}
	metrics.IncStoreError(op)
	u.log.Error().Err(err).Str("op", op).Msg("entitlement store failure")
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreIO, op, err)
}

// clock keeps microsecond precision so UpdatedAt round-trips through Postgres.
func (u *entitlementUC) clock() time.Time {
	return u.now().UTC().Truncate(time.Microsecond)
}
