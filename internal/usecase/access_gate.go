package usecase

import (
	"context"
	"errors"
	"os"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/domain/ports/repository"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ AccessGate = (*accessGate)(nil)

// AccessGate runs check, attempt, increment-on-success for one request.
//
// A non-nil error means the entitlement store (or the per-user lock) failed;
// resolution failures come back as OutcomeFailed with a nil error.
type AccessGate interface {
	HandleRequest(ctx context.Context, userID int64, sourceURL string) (*model.GateResult, error)
}

type accessGate struct {
	entitlements EntitlementUseCase
	downloader   adapter.MediaDownloader
	locker       repository.UserLocker
	log          *zerolog.Logger
}

type GateOption func(*accessGate)

// WithUserLocker serializes check+download+increment per user. Without it two
// overlapping requests from the same user may both pass the check.
func WithUserLocker(l repository.UserLocker) GateOption {
	return func(g *accessGate) { g.locker = l }
}

func NewAccessGate(entitlements EntitlementUseCase, downloader adapter.MediaDownloader, logger *zerolog.Logger, opts ...GateOption) *accessGate {
	g := &accessGate{entitlements: entitlements, downloader: downloader, log: logger}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *accessGate) HandleRequest(ctx context.Context, userID int64, sourceURL string) (*model.GateResult, error) {
	defer logging.TraceDuration(g.log, "AccessGate.HandleRequest")()
	log := logging.With(ctx, g.log)

	if !g.downloader.IsSupportedLink(sourceURL) {
		metrics.IncAccess(string(model.OutcomeFailed))
		return &model.GateResult{Outcome: model.OutcomeFailed, Err: domain.ErrUnsupportedLink}, nil
	}

	if g.locker != nil {
		unlock, err := g.locker.Lock(ctx, userID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	before, err := g.entitlements.CheckAllowance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !before.Allowed {
		metrics.IncAccess(string(model.OutcomeDenied))
		log.Info().Msg("download denied, daily limit reached")
		return &model.GateResult{Outcome: model.OutcomeDenied, Allowance: before}, nil
	}

	path, err := g.downloader.Download(ctx, sourceURL)
	if err != nil {
		metrics.IncAccess(string(model.OutcomeFailed))
		log.Warn().Err(err).Msg("download failed, quota untouched")
		return &model.GateResult{Outcome: model.OutcomeFailed, Allowance: before, Err: err}, nil
	}

	after, err := g.entitlements.IncrementUsage(ctx, userID)
	if err != nil {
		// Delivering without recording the download would hand out free quota.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn().Err(rmErr).Str("path", path).Msg("failed to remove undelivered file")
		}
		return nil, err
	}
	metrics.IncAccess(string(model.OutcomeDelivered))
	return &model.GateResult{Outcome: model.OutcomeDelivered, FilePath: path, Allowance: after}, nil
}
