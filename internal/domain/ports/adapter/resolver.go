package adapter

import (
	"context"

	"shopee-video-bot/internal/domain/model"
)

// ResolverStrategy turns a share link into a downloadable media source.
// Failures are one of domain.ErrNoTokenFound, ErrUpstreamRejected,
// ErrNoMediaFound or ErrUnexpectedContentType (possibly wrapped).
type ResolverStrategy interface {
	Name() model.StrategyName
	Resolve(ctx context.Context, sourceURL string) (*model.ResolutionResult, error)
}

// MediaDownloader resolves a link and stores the media locally.
// The caller owns (and must delete) the returned file.
type MediaDownloader interface {
	IsSupportedLink(link string) bool
	Download(ctx context.Context, sourceURL string) (string, error)
}
