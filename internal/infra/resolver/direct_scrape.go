package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
)

var _ adapter.ResolverStrategy = (*DirectScrapeStrategy)(nil)

var (
	mediaURLPattern = regexp.MustCompile(`https?://[^"'\s<>\\]+\.mp4`)
	// "clip.123.456.mp4" is the watermarked variant of "clip.mp4"
	versionSuffix = regexp.MustCompile(`\.\d+\.\d+\.mp4$`)
)

// FindMediaURLs lists the distinct .mp4 URLs in a page, in order of appearance.
// JSON-escaped slashes are unescaped first.
func FindMediaURLs(page []byte) []string {
	page = bytes.ReplaceAll(page, []byte(`\/`), []byte(`/`))
	page = bytes.ReplaceAll(page, []byte(`\u002F`), []byte(`/`))

	seen := make(map[string]struct{})
	var out []string
	for _, m := range mediaURLPattern.FindAll(page, -1) {
		u := string(m)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// PickCleanMediaURL prefers the first candidate without a numeric version
// suffix and falls back to the first candidate.
func PickCleanMediaURL(candidates []string) string {
	for _, c := range candidates {
		if !versionSuffix.MatchString(c) {
			return c
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

// DirectScrapeStrategy reads the share page itself and picks a media URL out of it.
type DirectScrapeStrategy struct {
	session *Session
}

func NewDirectScrapeStrategy(s *Session) *DirectScrapeStrategy {
	return &DirectScrapeStrategy{session: s}
}

func (d *DirectScrapeStrategy) Name() model.StrategyName { return model.StrategyDirectScrape }

func (d *DirectScrapeStrategy) Resolve(ctx context.Context, sourceURL string) (*model.ResolutionResult, error) {
	req, err := http.NewRequest(http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnsupportedLink, err)
	}
	setHeaders(req, map[string]string{
		"User-Agent":      userAgentLegacy,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": acceptLanguage,
	})

	resp, page, err := d.session.fetch(ctx, d.session.Client(), req)
	if err != nil {
		return nil, fmt.Errorf("%w: share page: %w", domain.ErrUpstreamRejected, err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: share page status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}

	media := PickCleanMediaURL(FindMediaURLs(page))
	if media == "" {
		return nil, domain.ErrNoMediaFound
	}
	return &model.ResolutionResult{
		MediaURL: media,
		Strategy: d.Name(),
		Headers: map[string]string{
			"User-Agent": userAgentLegacy,
			"Referer":    sourceURL,
		},
	}, nil
}
