package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
)

var _ adapter.ResolverStrategy = (*TokenSessionStrategy)(nil)

const (
	svxtractHome     = "https://svxtract.com/"
	svxtractDownload = "https://svxtract.com/function/download/downloader.php"
	svxtractOrigin   = "https://svxtract.com"
)

// tried in order, first match wins
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`csrfToken\s*=\s*["']([a-f0-9]+)["']`),
	regexp.MustCompile(`name="csrf_token" value="([a-f0-9]+)"`),
	regexp.MustCompile(`csrf_token\s*=\s*["']([a-f0-9]+)["']`),
}

// ExtractToken returns the anti-forgery token embedded in a landing page, or "".
func ExtractToken(page []byte) string {
	for _, re := range tokenPatterns {
		if m := re.FindSubmatch(page); m != nil {
			return string(m[1])
		}
	}
	return ""
}

// TokenSessionStrategy scrapes a CSRF token from the provider's landing page
// and downloads through the same cookie session. The provider only serves the
// media inside that session, so the result carries an open Body.
type TokenSessionStrategy struct {
	session     *Session
	homeURL     string
	downloadURL string
	origin      string
}

// NewTokenSessionStrategy targets svxtract.com unless endpoints are overridden.
func NewTokenSessionStrategy(s *Session, endpoints ...string) *TokenSessionStrategy {
	t := &TokenSessionStrategy{session: s, homeURL: svxtractHome, downloadURL: svxtractDownload, origin: svxtractOrigin}
	if len(endpoints) == 3 {
		t.homeURL, t.downloadURL, t.origin = endpoints[0], endpoints[1], endpoints[2]
	}
	return t
}

func (t *TokenSessionStrategy) Name() model.StrategyName { return model.StrategyTokenSession }

func (t *TokenSessionStrategy) headers() map[string]string {
	return map[string]string{
		"User-Agent":      userAgentModern,
		"Accept":          "*/*",
		"Accept-Language": acceptLanguage,
		"Referer":         t.origin + "/",
		"Origin":          t.origin,
	}
}

func (t *TokenSessionStrategy) Resolve(ctx context.Context, sourceURL string) (*model.ResolutionResult, error) {
	client := t.session.Client()

	req, err := http.NewRequest(http.MethodGet, t.homeURL, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, t.headers())
	resp, page, err := t.session.fetch(ctx, client, req)
	if err != nil {
		return nil, fmt.Errorf("%w: landing page: %w", domain.ErrUpstreamRejected, err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: landing page status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}

	token := ExtractToken(page)
	if token == "" {
		return nil, domain.ErrNoTokenFound
	}

	q := url.Values{}
	q.Set("url", sourceURL)
	q.Set("csrf_token", token)
	q.Set("preview", "1")
	dl, err := http.NewRequestWithContext(ctx, http.MethodGet, t.downloadURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	setHeaders(dl, t.headers())

	media, err := client.Do(dl)
	if err != nil {
		return nil, fmt.Errorf("%w: download: %w", domain.ErrUpstreamRejected, err)
	}
	if media.StatusCode != http.StatusOK {
		media.Body.Close()
		return nil, fmt.Errorf("%w: download status %d", domain.ErrUpstreamRejected, media.StatusCode)
	}
	ct := media.Header.Get("Content-Type")
	if isMarkup(ct) {
		// the provider answers rejected links with a page
		media.Body.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrUnexpectedContentType, ct)
	}

	res := &model.ResolutionResult{
		MediaURL:    dl.URL.String(),
		Strategy:    t.Name(),
		Body:        media.Body,
		ContentType: ct,
	}
	if media.ContentLength > 0 {
		n := media.ContentLength
		res.SizeHintBytes = &n
	}
	return res, nil
}
