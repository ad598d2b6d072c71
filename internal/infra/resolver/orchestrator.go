package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/infra/logging"
	"shopee-video-bot/internal/infra/metrics"
)

var _ adapter.MediaDownloader = (*Orchestrator)(nil)

var supportedHosts = []string{"shopee.com.br", "shp.ee", "sv.shopee.com.br"}

// IsShopeeURL is the cheap pre-filter run before any network work.
func IsShopeeURL(link string) bool {
	link = strings.ToLower(strings.TrimSpace(link))
	if link == "" {
		return false
	}
	for _, h := range supportedHosts {
		if strings.Contains(link, h) {
			return true
		}
	}
	return false
}

// ProgressFunc is called as media bytes are written; total is -1 when unknown.
type ProgressFunc func(written, total int64)

// Orchestrator tries each strategy in priority order and streams the first
// usable media to a uniquely named file under the output directory.
type Orchestrator struct {
	session        *Session
	strategies     []adapter.ResolverStrategy
	outputDir      string
	attemptTimeout time.Duration
	progress       ProgressFunc
	log            *zerolog.Logger
}

type Option func(*Orchestrator)

func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithAttemptTimeout bounds one strategy attempt, media stream included.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

func NewOrchestrator(session *Session, outputDir string, logger *zerolog.Logger, strategies []adapter.ResolverStrategy, opts ...Option) (*Orchestrator, error) {
	if len(strategies) == 0 {
		return nil, errors.New("resolver: at least one strategy is required")
	}
	if outputDir == "" {
		return nil, errors.New("resolver: output directory is required")
	}
	o := &Orchestrator{
		session:        session,
		strategies:     strategies,
		outputDir:      outputDir,
		attemptTimeout: 5 * time.Minute,
		log:            logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) IsSupportedLink(link string) bool { return IsShopeeURL(link) }

func (o *Orchestrator) OutputDir() string { return o.outputDir }

// Download returns the absolute path of the stored media. The caller owns the
// file. When every strategy fails the error is a *domain.ResolutionError.
func (o *Orchestrator) Download(ctx context.Context, sourceURL string) (string, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if !IsShopeeURL(sourceURL) {
		return "", domain.ErrUnsupportedLink
	}
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	var attempts []domain.StrategyAttempt
	for _, s := range o.strategies {
		name := string(s.Name())
		log := logging.With(logging.WithStrategy(ctx, name), o.log)

		start := time.Now()
		path, err := o.attempt(ctx, s, sourceURL)
		metrics.ObserveStrategyAttempt(name, classify(err), time.Since(start))
		if err == nil {
			metrics.IncDownload("ok")
			log.Info().Str("path", path).Dur("took", time.Since(start)).Msg("media stored")
			return path, nil
		}

		log.Warn().Err(err).Msg("strategy failed, falling through")
		attempts = append(attempts, domain.StrategyAttempt{Strategy: name, Err: err})
		if ctx.Err() != nil {
			// the caller gave up; the remaining strategies would fail the same way
			break
		}
	}
	metrics.IncDownload("failed")
	return "", &domain.ResolutionError{Attempts: attempts}
}

// Resolve runs the strategies without storing anything and returns the first
// result. Any open body is closed.
func (o *Orchestrator) Resolve(ctx context.Context, sourceURL string) (*model.ResolutionResult, error) {
	if !IsShopeeURL(sourceURL) {
		return nil, domain.ErrUnsupportedLink
	}
	var attempts []domain.StrategyAttempt
	for _, s := range o.strategies {
		actx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
		res, err := s.Resolve(actx, sourceURL)
		if err == nil {
			if res.Body != nil {
				res.Body.Close()
				res.Body = nil
			}
			cancel()
			return res, nil
		}
		cancel()
		attempts = append(attempts, domain.StrategyAttempt{Strategy: string(s.Name()), Err: err})
	}
	return nil, &domain.ResolutionError{Attempts: attempts}
}

func (o *Orchestrator) attempt(ctx context.Context, s adapter.ResolverStrategy, sourceURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	res, err := s.Resolve(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	body, contentType, size, err := o.open(ctx, res)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if isMarkup(contentType) {
		return "", fmt.Errorf("%w: %s", domain.ErrUnexpectedContentType, contentType)
	}
	return o.store(body, size)
}

// open returns the media stream, either handed over by the strategy or
// fetched from its MediaURL.
func (o *Orchestrator) open(ctx context.Context, res *model.ResolutionResult) (io.ReadCloser, string, int64, error) {
	size := int64(-1)
	if res.SizeHintBytes != nil {
		size = *res.SizeHintBytes
	}
	if res.Body != nil {
		return res.Body, res.ContentType, size, nil
	}
	if res.MediaURL == "" {
		return nil, "", 0, domain.ErrNoMediaFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.MediaURL, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: %w", domain.ErrNoMediaFound, err)
	}
	setHeaders(req, res.Headers)
	resp, err := o.session.Client().Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("%w: media: %w", domain.ErrUpstreamRejected, err)
	}
	if !isSuccess(resp.StatusCode) {
		resp.Body.Close()
		return nil, "", 0, fmt.Errorf("%w: media status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return resp.Body, resp.Header.Get("Content-Type"), size, nil
}

// store writes to a temp file and renames it into place once complete, so a
// partial download never shows up under a final name.
func (o *Orchestrator) store(body io.Reader, size int64) (string, error) {
	tmp, err := os.CreateTemp(o.outputDir, "video_*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	var w io.Writer = tmp
	if o.progress != nil {
		w = &progressWriter{w: tmp, total: size, fn: o.progress}
	}
	n, err := io.Copy(w, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", fmt.Errorf("%w: stream: %w", domain.ErrUpstreamRejected, err)
	}
	if n == 0 {
		cleanup()
		return "", fmt.Errorf("%w: empty media body", domain.ErrNoMediaFound)
	}
	metrics.AddDownloadedBytes(n)

	final := filepath.Join(o.outputDir, "video_"+strings.ReplaceAll(uuid.NewString(), "-", "")+".mp4")
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", fmt.Errorf("store media: %w", err)
	}
	abs, err := filepath.Abs(final)
	if err != nil {
		return final, nil
	}
	return abs, nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.fn(p.written, p.total)
	return n, err
}

func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrNoTokenFound):
		return "no_token"
	case errors.Is(err, domain.ErrUnexpectedContentType):
		return "content_type"
	case errors.Is(err, domain.ErrNoMediaFound):
		return "no_media"
	case errors.Is(err, domain.ErrUpstreamRejected):
		return "rejected"
	default:
		return "error"
	}
}

// BuildStrategies maps configured names to strategies, keeping their order.
// An empty list yields the default priority.
func BuildStrategies(s *Session, names []string) ([]adapter.ResolverStrategy, error) {
	if len(names) == 0 {
		names = []string{
			string(model.StrategySignedHandshake),
			string(model.StrategyTokenSession),
			string(model.StrategyDirectScrape),
		}
	}
	out := make([]adapter.ResolverStrategy, 0, len(names))
	for _, n := range names {
		switch model.StrategyName(strings.TrimSpace(strings.ToLower(n))) {
		case model.StrategySignedHandshake:
			out = append(out, NewSignedHandshakeStrategy(s))
		case model.StrategyTokenSession:
			out = append(out, NewTokenSessionStrategy(s))
		case model.StrategyDirectScrape:
			out = append(out, NewDirectScrapeStrategy(s))
		default:
			return nil, fmt.Errorf("unknown resolver strategy %q", n)
		}
	}
	return out, nil
}
