//go:build !integration

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
)

type stubStrategy struct {
	name    model.StrategyName
	calls   int
	resolve func(ctx context.Context, sourceURL string) (*model.ResolutionResult, error)
}

func (s *stubStrategy) Name() model.StrategyName { return s.name }

func (s *stubStrategy) Resolve(ctx context.Context, sourceURL string) (*model.ResolutionResult, error) {
	s.calls++
	return s.resolve(ctx, sourceURL)
}

func failing(name model.StrategyName, err error) *stubStrategy {
	return &stubStrategy{name: name, resolve: func(context.Context, string) (*model.ResolutionResult, error) {
		return nil, err
	}}
}

func pointingAt(name model.StrategyName, mediaURL string) *stubStrategy {
	return &stubStrategy{name: name, resolve: func(context.Context, string) (*model.ResolutionResult, error) {
		return &model.ResolutionResult{MediaURL: mediaURL, Strategy: name}, nil
	}}
}

func newTestOrchestrator(t *testing.T, dir string, strategies []adapter.ResolverStrategy, opts ...Option) *Orchestrator {
	t.Helper()
	logger := zerolog.New(io.Discard)
	o, err := NewOrchestrator(newTestSession(t), dir, &logger, strategies, opts...)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func mediaServer(contentType, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		fmt.Fprint(w, body)
	}))
}

func TestIsShopeeURL(t *testing.T) {
	cases := map[string]bool{
		"https://shopee.com.br/x":    true,
		"https://shp.ee/abc":         true,
		"https://sv.shopee.com.br/y": true,
		"  HTTPS://SHP.EE/abc  ":     true,
		"https://google.com":         false,
		"":                           false,
	}
	for in, want := range cases {
		if got := IsShopeeURL(in); got != want {
			t.Errorf("IsShopeeURL(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrchestrator_Download(t *testing.T) {
	ctx := context.Background()

	t.Run("should fall through to the first working strategy", func(t *testing.T) {
		// --- Arrange ---
		srv := mediaServer("video/mp4", "THIRD")
		defer srv.Close()
		first := failing(model.StrategySignedHandshake, domain.ErrUpstreamRejected)
		second := failing(model.StrategyTokenSession, domain.ErrNoTokenFound)
		third := pointingAt(model.StrategyDirectScrape, srv.URL+"/clip.mp4")
		dir := filepath.Join(t.TempDir(), "out")
		o := newTestOrchestrator(t, dir, []adapter.ResolverStrategy{first, second, third})

		// --- Act ---
		path, err := o.Download(ctx, "https://shopee.com.br/video/1")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if first.calls != 1 || second.calls != 1 || third.calls != 1 {
			t.Errorf("unexpected calls %d/%d/%d", first.calls, second.calls, third.calls)
		}
		if !filepath.IsAbs(path) || filepath.Dir(path) != mustAbs(t, dir) {
			t.Errorf("expected an absolute path inside %s, got %s", dir, path)
		}
		if !strings.HasPrefix(filepath.Base(path), "video_") || filepath.Ext(path) != ".mp4" {
			t.Errorf("unexpected file name %s", filepath.Base(path))
		}
		data, _ := os.ReadFile(path)
		if string(data) != "THIRD" {
			t.Errorf("unexpected content %q", data)
		}
	})

	t.Run("should aggregate every failure", func(t *testing.T) {
		o := newTestOrchestrator(t, t.TempDir(), []adapter.ResolverStrategy{
			failing(model.StrategySignedHandshake, domain.ErrUpstreamRejected),
			failing(model.StrategyTokenSession, domain.ErrNoTokenFound),
			failing(model.StrategyDirectScrape, domain.ErrNoMediaFound),
		})

		_, err := o.Download(ctx, "https://shp.ee/abc")

		if !errors.Is(err, domain.ErrResolutionFailed) {
			t.Fatalf("expected ErrResolutionFailed, got %v", err)
		}
		var rerr *domain.ResolutionError
		if !errors.As(err, &rerr) || len(rerr.Attempts) != 3 {
			t.Fatalf("expected three recorded attempts, got %v", err)
		}
		if !errors.Is(rerr.Attempts[2].Err, domain.ErrNoMediaFound) {
			t.Errorf("unexpected last attempt %+v", rerr.Attempts[2])
		}
	})

	t.Run("should treat a markup body as a soft failure", func(t *testing.T) {
		page := mediaServer("text/html", "<html>blocked</html>")
		defer page.Close()
		media := mediaServer("video/mp4", "OK")
		defer media.Close()
		dir := t.TempDir()
		o := newTestOrchestrator(t, dir, []adapter.ResolverStrategy{
			pointingAt(model.StrategySignedHandshake, page.URL),
			pointingAt(model.StrategyDirectScrape, media.URL),
		})

		path, err := o.Download(ctx, "https://shopee.com.br/v")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "OK" {
			t.Errorf("unexpected content %q", data)
		}
		files, _ := os.ReadDir(dir)
		if len(files) != 1 {
			t.Errorf("expected only the delivered file, found %d entries", len(files))
		}
	})

	t.Run("should use a body handed over by the strategy", func(t *testing.T) {
		s := &stubStrategy{name: model.StrategyTokenSession, resolve: func(context.Context, string) (*model.ResolutionResult, error) {
			return &model.ResolutionResult{Body: io.NopCloser(strings.NewReader("STREAM")), ContentType: "application/octet-stream"}, nil
		}}
		var last int64
		o := newTestOrchestrator(t, t.TempDir(), []adapter.ResolverStrategy{s},
			WithProgress(func(written, total int64) { last = written }))

		path, err := o.Download(ctx, "https://sv.shopee.com.br/y")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		data, _ := os.ReadFile(path)
		if string(data) != "STREAM" || last != int64(len("STREAM")) {
			t.Errorf("unexpected content %q or progress %d", data, last)
		}
	})

	t.Run("should time out a hanging strategy and move on", func(t *testing.T) {
		srv := mediaServer("video/mp4", "FAST")
		defer srv.Close()
		hang := &stubStrategy{name: model.StrategySignedHandshake, resolve: func(ctx context.Context, _ string) (*model.ResolutionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		o := newTestOrchestrator(t, t.TempDir(), []adapter.ResolverStrategy{hang, pointingAt(model.StrategyDirectScrape, srv.URL)},
			WithAttemptTimeout(50*time.Millisecond))

		if _, err := o.Download(ctx, "https://shopee.com.br/v"); err != nil {
			t.Fatalf("expected the second strategy to succeed, got %v", err)
		}
	})

	t.Run("should reject unsupported links without network work", func(t *testing.T) {
		s := failing(model.StrategyDirectScrape, domain.ErrNoMediaFound)
		o := newTestOrchestrator(t, t.TempDir(), []adapter.ResolverStrategy{s})

		if _, err := o.Download(ctx, "https://google.com"); !errors.Is(err, domain.ErrUnsupportedLink) {
			t.Fatalf("expected ErrUnsupportedLink, got %v", err)
		}
		if s.calls != 0 {
			t.Error("no strategy should run for unsupported links")
		}
	})

	t.Run("should fail on an empty media body", func(t *testing.T) {
		srv := mediaServer("video/mp4", "")
		defer srv.Close()
		o := newTestOrchestrator(t, t.TempDir(), []adapter.ResolverStrategy{pointingAt(model.StrategyDirectScrape, srv.URL)})
		if _, err := o.Download(ctx, "https://shopee.com.br/v"); !errors.Is(err, domain.ErrResolutionFailed) {
			t.Fatalf("expected ErrResolutionFailed, got %v", err)
		}
	})
}

func TestOrchestrator_Resolve(t *testing.T) {
	o := newTestOrchestrator(t, t.TempDir(), []adapter.ResolverStrategy{
		failing(model.StrategySignedHandshake, domain.ErrUpstreamRejected),
		pointingAt(model.StrategyDirectScrape, "https://cdn.example.com/clip.mp4"),
	})
	res, err := o.Resolve(context.Background(), "https://shopee.com.br/v")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Strategy != model.StrategyDirectScrape || res.MediaURL != "https://cdn.example.com/clip.mp4" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBuildStrategies(t *testing.T) {
	s := newTestSession(t)

	t.Run("should default to the full priority list", func(t *testing.T) {
		got, err := BuildStrategies(s, nil)
		if err != nil || len(got) != 3 || got[0].Name() != model.StrategySignedHandshake {
			t.Fatalf("unexpected strategies %v (%v)", got, err)
		}
	})
	t.Run("should keep the configured order", func(t *testing.T) {
		got, err := BuildStrategies(s, []string{"direct_scrape", "Token_Session"})
		if err != nil || len(got) != 2 || got[0].Name() != model.StrategyDirectScrape || got[1].Name() != model.StrategyTokenSession {
			t.Fatalf("unexpected strategies %v (%v)", got, err)
		}
	})
	t.Run("should reject unknown names", func(t *testing.T) {
		if _, err := BuildStrategies(s, []string{"magic"}); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func mustAbs(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	return abs
}
