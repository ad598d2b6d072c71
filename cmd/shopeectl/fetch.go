package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shopee-video-bot/internal/infra/resolver"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

type fetchOptions struct {
	out        string
	proxy      string
	strategies []string
	timeout    time.Duration
	quiet      bool
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Resolve a Shopee link and download the video without watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), root, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "directory for the downloaded file")
	cmd.Flags().StringVar(&opts.proxy, "proxy", "", "http(s):// or socks5:// proxy")
	cmd.Flags().StringSliceVar(&opts.strategies, "strategy", nil, "strategies in priority order (default: all)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "per-strategy timeout")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "no progress bar")
	return cmd
}

func buildOrchestrator(root *rootOptions, outDir, proxy string, strategies []string, timeout time.Duration, progress resolver.ProgressFunc) (*resolver.Orchestrator, *resolver.Session, error) {
	session, err := resolver.NewSession(resolver.SessionConfig{RequestTimeout: 30 * time.Second, ProxyURL: proxy})
	if err != nil {
		return nil, nil, err
	}
	list, err := resolver.BuildStrategies(session, strategies)
	if err != nil {
		return nil, nil, err
	}
	opts := []resolver.Option{resolver.WithAttemptTimeout(timeout)}
	if progress != nil {
		opts = append(opts, resolver.WithProgress(progress))
	}
	orch, err := resolver.NewOrchestrator(session, outDir, root.logger(), list, opts...)
	if err != nil {
		return nil, nil, err
	}
	return orch, session, nil
}

func runFetch(ctx context.Context, root *rootOptions, opts *fetchOptions, link string) error {
	if !resolver.IsShopeeURL(link) {
		return fmt.Errorf("not a Shopee link: %s", link)
	}
	bar := &progressBar{quiet: opts.quiet}
	orch, session, err := buildOrchestrator(root, opts.out, opts.proxy, opts.strategies, opts.timeout, bar.update)
	if err != nil {
		return err
	}
	defer session.CloseIdleConnections()

	start := time.Now()
	path, err := orch.Download(ctx, link)
	bar.finish()
	if err != nil {
		return err
	}
	if abs, aerr := filepath.Abs(path); aerr == nil {
		path = abs
	}
	info, _ := os.Stat(path)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}
	fmt.Printf("saved %s (%d bytes) in %s\n", path, size, time.Since(start).Round(time.Millisecond))
	return nil
}

// progressBar starts lazily because the size is only known once a strategy
// opens the media stream. A failed strategy restarts it.
type progressBar struct {
	mu    sync.Mutex
	bar   *pb.ProgressBar
	quiet bool
}

func (p *progressBar) update(written, total int64) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && written < p.bar.Current() {
		p.bar.Finish()
		p.bar = nil
	}
	if p.bar == nil {
		tmpl := `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
		p.bar = pb.ProgressBarTemplate(tmpl).Start64(max(total, 0))
		p.bar.Set(pb.Bytes, true)
		p.bar.Set(pb.SIBytesPrefix, true)
		p.bar.Set("prefix", "Downloading: ")
	}
	if total > 0 && p.bar.Total() != total {
		p.bar.SetTotal(total)
	}
	p.bar.SetCurrent(written)
}

func (p *progressBar) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

type checkOptions struct {
	proxy   string
	timeout time.Duration
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Run the resolver strategies and print the media URL without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, session, err := buildOrchestrator(root, os.TempDir(), opts.proxy, nil, opts.timeout, nil)
			if err != nil {
				return err
			}
			defer session.CloseIdleConnections()
			res, err := orch.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("strategy: %s\nmedia:    %s\n", res.Strategy, res.MediaURL)
			if res.Title != "" {
				fmt.Printf("title:    %s\n", res.Title)
			}
			if res.SizeHintBytes != nil {
				fmt.Printf("size:     %d bytes\n", *res.SizeHintBytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.proxy, "proxy", "", "http(s):// or socks5:// proxy")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "per-strategy timeout")
	return cmd
}
