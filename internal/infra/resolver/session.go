package resolver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// userAgentModern is what the token-session provider expects.
	userAgentModern = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"
	// userAgentLegacy is signed into handshake tokens and used for share pages.
	userAgentLegacy = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	acceptLanguage = "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"

	// pages and JSON payloads are small; media bodies are streamed instead
	maxPageBytes = 4 << 20
)

type SessionConfig struct {
	// RequestTimeout bounds every page, token and handshake call.
	RequestTimeout time.Duration
	// ProxyURL accepts http(s):// and socks5:// URLs.
	ProxyURL string
}

// Session owns the shared transport. Each strategy attempt takes a fresh
// cookie-jar client from it so provider sessions never leak between requests.
type Session struct {
	transport      *http.Transport
	requestTimeout time.Duration
}

func NewSession(cfg SessionConfig) (*Session, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			return nil, err
		}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Session{transport: transport, requestTimeout: timeout}, nil
}

// configureProxy routes the transport through an http(s) or SOCKS5 proxy.
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			pw, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: pw}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}
	return nil
}

// Client returns a client with its own cookie jar. It has no overall timeout
// because media bodies are streamed through it; callers bound requests with
// contexts instead.
func (s *Session) Client() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Transport: s.transport,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// fetch performs a bounded request and reads the (small) body fully.
func (s *Session) fetch(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return resp, nil, fmt.Errorf("read %s: %w", req.URL.Host, err)
	}
	return resp, body, nil
}

func (s *Session) CloseIdleConnections() {
	s.transport.CloseIdleConnections()
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// isMarkup reports whether a declared content type is a page rather than media.
func isMarkup(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "text/xml")
}

func isSuccess(code int) bool { return code >= 200 && code < 300 }
