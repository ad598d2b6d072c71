package resolver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
)

var _ adapter.ResolverStrategy = (*SignedHandshakeStrategy)(nil)

const (
	svdownOrigin    = "https://svdown.tech"
	svdownSecret    = "svdown-client-secret-v1-2024"
	svdownClientKey = "dev-key"
)

// Sign computes the hex HMAC-SHA256 of seed+timestamp+storageID+cookieID+userAgent.
func Sign(secret, seed, timestamp, storageID, cookieID, userAgent string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(seed + timestamp + storageID + cookieID + userAgent))
	return hex.EncodeToString(mac.Sum(nil))
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type handshakeResponse struct {
	Seed      flexString `json:"seed"`
	Timestamp flexString `json:"timestamp"`
}

type resolveResponse struct {
	Title string `json:"title"`
	Video struct {
		URL          string `json:"url"`
		QualityLabel string `json:"qualityLabel"`
	} `json:"video"`
	Error string `json:"error"`
}

// SignedHandshakeStrategy trades a handshake {seed, timestamp} for a signed
// token and asks the resolve endpoint for the direct media URL.
type SignedHandshakeStrategy struct {
	session      *Session
	origin       string
	secret       string
	userAgent    string
	newStorageID func() string
}

// NewSignedHandshakeStrategy targets svdown.tech; origin may be overridden.
func NewSignedHandshakeStrategy(s *Session, origin ...string) *SignedHandshakeStrategy {
	h := &SignedHandshakeStrategy{
		session:      s,
		origin:       svdownOrigin,
		secret:       svdownSecret,
		userAgent:    userAgentLegacy,
		newStorageID: uuid.NewString,
	}
	if len(origin) > 0 && origin[0] != "" {
		h.origin = strings.TrimRight(origin[0], "/")
	}
	return h
}

func (h *SignedHandshakeStrategy) Name() model.StrategyName { return model.StrategySignedHandshake }

func (h *SignedHandshakeStrategy) Resolve(ctx context.Context, sourceURL string) (*model.ResolutionResult, error) {
	client := h.session.Client()

	hs, err := h.handshake(ctx, client)
	if err != nil {
		return nil, err
	}

	storageID := h.newStorageID()
	// the cookie id is not part of the signed material
	sig := Sign(h.secret, string(hs.Seed), string(hs.Timestamp), storageID, "", h.userAgent)

	payload, err := json.Marshal(map[string]string{"url": sourceURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, h.origin+"/api/resolve", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	setHeaders(req, map[string]string{
		"Content-Type":   "application/json",
		"User-Agent":     h.userAgent,
		"Origin":         h.origin,
		"Referer":        h.origin + "/",
		"X-Secure-Token": string(hs.Timestamp) + ":" + string(hs.Seed) + ":" + sig,
		"X-Storage-Id":   storageID,
		"Cookie":         "svdown_key=" + svdownClientKey + "; svdown_uid=" + storageID,
	})

	resp, body, err := h.session.fetch(ctx, client, req)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve: %w", domain.ErrUpstreamRejected, err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: resolve status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}

	var rr resolveResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, fmt.Errorf("%w: resolve payload: %w", domain.ErrUpstreamRejected, err)
	}
	if rr.Video.URL == "" {
		return nil, domain.ErrNoMediaFound
	}
	return &model.ResolutionResult{
		MediaURL: rr.Video.URL,
		Strategy: h.Name(),
		Title:    rr.Title,
		Quality:  rr.Video.QualityLabel,
		Headers: map[string]string{
			"User-Agent": h.userAgent,
			"Referer":    h.origin + "/",
		},
	}, nil
}

func (h *SignedHandshakeStrategy) handshake(ctx context.Context, client *http.Client) (*handshakeResponse, error) {
	req, err := http.NewRequest(http.MethodGet, h.origin+"/api/security/handshake", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, body, err := h.session.fetch(ctx, client, req)
	if err != nil {
		return nil, fmt.Errorf("%w: handshake: %w", domain.ErrUpstreamRejected, err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("%w: handshake status %d", domain.ErrUpstreamRejected, resp.StatusCode)
	}
	var hs handshakeResponse
	if err := json.Unmarshal(body, &hs); err != nil {
		return nil, fmt.Errorf("%w: handshake payload: %w", domain.ErrUpstreamRejected, err)
	}
	if hs.Seed == "" || hs.Timestamp == "" {
		return nil, fmt.Errorf("%w: handshake missing seed or timestamp", domain.ErrUpstreamRejected)
	}
	return &hs, nil
}
