// File: internal/infra/adapters/payment/pushinpay_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*PushinPayGateway)(nil)

const DefaultPushinPayBaseURL = "https://api.pushinpay.com.br/api"

// PushinPayGateway creates Pix charges through the PushinPay REST API.
type PushinPayGateway struct {
	token      string
	baseURL    string
	webhookURL string
	client     *http.Client
}

func NewPushinPayGateway(token, baseURL, webhookURL string) (*PushinPayGateway, error) {
	if token == "" {
		return nil, errors.New("pushinpay api token empty")
	}
	if baseURL == "" {
		baseURL = DefaultPushinPayBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &PushinPayGateway{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *PushinPayGateway) Name() string { return "pushinpay" }

// pushinTransaction is the shape shared by cashIn and transaction lookups.
// The id comes back as a string; value is in cents and sometimes quoted.
type pushinTransaction struct {
	ID     string          `json:"id"`
	QRCode string          `json:"qr_code"`
	Status string          `json:"status"`
	Value  json.RawMessage `json:"value"`
}

func (t pushinTransaction) cents() int64 {
	raw := strings.Trim(string(t.Value), `"`)
	n, _ := strconv.ParseInt(raw, 10, 64)
	return n
}

func (g *PushinPayGateway) CreateCharge(ctx context.Context, userID int64, amount int64, description string) (*model.Charge, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	payload := map[string]any{"value": amount}
	if g.webhookURL != "" {
		payload["webhook_url"] = g.webhookURL
	}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/pix/cashIn", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out pushinTransaction
	if err := g.do(req, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.QRCode == "" {
		return nil, errors.New("pushinpay cashIn returned no charge")
	}
	charged := out.cents()
	if charged == 0 {
		charged = amount
	}
	return &model.Charge{
		PaymentID: out.ID,
		Provider:  g.Name(),
		Amount:    charged,
		PixCode:   out.QRCode,
	}, nil
}

func (g *PushinPayGateway) CheckStatus(ctx context.Context, paymentID string) (bool, error) {
	if paymentID == "" {
		return false, domain.ErrInvalidArgument
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/transactions/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return false, err
	}
	var out pushinTransaction
	if err := g.do(req, &out); err != nil {
		return false, err
	}
	return IsPaidStatus(out.Status), nil
}

func (g *PushinPayGateway) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pushinpay %s %s: http %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("pushinpay: decode response: %w", err)
	}
	return nil
}

func IsPaidStatus(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "paid")
}

// Notification is the subset of a PushinPay webhook call we act on.
type Notification struct {
	ID     string
	Status string
}

// ParseNotification reads a webhook body sent either as JSON or as a form.
// It never trusts the status for granting; callers re-check the gateway.
func ParseNotification(r *http.Request) (*Notification, error) {
	ct := r.Header.Get("Content-Type")
	var n Notification
	if strings.HasPrefix(ct, "application/json") {
		var tx pushinTransaction
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&tx); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
		}
		n = Notification{ID: tx.ID, Status: tx.Status}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
		}
		n = Notification{ID: r.PostForm.Get("id"), Status: r.PostForm.Get("status")}
	}
	if n.ID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &n, nil
}
