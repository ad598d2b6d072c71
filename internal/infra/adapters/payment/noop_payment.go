package payment

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"

	"github.com/google/uuid"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for dev mode and tests. It issues
// a fake but well-formed Pix copy-paste code.
type NoopPaymentGateway struct {
	mu          sync.Mutex
	charges     map[string]bool // payment id -> paid
	autoApprove bool
}

func NewNoopPaymentGateway(autoApprove bool) *NoopPaymentGateway {
	return &NoopPaymentGateway{
		charges:     make(map[string]bool),
		autoApprove: autoApprove,
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) CreateCharge(_ context.Context, userID int64, amount int64, _ string) (*model.Charge, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidArgument
	}
	id := uuid.NewString()
	g.mu.Lock()
	g.charges[id] = g.autoApprove
	g.mu.Unlock()
	return &model.Charge{
		PaymentID: id,
		Provider:  g.Name(),
		Amount:    amount,
		PixCode:   FakePixCode(),
	}, nil
}

func (g *NoopPaymentGateway) CheckStatus(_ context.Context, paymentID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	paid, ok := g.charges[paymentID]
	if !ok {
		// unknown ids still follow the auto-approve switch so a restart does not strand users
		return g.autoApprove, nil
	}
	return paid, nil
}

// MarkPaid flips a charge to paid.
func (g *NoopPaymentGateway) MarkPaid(paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[paymentID] = true
}

// FakePixCode builds a static-looking BR Code with a random key and CRC tail.
func FakePixCode() string {
	var tail [16]byte
	_, _ = rand.Read(tail[:])
	return "00020126580014br.gov.bcb.pix0136" + uuid.NewString() +
		"520400005303986540510.005802BR5913SHOOPEE_BOT6008BRASILIA62070503***6304" +
		strings.ToUpper(fmt.Sprintf("%x", tail[:]))
}
