//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"shopee-video-bot/internal/domain"
	"shopee-video-bot/internal/domain/model"
	"shopee-video-bot/internal/domain/ports/adapter"
	"shopee-video-bot/internal/domain/ports/repository"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var testNow = time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)

// clock is a movable time source shared by use cases under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func day(offset int) time.Time { return model.AddDays(testNow, offset) }

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- Mock EntitlementRepository ----

type MockEntitlementRepo struct {
	mu   sync.Mutex
	data map[int64]*model.UserEntitlement

	Upserts int
	CASLoss int // number of CompareAndSwap calls to fail before succeeding

	GetFunc    func(ctx context.Context, tx repository.Tx, userID int64) (*model.UserEntitlement, error)
	UpsertFunc func(ctx context.Context, tx repository.Tx, e *model.UserEntitlement) error
}

var _ repository.EntitlementRepository = (*MockEntitlementRepo)(nil)

func NewMockEntitlementRepo() *MockEntitlementRepo {
	return &MockEntitlementRepo{data: map[int64]*model.UserEntitlement{}}
}

func (r *MockEntitlementRepo) Seed(e *model.UserEntitlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.data[e.UserID] = &cp
}

func (r *MockEntitlementRepo) Stored(userID int64) *model.UserEntitlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.data[userID]; ok {
		cp := *e
		return &cp
	}
	return nil
}

func (r *MockEntitlementRepo) Get(ctx context.Context, tx repository.Tx, userID int64) (*model.UserEntitlement, error) {
	if r.GetFunc != nil {
		return r.GetFunc(ctx, tx, userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.data[userID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockEntitlementRepo) Upsert(ctx context.Context, tx repository.Tx, e *model.UserEntitlement) error {
	if r.UpsertFunc != nil {
		return r.UpsertFunc(ctx, tx, e)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Upserts++
	cp := *e
	r.data[e.UserID] = &cp
	return nil
}

func (r *MockEntitlementRepo) CompareAndSwap(ctx context.Context, tx repository.Tx, expected time.Time, e *model.UserEntitlement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CASLoss > 0 {
		r.CASLoss--
		return false, nil
	}
	cur, ok := r.data[e.UserID]
	switch {
	case expected.IsZero() && ok:
		return false, nil
	case !expected.IsZero() && (!ok || !cur.UpdatedAt.Equal(expected)):
		return false, nil
	}
	r.Upserts++
	cp := *e
	r.data[e.UserID] = &cp
	return true, nil
}

func (r *MockEntitlementRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data), nil
}

func (r *MockEntitlementRepo) CountPremium(ctx context.Context, tx repository.Tx, today time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.data {
		if e.IsPremium(today) {
			n++
		}
	}
	return n, nil
}

// ---- Mock PendingOrderRepository ----

type MockPendingOrders struct {
	mu   sync.Mutex
	data map[string]*model.PendingOrder

	PutFunc func(ctx context.Context, o *model.PendingOrder) error
}

var _ repository.PendingOrderRepository = (*MockPendingOrders)(nil)

func NewMockPendingOrders() *MockPendingOrders {
	return &MockPendingOrders{data: map[string]*model.PendingOrder{}}
}

func (r *MockPendingOrders) Put(ctx context.Context, o *model.PendingOrder) error {
	if r.PutFunc != nil {
		return r.PutFunc(ctx, o)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.data[o.PaymentID] = &cp
	return nil
}

func (r *MockPendingOrders) Take(ctx context.Context, id string) (*model.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Settled {
		return nil, domain.ErrAlreadySettled
	}
	cp := *o
	o.Settled = true
	return &cp, nil
}

func (r *MockPendingOrders) Peek(ctx context.Context, id string) (*model.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MockPendingOrders) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*model.PendingOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PendingOrder
	for _, o := range r.data {
		if !o.Settled && o.CreatedAt.Before(olderThan) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Mock SettledPaymentRepository ----

type MockSettledPayments struct {
	mu   sync.Mutex
	data map[string]model.SettledPayment

	RecordFunc func(ctx context.Context, tx repository.Tx, p *model.SettledPayment) (bool, error)
}

var _ repository.SettledPaymentRepository = (*MockSettledPayments)(nil)

func NewMockSettledPayments() *MockSettledPayments {
	return &MockSettledPayments{data: map[string]model.SettledPayment{}}
}

func (r *MockSettledPayments) Record(ctx context.Context, tx repository.Tx, p *model.SettledPayment) (bool, error) {
	if r.RecordFunc != nil {
		return r.RecordFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.PaymentID]; ok {
		return false, nil
	}
	r.data[p.PaymentID] = *p
	return true, nil
}

func (r *MockSettledPayments) Get(ctx context.Context, tx repository.Tx, paymentID string) (*model.SettledPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *MockSettledPayments) Delete(ctx context.Context, tx repository.Tx, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, paymentID)
	return nil
}

func (r *MockSettledPayments) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockSettledPayments) snapshot() map[string]model.SettledPayment {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]model.SettledPayment, len(r.data))
	for k, v := range r.data {
		cp[k] = v
	}
	return cp
}

func (r *MockSettledPayments) restore(snap map[string]model.SettledPayment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = snap
}

// Expire drops the order as if its TTL had passed.
func (r *MockPendingOrders) Expire(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// NewSerialTxManager runs one transaction at a time, which is what row locks
// give the entitlement store in Postgres.
func NewSerialTxManager() *MockTxManager {
	var mu sync.Mutex
	return &MockTxManager{WithTxFunc: func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(ctx, repository.NoTX)
	}}
}

// NewLedgerTxManager is a serial tx manager that rolls the settled ledger
// back when fn fails.
func NewLedgerTxManager(ledger *MockSettledPayments) *MockTxManager {
	var mu sync.Mutex
	return &MockTxManager{WithTxFunc: func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		mu.Lock()
		defer mu.Unlock()
		snap := ledger.snapshot()
		if err := fn(ctx, repository.NoTX); err != nil {
			ledger.restore(snap)
			return err
		}
		return nil
	}}
}

// =============================
// Adapters
// =============================

// ---- Mock MediaDownloader ----

// MockDownloader writes a small file per successful call unless DownloadFunc says otherwise.
type MockDownloader struct {
	mu    sync.Mutex
	dir   string
	Calls int

	DownloadFunc func(ctx context.Context, sourceURL string) (string, error)
}

var _ adapter.MediaDownloader = (*MockDownloader)(nil)

func NewMockDownloader(dir string) *MockDownloader { return &MockDownloader{dir: dir} }

func (d *MockDownloader) IsSupportedLink(link string) bool {
	return link != "" && link != "https://google.com"
}

func (d *MockDownloader) Download(ctx context.Context, sourceURL string) (string, error) {
	d.mu.Lock()
	d.Calls++
	n := d.Calls
	d.mu.Unlock()
	if d.DownloadFunc != nil {
		return d.DownloadFunc(ctx, sourceURL)
	}
	p := filepath.Join(d.dir, "video_"+strconv.Itoa(n)+".mp4")
	if err := os.WriteFile(p, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// ---- Mock PaymentGateway ----

type MockGateway struct {
	mu   sync.Mutex
	seq  int
	paid map[string]bool

	Checks int

	CreateChargeFunc func(ctx context.Context, userID int64, amount int64, description string) (*model.Charge, error)
	CheckStatusFunc  func(ctx context.Context, paymentID string) (bool, error)
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway { return &MockGateway{paid: map[string]bool{}} }

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) MarkPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paid[id] = true
}

func (g *MockGateway) CreateCharge(ctx context.Context, userID int64, amount int64, description string) (*model.Charge, error) {
	if g.CreateChargeFunc != nil {
		return g.CreateChargeFunc(ctx, userID, amount, description)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := "pay-" + strconv.Itoa(g.seq)
	return &model.Charge{PaymentID: id, Provider: "mock", Amount: amount, PixCode: "pix-" + id}, nil
}

func (g *MockGateway) CheckStatus(ctx context.Context, paymentID string) (bool, error) {
	g.mu.Lock()
	g.Checks++
	g.mu.Unlock()
	if g.CheckStatusFunc != nil {
		return g.CheckStatusFunc(ctx, paymentID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paid[paymentID], nil
}
