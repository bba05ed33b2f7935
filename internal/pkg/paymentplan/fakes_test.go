package paymentplan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/clock"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/testutil"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []billing.InvoiceRequest
	// failFor maps a payment's session id to the error returned for it.
	failFor map[string]error
	delay   time.Duration
}

func (g *fakeGateway) CreateAndSendInvoice(ctx context.Context, req billing.InvoiceRequest) (*billing.Invoice, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, billing.NewGatewayError(billing.KindGatewayUnavailable, ctx.Err(), "fake timeout")
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	for session, err := range g.failFor {
		if strings.Contains(req.Description, "Session "+session+" ") {
			return nil, err
		}
	}
	return &billing.Invoice{ID: req.IdempotencyKey, URL: "https://pay.example/" + req.IdempotencyKey}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) keys() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int)
	for _, c := range g.calls {
		out[c.IdempotencyKey]++
	}
	return out
}

type fakeCustomers struct {
	missing map[uint]bool
}

func (c *fakeCustomers) LookupCustomer(ctx context.Context, userID uint) (*billing.Customer, error) {
	if c.missing[userID] {
		return nil, billing.NewGatewayError(billing.KindCustomerNotReady, nil, "no account for %d", userID)
	}
	return &billing.Customer{Ref: "cust", FullName: "Client", Email: "client@example.com"}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, to notify.Recipient, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	svc       *Service
	repo      repository.PaymentRepository
	gateway   *fakeGateway
	customers *fakeCustomers
	notifier  *fakeNotifier
	clock     *clock.Fixed
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		repo:      repository.NewPaymentRepository(testutil.OpenTestDB(t)),
		gateway:   &fakeGateway{failFor: map[string]error{}},
		customers: &fakeCustomers{missing: map[uint]bool{}},
		notifier:  &fakeNotifier{},
		clock:     clock.NewFixed(now),
	}
	cfg := DefaultConfig()
	cfg.GatewayTimeout = 2 * time.Second
	f.svc = NewService(Dependencies{
		Repo:      f.repo,
		Gateway:   f.gateway,
		Customers: f.customers,
		Notifier:  f.notifier,
		Clock:     f.clock,
	}, cfg)
	return f
}

func (f *fixture) createPlan(t *testing.T, session, total string, start, end time.Time, freq models.Frequency) *PlanWithRecords {
	t.Helper()
	out, err := f.svc.CreatePaymentPlan(context.Background(), CreatePlanInput{
		SessionID:   session,
		UserID:      7,
		TotalAmount: decimal.RequireFromString(total),
		StartDate:   start,
		EndDate:     end,
		Frequency:   freq,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) record(t *testing.T, id uint) *models.PaymentRecord {
	t.Helper()
	rec, err := f.repo.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) plan(t *testing.T, id uint) *models.PaymentPlan {
	t.Helper()
	p, err := f.repo.GetPlan(context.Background(), id)
	require.NoError(t, err)
	return p
}

var errGatewayDown = billing.NewGatewayError(billing.KindGatewayUnavailable, errors.New("503"), "gateway down")
