package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/snap"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
)

// MidtransConfig holds the Snap credentials.
type MidtransConfig struct {
	ServerKey  string
	Production bool
}

// LoadMidtransConfig reads MIDTRANS_* from the environment.
func LoadMidtransConfig() MidtransConfig {
	return MidtransConfig{
		ServerKey:  env.GetEnv("MIDTRANS_SERVER_KEY", ""),
		Production: env.GetBool("MIDTRANS_PRODUCTION", false),
	}
}

// SnapCreator is the part of snap.Client the gateway uses.
type SnapCreator interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

// NewSnapClient initialises a snap.Client for the configured environment.
func NewSnapClient(cfg MidtransConfig) *snap.Client {
	var c snap.Client
	if cfg.Production {
		c.New(cfg.ServerKey, midtrans.Production)
	} else {
		c.New(cfg.ServerKey, midtrans.Sandbox)
	}
	return &c
}

// OrderStore persists the Snap order issued per idempotency key.
// *Service implements it.
type OrderStore interface {
	ReserveGatewayOrder(ctx context.Context, provider, key string) (bool, *models.BillingGatewayOrder, error)
	ReviseGatewayOrder(ctx context.Context, order *models.BillingGatewayOrder) (*models.BillingGatewayOrder, error)
	ConfirmGatewayOrder(ctx context.Context, orderID, token, redirectURL string) error
}

// MidtransGateway creates a Snap transaction per invoice and emails the
// payment link to the customer. The link is stored before it is sent, so a
// retry of the same idempotency key re-sends the stored link instead of
// creating a second order. Snap rejects a reused order_id, so a key whose
// order was never confirmed moves on to a fresh revision.
type MidtransGateway struct {
	snap     SnapCreator
	notifier notify.Transport
	orders   OrderStore
}

// NewMidtransGateway wires a Snap client, the link transport and the order store.
func NewMidtransGateway(client SnapCreator, notifier notify.Transport, orders OrderStore) *MidtransGateway {
	return &MidtransGateway{
		snap:     client,
		notifier: notifier,
		orders:   orders,
	}
}

// CreateAndSendInvoice implements Gateway.
func (g *MidtransGateway) CreateAndSendInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if req.IdempotencyKey == "" {
		return nil, NewGatewayError(KindPermanentRejection, nil, "idempotency key is required")
	}
	if !req.Amount.IsPositive() {
		return nil, NewGatewayError(KindPermanentRejection, nil, "amount must be positive, got %s", req.Amount)
	}
	// Snap takes integer gross amounts.
	if !req.Amount.Equal(req.Amount.Truncate(0)) {
		return nil, NewGatewayError(KindPermanentRejection, nil, "midtrans requires whole-unit amounts, got %s", req.Amount)
	}
	if req.Customer.Email == "" {
		return nil, NewGatewayError(KindCustomerNotReady, nil, "customer %s has no email for the payment link", req.Customer.Ref)
	}

	inv, err := g.orderInvoice(ctx, req)
	if err != nil {
		return nil, err
	}

	msg := notify.Message{
		Subject: req.Description,
		Body: fmt.Sprintf("Your invoice of %s %s is ready. Please pay within %d days: %s",
			req.Amount.StringFixed(0), req.Currency, req.DueInDays, inv.URL),
	}
	to := notify.Recipient{Name: req.Customer.FullName, Email: req.Customer.Email, Phone: req.Customer.Phone}
	if err := g.notifier.Send(ctx, to, msg); err != nil {
		return nil, NewGatewayError(KindGatewayUnavailable, err, "deliver payment link for %s", inv.ID)
	}
	return inv, nil
}

// orderInvoice returns the confirmed Snap order for req, creating it if needed.
func (g *MidtransGateway) orderInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	created, order, err := g.orders.ReserveGatewayOrder(ctx, models.BillingProviderMidtrans, req.IdempotencyKey)
	if err != nil {
		return nil, NewGatewayError(KindGatewayUnavailable, err, "reserve order %s", req.IdempotencyKey)
	}
	if order.IsConfirmed() {
		log.Infof("[Midtrans] Reusing snap transaction %s", order.OrderID)
		return &Invoice{ID: order.OrderID, URL: order.RedirectURL}, nil
	}
	if !created {
		// An earlier attempt may have created this order id at Snap without
		// us learning its link.
		abandoned := order.OrderID
		if order, err = g.orders.ReviseGatewayOrder(ctx, order); err != nil {
			return nil, NewGatewayError(KindGatewayUnavailable, err, "revise order %s", req.IdempotencyKey)
		}
		log.Warnf("[Midtrans] Abandoned unconfirmed snap order %s, retrying as %s", abandoned, order.OrderID)
	}
	return g.createTransaction(ctx, req, order.OrderID)
}

func (g *MidtransGateway) createTransaction(ctx context.Context, req InvoiceRequest, orderID string) (*Invoice, error) {
	amount := req.Amount.IntPart()
	first, last := splitName(req.Customer.FullName)
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: first,
			LName: last,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.IdempotencyKey,
				Name:  truncate(req.Description, 50),
				Price: amount,
				Qty:   1,
			},
		},
	}
	if req.DueInDays > 0 {
		snapReq.Expiry = &snap.ExpiryDetails{Unit: "day", Duration: int64(req.DueInDays)}
	}

	// Snap ignores ctx. The goroutine confirms a late success on its own so
	// the next attempt finds the link instead of a taken order_id.
	done := make(chan error, 1)
	var inv *Invoice
	go func() {
		resp, merr := g.snap.CreateTransaction(snapReq)
		if merr != nil {
			done <- classifyMidtransError(merr)
			return
		}
		if resp == nil || resp.RedirectURL == "" {
			done <- NewGatewayError(KindGatewayUnavailable, nil, "snap returned no redirect url for %s", orderID)
			return
		}
		if err := g.orders.ConfirmGatewayOrder(context.Background(), orderID, resp.Token, resp.RedirectURL); err != nil {
			log.Errorf("[Midtrans] Snap transaction %s created but not stored: %v", orderID, err)
			done <- NewGatewayError(KindGatewayUnavailable, err, "store order %s", orderID)
			return
		}
		log.Infof("[Midtrans] Created snap transaction %s", orderID)
		inv = &Invoice{ID: orderID, URL: resp.RedirectURL}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return nil, NewGatewayError(KindGatewayUnavailable, ctx.Err(), "snap create %s", orderID)
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
}

// classifyMidtransError maps Snap HTTP failures onto gateway error kinds.
func classifyMidtransError(merr *midtrans.Error) *GatewayError {
	code := merr.StatusCode
	switch {
	case isDuplicateOrder(merr):
		// The order exists at Snap but its link is unknown here; the next
		// attempt revises the order id.
		return NewGatewayError(KindGatewayUnavailable, merr, "snap order id already taken")
	case code == 0 || code >= http.StatusInternalServerError || code == http.StatusTooManyRequests:
		return NewGatewayError(KindGatewayUnavailable, merr, "snap status %d", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewGatewayError(KindCustomerNotReady, merr, "snap status %d", code)
	default:
		return NewGatewayError(KindPermanentRejection, merr, "snap status %d", code)
	}
}

// isDuplicateOrder matches Snap's answer to a reused order_id.
func isDuplicateOrder(merr *midtrans.Error) bool {
	if merr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(merr.Message)
	if merr.RawError != nil {
		msg += " " + strings.ToLower(merr.RawError.Error())
	}
	return strings.Contains(msg, "order_id") &&
		(strings.Contains(msg, "taken") || strings.Contains(msg, "already") || strings.Contains(msg, "sudah digunakan"))
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if i := strings.LastIndex(full, " "); i > 0 {
		return full[:i], full[i+1:]
	}
	return full, ""
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
