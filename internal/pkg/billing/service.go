package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service owns billing identities and inbound gateway notifications.
type Service struct {
	repo Repository
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// AccountInput carries the contact data for a billing account.
type AccountInput struct {
	UserID              uint
	Provider            string
	ProviderCustomerRef string
	FullName            string
	Email               string
	Phone               string
}

// UpsertBillingAccount creates or updates the billing identity of a client.
func (s *Service) UpsertBillingAccount(ctx context.Context, in AccountInput) (*models.BillingAccount, error) {
	p := strings.ToLower(strings.TrimSpace(in.Provider))
	if in.UserID == 0 || p == "" {
		return nil, errors.New("user_id and provider are required")
	}

	account := &models.BillingAccount{
		UserID:              in.UserID,
		Provider:            p,
		ProviderCustomerRef: strings.TrimSpace(in.ProviderCustomerRef),
		FullName:            strings.TrimSpace(in.FullName),
		Email:               strings.TrimSpace(in.Email),
		Phone:               strings.TrimSpace(in.Phone),
	}
	if err := s.repo.UpsertBillingAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// LookupCustomer implements CustomerDirectory. The most recently updated
// reachable account wins; a client without one is not ready for invoicing.
func (s *Service) LookupCustomer(ctx context.Context, userID uint) (*Customer, error) {
	accounts, err := s.repo.ListBillingAccountsByUser(ctx, userID)
	if err != nil {
		return nil, NewGatewayError(KindGatewayUnavailable, err, "load billing account for user %d", userID)
	}
	for i := range accounts {
		a := &accounts[i]
		if !a.IsReachable() {
			continue
		}
		ref := a.ProviderCustomerRef
		if ref == "" {
			ref = "user-" + strconv.FormatUint(uint64(a.UserID), 10)
		}
		return &Customer{
			Ref:      ref,
			FullName: a.FullName,
			Email:    a.Email,
			Phone:    a.Phone,
		}, nil
	}
	return nil, NewGatewayError(KindCustomerNotReady, nil, "user %d has no reachable billing account", userID)
}

// WebhookEventInput describes one inbound notification before processing.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// RecordWebhookEvent stores the event once. It returns false for redeliveries.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     datatypes.JSON(in.PayloadJSON),
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed records the processing outcome of a stored event.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// ReserveGatewayOrder returns the gateway order for an idempotency key,
// creating it with the key as order id on first use. created is false when an
// earlier attempt already reserved the key.
func (s *Service) ReserveGatewayOrder(ctx context.Context, provider, key string) (bool, *models.BillingGatewayOrder, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil, errors.New("idempotency key is required")
	}
	return s.repo.CreateGatewayOrderIfNotExists(ctx, &models.BillingGatewayOrder{
		Provider:       strings.ToLower(strings.TrimSpace(provider)),
		IdempotencyKey: key,
		OrderID:        key,
	})
}

// ReviseGatewayOrder abandons an unconfirmed order id and moves the key to
// the next revision, "<key>-r<n>". The abandoned order never produced a link
// that was sent, so nobody can pay it.
func (s *Service) ReviseGatewayOrder(ctx context.Context, order *models.BillingGatewayOrder) (*models.BillingGatewayOrder, error) {
	if order.IsConfirmed() {
		return order, nil
	}
	revision := order.Revision + 1
	next := order.IdempotencyKey + "-r" + strconv.Itoa(revision)
	if err := s.repo.ReviseGatewayOrder(ctx, order.ID, order.OrderID, next, revision); err != nil {
		return nil, err
	}
	revised := *order
	revised.OrderID = next
	revised.Revision = revision
	return &revised, nil
}

// ConfirmGatewayOrder stores the payment link the gateway returned for orderID.
func (s *Service) ConfirmGatewayOrder(ctx context.Context, orderID, token, redirectURL string) error {
	if strings.TrimSpace(redirectURL) == "" {
		return errors.New("redirect url is required")
	}
	return s.repo.ConfirmGatewayOrder(ctx, orderID, token, redirectURL)
}
