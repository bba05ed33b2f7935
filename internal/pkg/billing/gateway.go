package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorKind classifies gateway failures so callers can decide between
// retrying on the next tick and alerting a human.
type ErrorKind string

const (
	KindGatewayUnavailable ErrorKind = "gateway_unavailable"
	KindCustomerNotReady   ErrorKind = "customer_not_ready"
	KindPermanentRejection ErrorKind = "permanent_rejection"
)

// GatewayError is the only error type a Gateway returns.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is matches any GatewayError of the same kind, so the Err* values below work
// as sentinels with errors.Is.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the next tick may safely try again.
func (e *GatewayError) Retryable() bool {
	return e.Kind == KindGatewayUnavailable
}

var (
	ErrGatewayUnavailable = &GatewayError{Kind: KindGatewayUnavailable}
	ErrCustomerNotReady   = &GatewayError{Kind: KindCustomerNotReady}
	ErrPermanentRejection = &GatewayError{Kind: KindPermanentRejection}
)

// NewGatewayError builds a GatewayError of the given kind.
func NewGatewayError(kind ErrorKind, err error, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the gateway error kind carried by err, or "" if none.
func KindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// Customer identifies the payer at the gateway.
type Customer struct {
	Ref      string
	FullName string
	Email    string
	Phone    string
}

// InvoiceRequest describes one payable invoice for one installment.
// IdempotencyKey is stable for a given (installment, attempt) pair.
type InvoiceRequest struct {
	Customer       Customer
	Amount         decimal.Decimal
	Currency       string
	Description    string
	DueInDays      int
	IdempotencyKey string
}

// Invoice is the gateway's confirmation of a created and sent invoice.
type Invoice struct {
	ID  string
	URL string
}

// Gateway creates and sends a payable invoice. Implementations must honour
// ctx cancellation and return *GatewayError on failure.
type Gateway interface {
	CreateAndSendInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// CustomerDirectory resolves the gateway customer for a studio client.
// It returns ErrCustomerNotReady when no usable billing account exists.
type CustomerDirectory interface {
	LookupCustomer(ctx context.Context, userID uint) (*Customer, error)
}
