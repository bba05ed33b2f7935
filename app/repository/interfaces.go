package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/StudioDesk/app/models"
)

// ErrConcurrentModification is returned when a conditional update finds the
// row at a different version than the caller read.
var ErrConcurrentModification = errors.New("concurrent modification")

// MaxReminderDays bounds ReminderDaysBefore so the reminder scan window stays small.
const MaxReminderDays = 30

// PaymentRepository is the durable store for plans and installments. Every
// mutation is conditional on the version the caller last read.
type PaymentRepository interface {
	CreatePlan(ctx context.Context, plan *models.PaymentPlan, records []models.PaymentRecord) error
	GetPlan(ctx context.Context, id uint) (*models.PaymentPlan, error)
	GetPlanBySession(ctx context.Context, sessionID string) (*models.PaymentPlan, error)
	// LockPlan loads the plan with a row lock; only meaningful inside WithTx.
	LockPlan(ctx context.Context, id uint) (*models.PaymentPlan, error)
	GetRecord(ctx context.Context, id uint) (*models.PaymentRecord, error)
	GetRecordByInvoiceRef(ctx context.Context, ref string) (*models.PaymentRecord, error)
	GetRecordByPlanAndNumber(ctx context.Context, planID uint, number int) (*models.PaymentRecord, error)
	ListRecords(ctx context.Context, planID uint) ([]models.PaymentRecord, error)

	// ListDueForInvoice returns never-invoiced pending or overdue records of
	// active plans with due_date <= asOf.
	ListDueForInvoice(ctx context.Context, asOf time.Time) ([]models.PaymentRecord, error)
	// ListDueForReminder returns pending, unreminded records of active plans
	// whose due date lies in [today, today + plan.reminder_days_before].
	ListDueForReminder(ctx context.Context, today time.Time) ([]models.PaymentRecord, error)
	// ListOverdueCandidates returns pending or invoiced records of active
	// plans with due_date < asOf.
	ListOverdueCandidates(ctx context.Context, asOf time.Time) ([]models.PaymentRecord, error)

	UpdateRecord(ctx context.Context, id uint, expectedVersion int64, upd RecordUpdate) (*models.PaymentRecord, error)
	UpdatePlan(ctx context.Context, id uint, expectedVersion int64, upd PlanUpdate) (*models.PaymentPlan, error)

	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(repo PaymentRepository) error) error
}

// RecordUpdate lists the installment columns a caller wants to change. Nil
// fields are left untouched. The Require* guards are added to the WHERE
// clause next to the version check.
type RecordUpdate struct {
	Status             *models.PaymentStatus
	InvoiceSent        *bool
	InvoiceSentAt      *time.Time
	InvoiceAttempts    *int
	ExternalInvoiceRef *string
	ExternalInvoiceURL *string
	ReminderSent       *bool
	ReminderSentAt     *time.Time
	PaidDate           *time.Time
	PaymentMethod      *string
	Notes              *string
	TipAmount          *decimal.Decimal
	DispatchToken      *string
	DispatchClaimedAt  *time.Time
	// ReleaseDispatch clears the dispatch lease columns.
	ReleaseDispatch bool

	RequireInvoiceNotSent  bool
	RequireReminderNotSent bool
}

// PlanUpdate lists the plan columns a caller wants to change.
type PlanUpdate struct {
	AmountPaid        *decimal.Decimal
	RemainingBalance  *decimal.Decimal
	PaymentsCompleted *int
	Status            *models.PlanStatus
	NextPaymentDate   *time.Time
	// ClearNextPaymentDate sets next_payment_date to NULL.
	ClearNextPaymentDate bool
	CancelledAt          *time.Time
}

// Repositories struct holds all repository instances
type Repositories struct {
	Payment PaymentRepository
}
