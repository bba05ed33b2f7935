package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of one installment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusInvoiced  PaymentStatus = "invoiced"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusOverdue   PaymentStatus = "overdue"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusCancelled
}

// PaymentRecord is one scheduled installment of a PaymentPlan.
type PaymentRecord struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	PlanID             uint            `gorm:"not null;uniqueIndex:ux_payment_records_plan_number,priority:1" json:"plan_id"`
	SessionID          string          `gorm:"type:varchar(64);not null;index" json:"session_id"`
	UserID             uint            `gorm:"not null;index" json:"user_id"`
	PaymentNumber      int             `gorm:"not null;uniqueIndex:ux_payment_records_plan_number,priority:2" json:"payment_number"`
	DueDate            time.Time       `gorm:"type:date;not null;index:idx_payment_records_status_due,priority:2" json:"due_date"`
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	TipAmount          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tip_amount"`
	Status             PaymentStatus   `gorm:"type:varchar(16);not null;default:'pending';index:idx_payment_records_status_due,priority:1" json:"status"`
	InvoiceSent        bool            `gorm:"not null;default:false" json:"invoice_sent"`
	InvoiceSentAt      *time.Time      `gorm:"type:timestamp;default:null" json:"invoice_sent_at,omitempty"`
	InvoiceAttempts    int             `gorm:"not null;default:0" json:"invoice_attempts"`
	ExternalInvoiceRef string          `gorm:"type:varchar(191);index" json:"external_invoice_ref,omitempty"`
	ExternalInvoiceURL string          `gorm:"type:varchar(512)" json:"external_invoice_url,omitempty"`
	ReminderSent       bool            `gorm:"not null;default:false" json:"reminder_sent"`
	ReminderSentAt     *time.Time      `gorm:"type:timestamp;default:null" json:"reminder_sent_at,omitempty"`
	PaidDate           *time.Time      `gorm:"type:timestamp;default:null" json:"paid_date,omitempty"`
	PaymentMethod      string          `gorm:"type:varchar(64)" json:"payment_method,omitempty"`
	Notes              string          `gorm:"type:text" json:"notes,omitempty"`
	DispatchToken      string          `gorm:"type:varchar(64)" json:"-"`
	DispatchClaimedAt  *time.Time      `gorm:"type:timestamp;default:null" json:"-"`
	Version            int64           `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentRecord) TableName() string {
	return "payment_records"
}

// InvoiceAmount is the amount billed for this installment, tip included.
func (r *PaymentRecord) InvoiceAmount() decimal.Decimal {
	return r.Amount.Add(r.TipAmount)
}

// IsOpen reports whether the installment still awaits payment.
func (r *PaymentRecord) IsOpen() bool {
	switch r.Status {
	case PaymentStatusPending, PaymentStatusInvoiced, PaymentStatusOverdue:
		return true
	default:
		return false
	}
}
