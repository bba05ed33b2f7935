package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the installment cadence of a payment plan.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// Valid reports whether f is a supported cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// PlanStatus is the aggregate state of a payment plan.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// PaymentPlan is an agreed total collected over a fixed installment schedule
// for one booked session. It is the sole owner of its PaymentRecords.
type PaymentPlan struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	SessionID          string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_plans_session" json:"session_id"`
	UserID             uint            `gorm:"not null;index" json:"user_id"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'IDR'" json:"currency"`
	Frequency          Frequency       `gorm:"type:varchar(16);not null" json:"frequency"`
	StartDate          time.Time       `gorm:"type:date;not null" json:"start_date"`
	EndDate            time.Time       `gorm:"type:date;not null" json:"end_date"`
	TotalPayments      int             `gorm:"not null" json:"total_payments"`
	AmountPaid         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount_paid"`
	RemainingBalance   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"remaining_balance"`
	PaymentsCompleted  int             `gorm:"not null;default:0" json:"payments_completed"`
	Status             PlanStatus      `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	NextPaymentDate    *time.Time      `gorm:"type:date;default:null" json:"next_payment_date,omitempty"`
	ReminderDaysBefore int             `gorm:"not null;default:3" json:"reminder_days_before"`
	Version            int64           `gorm:"not null;default:1" json:"version"`
	CancelledAt        *time.Time      `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentPlan) TableName() string {
	return "payment_plans"
}

// IsActive reports whether the scheduler should still process the plan.
func (p *PaymentPlan) IsActive() bool {
	return p.Status == PlanStatusActive
}
