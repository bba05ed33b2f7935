// Package paymentplan schedules installment plans for photography sessions,
// dispatches invoices and reminders, and reconciles received payments.
package paymentplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/clock"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
)

const (
	maxReminderDays = repository.MaxReminderDays
	// maxConflictRetries bounds re-reads after a lost optimistic update.
	maxConflictRetries = 3
)

// Dependencies are the collaborators a Service is built from.
type Dependencies struct {
	Repo      repository.PaymentRepository
	Gateway   billing.Gateway
	Customers billing.CustomerDirectory
	Notifier  notify.Transport
	Clock     clock.Clock
}

// Service is the entry point for the web layer, the CLI and the scheduler.
type Service struct {
	repo      repository.PaymentRepository
	gateway   billing.Gateway
	customers billing.CustomerDirectory
	notifier  notify.Transport
	clock     clock.Clock
	cfg       Config
	validate  *validator.Validate
}

// NewService builds a Service. A nil clock falls back to the system clock.
func NewService(deps Dependencies, cfg Config) *Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		repo:      deps.Repo,
		gateway:   deps.Gateway,
		customers: deps.Customers,
		notifier:  deps.Notifier,
		clock:     clk,
		cfg:       cfg.normalize(),
		validate:  validator.New(),
	}
}

// CreatePlanInput describes a new plan for one session.
type CreatePlanInput struct {
	SessionID          string           `json:"session_id" validate:"required,max=64"`
	UserID             uint             `json:"user_id" validate:"required"`
	TotalAmount        decimal.Decimal  `json:"total_amount"`
	StartDate          time.Time        `json:"start_date" validate:"required"`
	EndDate            time.Time        `json:"end_date" validate:"required"`
	Frequency          models.Frequency `json:"frequency" validate:"required"`
	ReminderDaysBefore *int             `json:"reminder_days_before" validate:"omitempty,min=0,max=30"`
	Currency           string           `json:"currency" validate:"omitempty,len=3"`
}

// PlanWithRecords is a plan together with its installments ordered by number.
type PlanWithRecords struct {
	Plan    *models.PaymentPlan    `json:"plan"`
	Records []models.PaymentRecord `json:"records"`
}

// CreatePaymentPlan computes the schedule and persists the plan and all of its
// installments atomically.
func (s *Service) CreatePaymentPlan(ctx context.Context, in CreatePlanInput) (*PlanWithRecords, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	schedule, err := BuildSchedule(in.TotalAmount, in.StartDate, in.EndDate, in.Frequency)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetPlanBySession(ctx, in.SessionID); err == nil {
		return nil, ErrPlanExists
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	reminderDays := s.cfg.DefaultReminderDays
	if in.ReminderDaysBefore != nil {
		reminderDays = *in.ReminderDaysBefore
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = s.cfg.Currency
	}

	first := schedule.FirstDueDate()
	last := schedule.Installments[len(schedule.Installments)-1].DueDate
	plan := &models.PaymentPlan{
		SessionID:          in.SessionID,
		UserID:             in.UserID,
		TotalAmount:        in.TotalAmount,
		Currency:           currency,
		Frequency:          in.Frequency,
		StartDate:          clock.Today(in.StartDate),
		EndDate:            clock.Today(in.EndDate),
		TotalPayments:      len(schedule.Installments),
		AmountPaid:         decimal.Zero,
		RemainingBalance:   in.TotalAmount,
		PaymentsCompleted:  0,
		Status:             models.PlanStatusActive,
		NextPaymentDate:    &first,
		ReminderDaysBefore: reminderDays,
		Version:            1,
	}
	records := make([]models.PaymentRecord, len(schedule.Installments))
	for i, inst := range schedule.Installments {
		records[i] = models.PaymentRecord{
			SessionID:     in.SessionID,
			UserID:        in.UserID,
			PaymentNumber: inst.Number,
			DueDate:       inst.DueDate,
			Amount:        inst.Amount,
			TipAmount:     decimal.Zero,
			Status:        models.PaymentStatusPending,
			Version:       1,
		}
	}

	if err := s.repo.CreatePlan(ctx, plan, records); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrPlanExists
		}
		return nil, err
	}

	log.Infof("[PaymentPlan] Created plan %d for session %s: %d %s installments of %s %s until %s",
		plan.ID, plan.SessionID, plan.TotalPayments, plan.Frequency,
		schedule.InstallmentAmount.StringFixed(2), plan.Currency, last.Format("2006-01-02"))
	return &PlanWithRecords{Plan: plan, Records: records}, nil
}

// GetPaymentPlan returns the plan and installments of a session.
func (s *Service) GetPaymentPlan(ctx context.Context, sessionID string) (*PlanWithRecords, error) {
	plan, err := s.repo.GetPlanBySession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, plan.ID)
	if err != nil {
		return nil, err
	}
	return &PlanWithRecords{Plan: plan, Records: records}, nil
}

// CancelPaymentPlan cancels a plan and every open installment. Cancelling an
// already cancelled plan returns it unchanged; a completed plan cannot be
// cancelled.
func (s *Service) CancelPaymentPlan(ctx context.Context, sessionID string) (*PlanWithRecords, error) {
	current, err := s.GetPaymentPlan(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	planID := current.Plan.ID

	err = s.retryOnConflict(func() error {
		return s.repo.WithTx(ctx, func(tx repository.PaymentRepository) error {
			plan, err := tx.LockPlan(ctx, planID)
			if err != nil {
				return err
			}
			switch plan.Status {
			case models.PlanStatusCancelled:
				return nil
			case models.PlanStatusCompleted:
				return fmt.Errorf("%w: plan %d is completed", ErrIllegalTransition, plan.ID)
			}

			records, err := tx.ListRecords(ctx, plan.ID)
			if err != nil {
				return err
			}
			cancelled := models.PaymentStatusCancelled
			for i := range records {
				if !records[i].IsOpen() {
					continue
				}
				if _, err := tx.UpdateRecord(ctx, records[i].ID, records[i].Version, repository.RecordUpdate{
					Status:          &cancelled,
					ReleaseDispatch: true,
				}); err != nil {
					return err
				}
			}

			now := s.clock.Now()
			planCancelled := models.PlanStatusCancelled
			_, err = tx.UpdatePlan(ctx, plan.ID, plan.Version, repository.PlanUpdate{
				Status:               &planCancelled,
				ClearNextPaymentDate: true,
				CancelledAt:          &now,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[PaymentPlan] Cancelled plan %d for session %s", planID, current.Plan.SessionID)
	return s.GetPaymentPlan(ctx, sessionID)
}

// AddTip adds a gratuity to an open installment that has not been invoiced
// yet. The tip is billed with the installment but never counts toward the
// plan total.
func (s *Service) AddTip(ctx context.Context, paymentID uint, tip decimal.Decimal) (*models.PaymentRecord, error) {
	if !tip.IsPositive() || !tip.Equal(tip.Round(2)) {
		return nil, fmt.Errorf("%w: tip must be a positive amount with at most two decimals", ErrInvalidInput)
	}

	var out *models.PaymentRecord
	err := s.retryOnConflict(func() error {
		rec, err := s.getRecord(ctx, paymentID)
		if err != nil {
			return err
		}
		switch {
		case rec.Status == models.PaymentStatusPaid:
			return ErrAlreadyPaid
		case !rec.IsOpen():
			return fmt.Errorf("%w: payment %d is %s", ErrIllegalTransition, rec.ID, rec.Status)
		case rec.InvoiceSent:
			return fmt.Errorf("%w: payment %d is already invoiced", ErrIllegalTransition, rec.ID)
		}
		total := rec.TipAmount.Add(tip)
		out, err = s.repo.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{
			TipAmount:             &total,
			RequireInvoiceNotSent: true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) getRecord(ctx context.Context, id uint) (*models.PaymentRecord, error) {
	rec, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return rec, nil
}

// retryOnConflict reruns fn while it loses optimistic updates, up to
// maxConflictRetries attempts in total.
func (s *Service) retryOnConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return err
		}
	}
	return err
}
