package paymentplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/app/repository"
)

// balanceEpsilon is the cent-level tolerance for plan completion.
var balanceEpsilon = decimal.New(5, -3)

// MarkPaymentReceived marks one installment paid and updates the plan
// aggregates in the same transaction. The plan row is locked first, so two
// payments on the same plan are applied one after the other.
func (s *Service) MarkPaymentReceived(ctx context.Context, paymentID uint, method, notes string) (*models.PaymentRecord, error) {
	rec, err := s.getRecord(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	planID := rec.PlanID
	method = strings.TrimSpace(method)
	if method == "" {
		method = "manual"
	}

	var paid *models.PaymentRecord
	var plan *models.PaymentPlan
	err = s.retryOnConflict(func() error {
		return s.repo.WithTx(ctx, func(tx repository.PaymentRepository) error {
			var err error
			paid, plan, err = s.applyPayment(ctx, tx, planID, paymentID, method, notes)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if plan.Status == models.PlanStatusCompleted {
		log.Infof("[PaymentPlan] Payment %d received, plan %d (%s) completed", paid.ID, plan.ID, plan.SessionID)
	} else {
		log.Infof("[PaymentPlan] Payment %d received, plan %d (%s) remaining %s %s",
			paid.ID, plan.ID, plan.SessionID, plan.RemainingBalance.StringFixed(2), plan.Currency)
	}
	return paid, nil
}

func (s *Service) applyPayment(ctx context.Context, tx repository.PaymentRepository, planID, paymentID uint, method, notes string) (*models.PaymentRecord, *models.PaymentPlan, error) {
	plan, err := tx.LockPlan(ctx, planID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrPlanNotFound
		}
		return nil, nil, err
	}
	// Re-read under the plan lock.
	rec, err := tx.GetRecord(ctx, paymentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrPaymentNotFound
		}
		return nil, nil, err
	}

	now := s.clock.Now()
	if err := CheckTransition(rec, models.PaymentStatusPaid, now); err != nil {
		return nil, nil, err
	}

	status := models.PaymentStatusPaid
	paid, err := tx.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{
		Status:          &status,
		PaidDate:        &now,
		PaymentMethod:   &method,
		Notes:           &notes,
		ReleaseDispatch: true,
	})
	if err != nil {
		return nil, nil, err
	}

	amountPaid := plan.AmountPaid.Add(rec.Amount)
	remaining := plan.TotalAmount.Sub(amountPaid)
	completed := plan.PaymentsCompleted + 1
	upd := repository.PlanUpdate{
		AmountPaid:        &amountPaid,
		RemainingBalance:  &remaining,
		PaymentsCompleted: &completed,
	}

	if remaining.LessThanOrEqual(balanceEpsilon) {
		done := models.PlanStatusCompleted
		upd.Status = &done
		upd.ClearNextPaymentDate = true
	} else {
		records, err := tx.ListRecords(ctx, plan.ID)
		if err != nil {
			return nil, nil, err
		}
		if next := nextOpenDueDate(records); next != nil {
			upd.NextPaymentDate = next
		} else {
			upd.ClearNextPaymentDate = true
		}
	}

	updatedPlan, err := tx.UpdatePlan(ctx, plan.ID, plan.Version, upd)
	if err != nil {
		return nil, nil, err
	}
	return paid, updatedPlan, nil
}

// HandleGatewayNotification applies a verified settlement notification to the
// installment invoiced under ref. A ref that is no longer the stored one, such
// as a link from a superseded resend or a send whose commit was lost, is
// matched by the plan and installment number encoded in it. A redelivery for
// an installment that is already paid reports duplicate=true instead of an
// error.
func (s *Service) HandleGatewayNotification(ctx context.Context, ref, method, notes string) (rec *models.PaymentRecord, duplicate bool, err error) {
	found, err := s.recordForInvoiceRef(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	rec, err = s.MarkPaymentReceived(ctx, found.ID, method, notes)
	if errors.Is(err, ErrAlreadyPaid) {
		if found.ExternalInvoiceRef != ref {
			log.Warnf("[PaymentPlan] Settlement %s for payment %d that is already paid under %s, check for a double payment",
				ref, found.ID, found.ExternalInvoiceRef)
		}
		return found, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func (s *Service) recordForInvoiceRef(ctx context.Context, ref string) (*models.PaymentRecord, error) {
	found, err := s.repo.GetRecordByInvoiceRef(ctx, ref)
	if err == nil {
		return found, nil
	}
	if !repository.IsNotFound(err) {
		return nil, err
	}

	planID, number, ok := parseInvoiceRef(ref)
	if !ok {
		return nil, fmt.Errorf("%w: no installment invoiced as %s", ErrPaymentNotFound, ref)
	}
	found, err = s.repo.GetRecordByPlanAndNumber(ctx, planID, number)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: no installment %d on plan %d for %s", ErrPaymentNotFound, number, planID, ref)
		}
		return nil, err
	}
	log.Infof("[PaymentPlan] Settlement %s matched payment %d invoiced as %q", ref, found.ID, found.ExternalInvoiceRef)
	return found, nil
}

// nextOpenDueDate returns the earliest due date among unpaid installments.
// Overdue ones count: they are still owed.
func nextOpenDueDate(records []models.PaymentRecord) *time.Time {
	var next *time.Time
	for i := range records {
		if !records[i].IsOpen() {
			continue
		}
		d := records[i].DueDate
		if next == nil || d.Before(*next) {
			next = &d
		}
	}
	return next
}
