package paymentplan

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/clock"
)

var transitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending:  {models.PaymentStatusInvoiced, models.PaymentStatusOverdue, models.PaymentStatusPaid, models.PaymentStatusCancelled},
	models.PaymentStatusInvoiced: {models.PaymentStatusOverdue, models.PaymentStatusPaid, models.PaymentStatusCancelled},
	models.PaymentStatusOverdue:  {models.PaymentStatusPaid, models.PaymentStatusCancelled},
}

// CanTransition reports whether an installment may move from one status to another.
func CanTransition(from, to models.PaymentStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition validates moving rec to the target status at now.
func CheckTransition(rec *models.PaymentRecord, to models.PaymentStatus, now time.Time) error {
	if rec.Status == models.PaymentStatusPaid && to == models.PaymentStatusPaid {
		return ErrAlreadyPaid
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: payment %d is %s", ErrIllegalTransition, rec.ID, rec.Status)
	}
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, to)
	}
	if to == models.PaymentStatusOverdue && !rec.DueDate.Before(clock.Today(now)) {
		return fmt.Errorf("%w: payment %d is not past due", ErrIllegalTransition, rec.ID)
	}
	return nil
}

// statusAfterInvoice returns the status a record takes once its invoice is
// confirmed. Only pending records become invoiced; an overdue record keeps
// its status and just gains the invoice flags.
func statusAfterInvoice(from models.PaymentStatus) models.PaymentStatus {
	if from == models.PaymentStatusPending {
		return models.PaymentStatusInvoiced
	}
	return from
}
