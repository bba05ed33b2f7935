package paymentplan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
)

// errSkipped marks an item another worker already handled or holds.
var errSkipped = errors.New("skipped")

// SendPaymentInvoice dispatches the invoice of one installment. Without
// force it is a no-op for an installment that was already invoiced.
func (s *Service) SendPaymentInvoice(ctx context.Context, paymentID uint, force bool) (*models.PaymentRecord, error) {
	rec, err := s.getRecord(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.InvoiceSent && !force {
		return rec, nil
	}

	out, err := s.dispatchInvoice(ctx, rec, force)
	if errors.Is(err, errSkipped) {
		return nil, fmt.Errorf("%w: payment %d is being dispatched by another worker", ErrConcurrentModification, paymentID)
	}
	return out, err
}

// dispatchInvoice claims the dispatch lease for rec, calls the gateway and
// commits the invoice flags. Lifecycle fields are only written after the
// gateway confirmed the invoice.
func (s *Service) dispatchInvoice(ctx context.Context, rec *models.PaymentRecord, force bool) (*models.PaymentRecord, error) {
	token := uuid.NewString()

	claimed, err := s.claimDispatch(ctx, rec, token, force)
	if err != nil {
		return nil, err
	}

	plan, err := s.repo.GetPlan(ctx, claimed.PlanID)
	if err != nil {
		s.releaseDispatch(ctx, claimed, token)
		return nil, err
	}
	if !plan.IsActive() {
		s.releaseDispatch(ctx, claimed, token)
		return nil, fmt.Errorf("%w: plan %d is %s", ErrIllegalTransition, plan.ID, plan.Status)
	}

	customer, err := s.customers.LookupCustomer(ctx, claimed.UserID)
	if err != nil {
		s.releaseDispatch(ctx, claimed, token)
		return nil, err
	}

	attempt := claimed.InvoiceAttempts + 1
	req := billing.InvoiceRequest{
		Customer: *customer,
		Amount:   claimed.InvoiceAmount(),
		Currency: plan.Currency,
		Description: fmt.Sprintf("Session %s installment %d of %d due %s",
			plan.SessionID, claimed.PaymentNumber, plan.TotalPayments, claimed.DueDate.Format("2006-01-02")),
		DueInDays:      s.cfg.InvoiceDueDays,
		IdempotencyKey: invoiceKey(claimed, attempt),
	}

	inv, err := s.callGateway(ctx, req)
	if err != nil {
		s.releaseDispatch(ctx, claimed, token)
		return nil, err
	}

	committed, err := s.commitInvoice(ctx, claimed, token, inv, attempt)
	if err != nil {
		// The lease expires and the idempotency key stops a second invoice.
		log.Errorf("[PaymentPlan] Invoice %s for payment %d was sent but not recorded: %v", inv.ID, claimed.ID, err)
		return nil, err
	}
	log.Infof("[PaymentPlan] Invoiced payment %d (%s) ref=%s", committed.ID, committed.SessionID, inv.ID)
	return committed, nil
}

// invoiceKey is stable per installment and successful-send count, so a crash
// between gateway call and commit replays the same key.
func invoiceKey(rec *models.PaymentRecord, attempt int) string {
	return fmt.Sprintf("SD-%d-%d-%d", rec.PlanID, rec.PaymentNumber, attempt)
}

// parseInvoiceRef reads plan id and installment number back from an invoice
// key, with or without the gateway's "-r<n>" revision suffix.
func parseInvoiceRef(ref string) (planID uint, number int, ok bool) {
	rest, found := strings.CutPrefix(ref, "SD-")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "-")
	switch {
	case len(parts) == 3:
	case len(parts) == 4 && strings.HasPrefix(parts[3], "r"):
		if _, err := strconv.ParseUint(parts[3][1:], 10, 32); err != nil {
			return 0, 0, false
		}
	default:
		return 0, 0, false
	}
	plan, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || plan == 0 {
		return 0, 0, false
	}
	num, err := strconv.Atoi(parts[1])
	if err != nil || num < 1 {
		return 0, 0, false
	}
	if attempt, err := strconv.Atoi(parts[2]); err != nil || attempt < 1 {
		return 0, 0, false
	}
	return uint(plan), num, true
}

func (s *Service) claimDispatch(ctx context.Context, rec *models.PaymentRecord, token string, force bool) (*models.PaymentRecord, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := s.checkDispatchable(rec, force); err != nil {
			return nil, err
		}
		now := s.clock.Now()
		claimed, err := s.repo.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{
			DispatchToken:         &token,
			DispatchClaimedAt:     &now,
			RequireInvoiceNotSent: !force,
		})
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return nil, err
		}
		if rec, err = s.getRecord(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return nil, errSkipped
}

func (s *Service) checkDispatchable(rec *models.PaymentRecord, force bool) error {
	switch {
	case rec.Status == models.PaymentStatusPaid:
		return ErrAlreadyPaid
	case rec.Status == models.PaymentStatusCancelled:
		return fmt.Errorf("%w: payment %d is cancelled", ErrIllegalTransition, rec.ID)
	case rec.InvoiceSent && !force:
		return errSkipped
	case s.leaseHeld(rec):
		return errSkipped
	}
	return nil
}

func (s *Service) leaseHeld(rec *models.PaymentRecord) bool {
	if rec.DispatchToken == "" || rec.DispatchClaimedAt == nil {
		return false
	}
	return s.clock.Now().Before(rec.DispatchClaimedAt.Add(s.cfg.DispatchLease))
}

// callGateway bounds the gateway call by the configured timeout even if the
// implementation ignores ctx.
func (s *Service) callGateway(ctx context.Context, req billing.InvoiceRequest) (*billing.Invoice, error) {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	type result struct {
		inv *billing.Invoice
		err error
	}
	done := make(chan result, 1)
	go func() {
		inv, err := s.gateway.CreateAndSendInvoice(gctx, req)
		done <- result{inv: inv, err: err}
	}()

	select {
	case <-gctx.Done():
		return nil, billing.NewGatewayError(billing.KindGatewayUnavailable, gctx.Err(), "invoice %s timed out", req.IdempotencyKey)
	case r := <-done:
		if r.err != nil {
			var gerr *billing.GatewayError
			if !errors.As(r.err, &gerr) {
				return nil, billing.NewGatewayError(billing.KindGatewayUnavailable, r.err, "invoice %s", req.IdempotencyKey)
			}
			return nil, r.err
		}
		if r.inv == nil {
			return nil, billing.NewGatewayError(billing.KindGatewayUnavailable, nil, "invoice %s: empty gateway response", req.IdempotencyKey)
		}
		return r.inv, nil
	}
}

// commitInvoice writes the invoice result while the lease is still ours. A
// concurrent overdue or payment update only bumps the version, so the commit
// re-reads and retries as long as the token matches.
func (s *Service) commitInvoice(ctx context.Context, rec *models.PaymentRecord, token string, inv *billing.Invoice, attempts int) (*models.PaymentRecord, error) {
	sent := true
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		now := s.clock.Now()
		status := statusAfterInvoice(rec.Status)
		ref, url := inv.ID, inv.URL
		committed, err := s.repo.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{
			Status:             &status,
			InvoiceSent:        &sent,
			InvoiceSentAt:      &now,
			InvoiceAttempts:    &attempts,
			ExternalInvoiceRef: &ref,
			ExternalInvoiceURL: &url,
			ReleaseDispatch:    true,
		})
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return nil, err
		}
		if rec, err = s.repo.GetRecord(ctx, rec.ID); err != nil {
			return nil, err
		}
		if rec.DispatchToken != token {
			return nil, fmt.Errorf("%w: dispatch lease on payment %d was lost", ErrConcurrentModification, rec.ID)
		}
	}
	return nil, ErrConcurrentModification
}

// releaseDispatch drops the lease after a failed call. Lifecycle fields stay
// untouched so the installment remains eligible on the next tick.
func (s *Service) releaseDispatch(ctx context.Context, rec *models.PaymentRecord, token string) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		_, err := s.repo.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{ReleaseDispatch: true})
		if err == nil {
			return
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			log.Warnf("[PaymentPlan] Failed to release dispatch lease on payment %d: %v", rec.ID, err)
			return
		}
		if rec, err = s.repo.GetRecord(ctx, rec.ID); err != nil || rec.DispatchToken != token {
			return
		}
	}
	log.Warnf("[PaymentPlan] Gave up releasing dispatch lease on payment %d; it expires after %s", rec.ID, s.cfg.DispatchLease)
}

// dispatchReminder claims the reminder flag and then sends the reminder.
// Delivery is at most once: a failed send is reported but not retried.
func (s *Service) dispatchReminder(ctx context.Context, rec *models.PaymentRecord) error {
	claimed, err := s.claimReminder(ctx, rec)
	if err != nil {
		return err
	}

	customer, err := s.customers.LookupCustomer(ctx, claimed.UserID)
	if err != nil {
		return err
	}
	plan, err := s.repo.GetPlan(ctx, claimed.PlanID)
	if err != nil {
		return err
	}

	msg := notify.Message{
		Subject: fmt.Sprintf("Reminder: installment %d of %d for session %s is due %s",
			claimed.PaymentNumber, plan.TotalPayments, plan.SessionID, claimed.DueDate.Format("2006-01-02")),
		Body: fmt.Sprintf("Hello %s, your installment of %s %s is due on %s. You will receive a payment link on that day.",
			customer.FullName, claimed.InvoiceAmount().StringFixed(2), plan.Currency, claimed.DueDate.Format("2 January 2006")),
	}
	to := notify.Recipient{Name: customer.FullName, Email: customer.Email, Phone: customer.Phone}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	if err := s.notifier.Send(sctx, to, msg); err != nil {
		log.Warnf("[PaymentPlan] Reminder for payment %d not delivered: %v", claimed.ID, err)
		return err
	}
	return nil
}

func (s *Service) claimReminder(ctx context.Context, rec *models.PaymentRecord) (*models.PaymentRecord, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if rec.ReminderSent || rec.Status != models.PaymentStatusPending {
			return nil, errSkipped
		}
		now := s.clock.Now()
		sent := true
		claimed, err := s.repo.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{
			ReminderSent:           &sent,
			ReminderSentAt:         &now,
			RequireReminderNotSent: true,
		})
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return nil, err
		}
		if rec, err = s.getRecord(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return nil, errSkipped
}

// markOverdue moves a past-due pending or invoiced record to overdue.
func (s *Service) markOverdue(ctx context.Context, rec *models.PaymentRecord) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := CheckTransition(rec, models.PaymentStatusOverdue, s.clock.Now()); err != nil {
			// Paid, cancelled or already overdue in the meantime.
			return errSkipped
		}
		overdue := models.PaymentStatusOverdue
		_, err := s.repo.UpdateRecord(ctx, rec.ID, rec.Version, repository.RecordUpdate{Status: &overdue})
		if err == nil {
			log.Infof("[PaymentPlan] Payment %d (%s) is overdue since %s", rec.ID, rec.SessionID, rec.DueDate.Format("2006-01-02"))
			return nil
		}
		if !errors.Is(err, repository.ErrConcurrentModification) {
			return err
		}
		if rec, err = s.getRecord(ctx, rec.ID); err != nil {
			return err
		}
	}
	return errSkipped
}
