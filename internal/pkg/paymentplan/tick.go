package paymentplan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/clock"
)

// Operation names one batch of a tick.
type Operation string

const (
	OperationInvoice  Operation = "invoice"
	OperationReminder Operation = "reminder"
	OperationOverdue  Operation = "overdue"
)

// ItemError is one failed item in a tick report. PaymentID is zero when the
// batch could not be listed at all.
type ItemError struct {
	PaymentID uint      `json:"payment_id"`
	Operation Operation `json:"operation"`
	Kind      string    `json:"kind"`
	Retryable bool      `json:"retryable"`
	Message   string    `json:"message"`
}

// TickReport summarises one scheduler run.
type TickReport struct {
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	InvoicesSent   int         `json:"invoices_sent"`
	RemindersSent  int         `json:"reminders_sent"`
	OverdueUpdated int         `json:"overdue_updated"`
	Errors         []ItemError `json:"errors"`
}

// Failed reports whether any item failed.
func (r TickReport) Failed() bool { return len(r.Errors) > 0 }

type reportBuilder struct {
	mu sync.Mutex
	r  TickReport
}

func (b *reportBuilder) inc(op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch op {
	case OperationInvoice:
		b.r.InvoicesSent++
	case OperationReminder:
		b.r.RemindersSent++
	case OperationOverdue:
		b.r.OverdueUpdated++
	}
}

func (b *reportBuilder) fail(op Operation, paymentID uint, err error) {
	item := ItemError{PaymentID: paymentID, Operation: op, Message: err.Error()}
	var gerr *billing.GatewayError
	switch {
	case errors.As(err, &gerr):
		item.Kind = string(gerr.Kind)
		item.Retryable = gerr.Retryable()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		item.Kind = "cancelled"
		item.Retryable = true
	case op == OperationReminder:
		item.Kind = "notify"
	default:
		item.Kind = "store"
		item.Retryable = true
	}

	if item.Retryable {
		log.Warnf("[PaymentPlan] %s failed for payment %d: %v", op, paymentID, err)
	} else {
		log.Errorf("[PaymentPlan] %s failed for payment %d: %v", op, paymentID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.r.Errors = append(b.r.Errors, item)
}

// RunScheduledTick runs the invoice, reminder and overdue batches. The timer
// and the manual trigger both call this. Item failures are collected in the
// report and never abort the rest of a batch.
func (s *Service) RunScheduledTick(ctx context.Context) TickReport {
	return s.run(ctx, OperationInvoice, OperationReminder, OperationOverdue)
}

// RunOverdueSweep runs only the overdue batch, for the high-frequency cadence.
func (s *Service) RunOverdueSweep(ctx context.Context) TickReport {
	return s.run(ctx, OperationOverdue)
}

func (s *Service) run(ctx context.Context, ops ...Operation) TickReport {
	b := &reportBuilder{}
	b.r.StartedAt = s.clock.Now()
	today := clock.Today(b.r.StartedAt)

	var wg sync.WaitGroup
	for _, op := range ops {
		wg.Add(1)
		go func(op Operation) {
			defer wg.Done()
			s.runBatch(ctx, op, today, b)
		}(op)
	}
	wg.Wait()

	b.r.FinishedAt = s.clock.Now()
	if b.r.Errors == nil {
		b.r.Errors = []ItemError{}
	}
	log.Infof("[PaymentPlan] Tick done: invoices=%d reminders=%d overdue=%d errors=%d",
		b.r.InvoicesSent, b.r.RemindersSent, b.r.OverdueUpdated, len(b.r.Errors))
	return b.r
}

func (s *Service) runBatch(ctx context.Context, op Operation, today time.Time, b *reportBuilder) {
	var (
		records []models.PaymentRecord
		err     error
	)
	switch op {
	case OperationInvoice:
		records, err = s.repo.ListDueForInvoice(ctx, today)
	case OperationReminder:
		records, err = s.repo.ListDueForReminder(ctx, today)
	case OperationOverdue:
		records, err = s.repo.ListOverdueCandidates(ctx, today)
	}
	if err != nil {
		b.fail(op, 0, err)
		return
	}
	if len(records) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i := range records {
		rec := &records[i]
		if ctx.Err() != nil {
			b.fail(op, rec.ID, ctx.Err())
			continue
		}
		g.Go(func() error {
			var err error
			switch op {
			case OperationInvoice:
				_, err = s.dispatchInvoice(ctx, rec, false)
			case OperationReminder:
				err = s.dispatchReminder(ctx, rec)
			case OperationOverdue:
				err = s.markOverdue(ctx, rec)
			}
			switch {
			case err == nil:
				b.inc(op)
			case errors.Is(err, errSkipped), errors.Is(err, ErrConcurrentModification),
				errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrIllegalTransition):
				// Another worker owns the item or its state moved on since listing.
			default:
				b.fail(op, rec.ID, err)
			}
			// Item errors never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()
}
