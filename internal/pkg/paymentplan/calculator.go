package paymentplan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/clock"
)

// MaxInstallments caps a schedule at ten years of weekly payments.
const MaxInstallments = 520

// Installment is one computed entry of a schedule.
type Installment struct {
	Number  int
	DueDate time.Time
	Amount  decimal.Decimal
}

// Schedule is the result of BuildSchedule. Installment amounts sum to the
// plan total exactly; the last one absorbs the rounding remainder.
type Schedule struct {
	InstallmentAmount decimal.Decimal
	Installments      []Installment
}

// Total returns the sum of all installment amounts.
func (s *Schedule) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, in := range s.Installments {
		sum = sum.Add(in.Amount)
	}
	return sum
}

// FirstDueDate returns the due date of installment 1.
func (s *Schedule) FirstDueDate() time.Time {
	return s.Installments[0].DueDate
}

// BuildSchedule computes the installments for total paid between start and
// end (both inclusive, civil dates) at the given frequency.
func BuildSchedule(total decimal.Decimal, start, end time.Time, freq models.Frequency) (*Schedule, error) {
	if !freq.Valid() {
		return nil, invalidSchedule(fmt.Sprintf("unknown frequency %q", freq))
	}
	if !total.IsPositive() {
		return nil, invalidSchedule("total amount must be positive")
	}
	if !total.Equal(total.Round(2)) {
		return nil, invalidSchedule("total amount has more than two decimal places")
	}
	if start.IsZero() || end.IsZero() {
		return nil, invalidSchedule("start and end dates are required")
	}
	start, end = clock.Today(start), clock.Today(end)
	if end.Before(start) {
		return nil, invalidSchedule("end date is before start date")
	}

	dates := DueDates(start, end, freq)
	if len(dates) > MaxInstallments {
		return nil, invalidSchedule(fmt.Sprintf("%d installments exceed the limit of %d", len(dates), MaxInstallments))
	}

	count := int64(len(dates))
	inst := total.Div(decimal.NewFromInt(count)).Round(2)
	last := total.Sub(inst.Mul(decimal.NewFromInt(count - 1)))
	if !inst.IsPositive() || !last.IsPositive() {
		return nil, invalidSchedule(fmt.Sprintf("total %s is too small for %d installments", total.StringFixed(2), count))
	}

	out := &Schedule{InstallmentAmount: inst, Installments: make([]Installment, len(dates))}
	for i, d := range dates {
		amount := inst
		if i == len(dates)-1 {
			amount = last
		}
		out.Installments[i] = Installment{Number: i + 1, DueDate: d, Amount: amount}
	}
	return out, nil
}

// DueDates lists start, start+step, ... up to and including end. Monthly steps
// are taken from the start date's day of month and clamped to the month's
// last day, so Jan 31 is followed by Feb 29 (leap year) and then Mar 31.
func DueDates(start, end time.Time, freq models.Frequency) []time.Time {
	var dates []time.Time
	for k := 0; ; k++ {
		var d time.Time
		switch freq {
		case models.FrequencyWeekly:
			d = start.AddDate(0, 0, 7*k)
		case models.FrequencyBiweekly:
			d = start.AddDate(0, 0, 14*k)
		case models.FrequencyMonthly:
			d = addMonthsClamped(start, k)
		default:
			return nil
		}
		if d.After(end) {
			return dates
		}
		dates = append(dates, d)
		// Stop scanning absurd ranges early; the caller rejects them.
		if len(dates) > MaxInstallments {
			return dates
		}
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
