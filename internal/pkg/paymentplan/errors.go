package paymentplan

import (
	"errors"

	"github.com/ManuelReschke/StudioDesk/app/repository"
)

var (
	ErrAlreadyPaid       = errors.New("payment already marked as paid")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPlanNotFound      = errors.New("payment plan not found")
	ErrPlanExists        = errors.New("payment plan already exists for session")
	ErrIllegalTransition = errors.New("illegal payment status transition")
	ErrInvalidInput      = errors.New("invalid input")

	// ErrConcurrentModification is surfaced when the retry budget for a
	// conflicting write is exhausted.
	ErrConcurrentModification = repository.ErrConcurrentModification
)

// InvalidScheduleError reports a plan whose dates, amount or frequency
// cannot produce a valid installment schedule.
type InvalidScheduleError struct {
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return "invalid schedule: " + e.Reason
}

func invalidSchedule(reason string) error {
	return &InvalidScheduleError{Reason: reason}
}

// IsInvalidSchedule reports whether err is an *InvalidScheduleError.
func IsInvalidSchedule(err error) bool {
	var e *InvalidScheduleError
	return errors.As(err, &e)
}
