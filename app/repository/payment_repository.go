package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/StudioDesk/app/models"
)

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a payment repository backed by GORM.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreatePlan(ctx context.Context, plan *models.PaymentPlan, records []models.PaymentRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(plan).Error; err != nil {
			return err
		}
		for i := range records {
			records[i].PlanID = plan.ID
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 100).Error
	})
}

func (r *paymentRepository) GetPlan(ctx context.Context, id uint) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *paymentRepository) GetPlanBySession(ctx context.Context, sessionID string) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *paymentRepository) LockPlan(ctx context.Context, id uint) (*models.PaymentPlan, error) {
	var plan models.PaymentPlan
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *paymentRepository) GetRecord(ctx context.Context, id uint) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := r.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *paymentRepository) GetRecordByInvoiceRef(ctx context.Context, ref string) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("external_invoice_ref = ?", ref).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *paymentRepository) GetRecordByPlanAndNumber(ctx context.Context, planID uint, number int) (*models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("plan_id = ? AND payment_number = ?", planID, number).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *paymentRepository) ListRecords(ctx context.Context, planID uint) ([]models.PaymentRecord, error) {
	var recs []models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("payment_number ASC").
		Find(&recs).Error
	return recs, err
}

func (r *paymentRepository) activePlanIDs(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.PaymentPlan{}).
		Select("id").
		Where("status = ?", models.PlanStatusActive)
}

func (r *paymentRepository) ListDueForInvoice(ctx context.Context, asOf time.Time) ([]models.PaymentRecord, error) {
	var recs []models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusOverdue}).
		Where("invoice_sent = ?", false).
		Where("due_date <= ?", asOf).
		Where("plan_id IN (?)", r.activePlanIDs(ctx)).
		Order("due_date ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *paymentRepository) ListDueForReminder(ctx context.Context, today time.Time) ([]models.PaymentRecord, error) {
	var candidates []models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentStatusPending).
		Where("reminder_sent = ?", false).
		Where("due_date >= ? AND due_date <= ?", today, today.AddDate(0, 0, MaxReminderDays)).
		Where("plan_id IN (?)", r.activePlanIDs(ctx)).
		Order("due_date ASC, id ASC").
		Find(&candidates).Error
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	planIDs := make([]uint, 0, len(candidates))
	seen := make(map[uint]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.PlanID]; ok {
			continue
		}
		seen[c.PlanID] = struct{}{}
		planIDs = append(planIDs, c.PlanID)
	}

	type planWindow struct {
		ID                 uint
		ReminderDaysBefore int
	}
	var windows []planWindow
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentPlan{}).
		Select("id, reminder_days_before").
		Where("id IN ?", planIDs).
		Scan(&windows).Error; err != nil {
		return nil, err
	}
	days := make(map[uint]int, len(windows))
	for _, w := range windows {
		days[w.ID] = w.ReminderDaysBefore
	}

	out := candidates[:0]
	for _, c := range candidates {
		if !c.DueDate.After(today.AddDate(0, 0, days[c.PlanID])) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *paymentRepository) ListOverdueCandidates(ctx context.Context, asOf time.Time) ([]models.PaymentRecord, error) {
	var recs []models.PaymentRecord
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusInvoiced}).
		Where("due_date < ?", asOf).
		Where("plan_id IN (?)", r.activePlanIDs(ctx)).
		Order("due_date ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *paymentRepository) UpdateRecord(ctx context.Context, id uint, expectedVersion int64, upd RecordUpdate) (*models.PaymentRecord, error) {
	q := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion)
	if upd.RequireInvoiceNotSent {
		q = q.Where("invoice_sent = ?", false)
	}
	if upd.RequireReminderNotSent {
		q = q.Where("reminder_sent = ?", false)
	}

	res := q.Updates(recordColumns(upd))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, &models.PaymentRecord{}, id)
	}
	return r.GetRecord(ctx, id)
}

func (r *paymentRepository) UpdatePlan(ctx context.Context, id uint, expectedVersion int64, upd PlanUpdate) (*models.PaymentPlan, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentPlan{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(planColumns(upd))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, r.missOrConflict(ctx, &models.PaymentPlan{}, id)
	}
	return r.GetPlan(ctx, id)
}

func (r *paymentRepository) WithTx(ctx context.Context, fn func(repo PaymentRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&paymentRepository{db: tx})
	})
}

// missOrConflict distinguishes a missing row from a lost version race.
func (r *paymentRepository) missOrConflict(ctx context.Context, model interface{}, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return fmt.Errorf("%w: id %d", ErrConcurrentModification, id)
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func recordColumns(upd RecordUpdate) map[string]interface{} {
	cols := map[string]interface{}{
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	if upd.Status != nil {
		cols["status"] = *upd.Status
	}
	if upd.InvoiceSent != nil {
		cols["invoice_sent"] = *upd.InvoiceSent
	}
	if upd.InvoiceSentAt != nil {
		cols["invoice_sent_at"] = *upd.InvoiceSentAt
	}
	if upd.InvoiceAttempts != nil {
		cols["invoice_attempts"] = *upd.InvoiceAttempts
	}
	if upd.ExternalInvoiceRef != nil {
		cols["external_invoice_ref"] = *upd.ExternalInvoiceRef
	}
	if upd.ExternalInvoiceURL != nil {
		cols["external_invoice_url"] = *upd.ExternalInvoiceURL
	}
	if upd.ReminderSent != nil {
		cols["reminder_sent"] = *upd.ReminderSent
	}
	if upd.ReminderSentAt != nil {
		cols["reminder_sent_at"] = *upd.ReminderSentAt
	}
	if upd.PaidDate != nil {
		cols["paid_date"] = *upd.PaidDate
	}
	if upd.PaymentMethod != nil {
		cols["payment_method"] = *upd.PaymentMethod
	}
	if upd.Notes != nil {
		cols["notes"] = *upd.Notes
	}
	if upd.TipAmount != nil {
		cols["tip_amount"] = *upd.TipAmount
	}
	if upd.DispatchToken != nil {
		cols["dispatch_token"] = *upd.DispatchToken
	}
	if upd.DispatchClaimedAt != nil {
		cols["dispatch_claimed_at"] = *upd.DispatchClaimedAt
	}
	if upd.ReleaseDispatch {
		cols["dispatch_token"] = ""
		cols["dispatch_claimed_at"] = gorm.Expr("NULL")
	}
	return cols
}

func planColumns(upd PlanUpdate) map[string]interface{} {
	cols := map[string]interface{}{
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	if upd.AmountPaid != nil {
		cols["amount_paid"] = *upd.AmountPaid
	}
	if upd.RemainingBalance != nil {
		cols["remaining_balance"] = *upd.RemainingBalance
	}
	if upd.PaymentsCompleted != nil {
		cols["payments_completed"] = *upd.PaymentsCompleted
	}
	if upd.Status != nil {
		cols["status"] = *upd.Status
	}
	if upd.NextPaymentDate != nil {
		cols["next_payment_date"] = *upd.NextPaymentDate
	}
	if upd.ClearNextPaymentDate {
		cols["next_payment_date"] = gorm.Expr("NULL")
	}
	if upd.CancelledAt != nil {
		cols["cancelled_at"] = *upd.CancelledAt
	}
	return cols
}
