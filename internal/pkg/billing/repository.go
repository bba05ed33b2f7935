package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrGatewayOrderChanged is returned when a gateway order was revised or
// removed since it was read.
var ErrGatewayOrderChanged = errors.New("gateway order changed")

// Repository provides DB operations used by the billing service.
type Repository interface {
	ListBillingAccountsByUser(ctx context.Context, userID uint) ([]models.BillingAccount, error)
	UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	CreateGatewayOrderIfNotExists(ctx context.Context, order *models.BillingGatewayOrder) (bool, *models.BillingGatewayOrder, error)
	ReviseGatewayOrder(ctx context.Context, id uint, fromOrderID, toOrderID string, revision int) error
	ConfirmGatewayOrder(ctx context.Context, orderID, token, redirectURL string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListBillingAccountsByUser(ctx context.Context, userID uint) ([]models.BillingAccount, error) {
	var accounts []models.BillingAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Find(&accounts).Error
	return accounts, err
}

func (r *gormRepository) UpsertBillingAccount(ctx context.Context, account *models.BillingAccount) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_ref",
			"full_name",
			"email",
			"phone",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("user_id = ? AND provider = ?", account.UserID, account.Provider).
		First(account).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) CreateGatewayOrderIfNotExists(ctx context.Context, order *models.BillingGatewayOrder) (bool, *models.BillingGatewayOrder, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(order)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingGatewayOrder
	if err := db.Where("idempotency_key = ?", order.IdempotencyKey).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) ReviseGatewayOrder(ctx context.Context, id uint, fromOrderID, toOrderID string, revision int) error {
	res := r.db.WithContext(ctx).Model(&models.BillingGatewayOrder{}).
		Where("id = ? AND order_id = ? AND redirect_url = ''", id, fromOrderID).
		Updates(map[string]interface{}{
			"order_id": toOrderID,
			"revision": revision,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGatewayOrderChanged
	}
	return nil
}

func (r *gormRepository) ConfirmGatewayOrder(ctx context.Context, orderID, token, redirectURL string) error {
	res := r.db.WithContext(ctx).Model(&models.BillingGatewayOrder{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"token":        token,
			"redirect_url": redirectURL,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGatewayOrderChanged
	}
	return nil
}
