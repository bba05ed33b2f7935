package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderMidtrans = "midtrans"
	BillingProviderManual   = "manual"
)

// BillingAccount links a studio client to the customer identity used by the
// invoice gateway and the reminder transports.
type BillingAccount struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              uint      `gorm:"not null;index:ux_billing_accounts_user_provider,unique" json:"user_id"`
	Provider            string    `gorm:"type:varchar(20);not null;index:ux_billing_accounts_user_provider,unique" json:"provider"`
	ProviderCustomerRef string    `gorm:"type:varchar(191);not null;default:''" json:"provider_customer_ref"`
	FullName            string    `gorm:"type:varchar(200);default:''" json:"full_name"`
	Email               string    `gorm:"type:varchar(200);default:''" json:"email"`
	Phone               string    `gorm:"type:varchar(32);default:''" json:"phone"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingAccount) TableName() string {
	return "billing_accounts"
}

// IsReachable reports whether at least one contact channel is configured.
func (a *BillingAccount) IsReachable() bool {
	return a.Email != "" || a.Phone != ""
}
