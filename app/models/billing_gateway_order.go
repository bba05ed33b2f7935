package models

import "time"

// BillingGatewayOrder is one order id issued at the payment gateway for an
// invoice idempotency key. It is reserved before the gateway call and
// confirmed with the payment link before the link is sent, so a payment link
// that reached a customer can always be found again after a timeout or crash.
// Revision is bumped when an unconfirmed order id has to be abandoned.
type BillingGatewayOrder struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Provider       string    `gorm:"type:varchar(20);not null" json:"provider"`
	IdempotencyKey string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_gateway_orders_key" json:"idempotency_key"`
	OrderID        string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_gateway_orders_order" json:"order_id"`
	Revision       int       `gorm:"not null;default:0" json:"revision"`
	Token          string    `gorm:"type:varchar(191);not null;default:''" json:"token"`
	RedirectURL    string    `gorm:"type:varchar(512);not null;default:''" json:"redirect_url"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingGatewayOrder) TableName() string {
	return "billing_gateway_orders"
}

// IsConfirmed reports whether the gateway returned a payment link for the order.
func (o *BillingGatewayOrder) IsConfirmed() bool {
	return o.RedirectURL != ""
}
