package billing

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// MidtransNotification is the HTTP notification body Midtrans posts after a
// transaction status change.
type MidtransNotification struct {
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
	SettlementTime    string `json:"settlement_time"`
}

// ParseMidtransNotification decodes a raw notification body.
func ParseMidtransNotification(payload []byte) (*MidtransNotification, error) {
	var n MidtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, err
	}
	if strings.TrimSpace(n.OrderID) == "" {
		return nil, errors.New("order_id is required")
	}
	return &n, nil
}

// VerifyMidtransSignature checks signature_key, which is
// SHA512(order_id + status_code + gross_amount + server key) in hex.
func VerifyMidtransSignature(n *MidtransNotification, serverKey string) bool {
	if n == nil || serverKey == "" || n.SignatureKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	want := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(n.SignatureKey))) == 1
}

// IsSettled reports whether the notification confirms received funds.
// Card captures only count once the fraud check accepted them.
func (n *MidtransNotification) IsSettled() bool {
	switch strings.ToLower(n.TransactionStatus) {
	case "settlement":
		return true
	case "capture":
		fs := strings.ToLower(n.FraudStatus)
		return fs == "" || fs == "accept"
	default:
		return false
	}
}

// EventID identifies one delivery for idempotent storage.
func (n *MidtransNotification) EventID() string {
	id := n.TransactionID
	if id == "" {
		id = n.OrderID
	}
	return id + ":" + strings.ToLower(n.TransactionStatus)
}

// PaymentMethod returns a human label for the paid record.
func (n *MidtransNotification) PaymentMethod() string {
	if n.PaymentType == "" {
		return "midtrans"
	}
	return "midtrans:" + n.PaymentType
}
