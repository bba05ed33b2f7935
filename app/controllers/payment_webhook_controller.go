package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// PaymentWebhookController ingests gateway notifications. Every delivery is
// stored before it is applied. A redelivery of a successfully processed event
// is acknowledged as duplicate; one whose first processing failed is applied
// again.
type PaymentWebhookController struct {
	plans     *paymentplan.Service
	billing   *billing.Service
	serverKey string
}

func NewPaymentWebhookController(plans *paymentplan.Service, billingSvc *billing.Service, serverKey string) *PaymentWebhookController {
	return &PaymentWebhookController{plans: plans, billing: billingSvc, serverKey: serverKey}
}

// HandleMidtransNotification - POST /api/v1/webhooks/midtrans
func (wc *PaymentWebhookController) HandleMidtransNotification(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rawBody := append([]byte(nil), c.Body()...)

	n, err := billing.ParseMidtransNotification(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid_payload", Message: err.Error()})
	}
	signatureValid := billing.VerifyMidtransSignature(n, wc.serverKey)

	created, stored, err := wc.billing.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderMidtrans,
		ProviderEventID: n.EventID(),
		EventType:       n.TransactionStatus,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("[Midtrans] Failed to persist notification %s: %v", n.OrderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "webhook_persist_failed", Message: "notification could not be stored"})
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		log.Warnf("[Midtrans] Rejected notification %s from %s: invalid signature", n.OrderID, GetClientIP(c))
		wc.markProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "invalid_signature", Message: "signature mismatch"})
	}
	if !n.IsSettled() {
		wc.markProcessed(ctx, stored.ID, nil)
		return c.JSON(fiber.Map{"ok": true, "ignored": true, "status": n.TransactionStatus})
	}

	notes := "midtrans transaction " + n.TransactionID
	rec, duplicate, err := wc.plans.HandleGatewayNotification(ctx, n.OrderID, n.PaymentMethod(), notes)
	if err != nil {
		wc.markProcessed(ctx, stored.ID, err)
		if errors.Is(err, paymentplan.ErrPaymentNotFound) {
			// Money arrived for nothing we can match. Not acked, so Midtrans
			// keeps redelivering until someone looks at it.
			log.Errorf("[Midtrans] Settlement %s (%s %s) matches no installment, needs manual follow-up: %v",
				n.OrderID, n.GrossAmount, n.TransactionID, err)
		}
		return respondError(c, err)
	}
	wc.markProcessed(ctx, stored.ID, nil)

	return c.JSON(fiber.Map{"ok": true, "duplicate": duplicate, "payment_id": rec.ID, "status": rec.Status})
}

func (wc *PaymentWebhookController) markProcessed(ctx context.Context, eventID uint, processingErr error) {
	if err := wc.billing.MarkWebhookProcessed(ctx, eventID, processingErr); err != nil {
		log.Errorf("[Midtrans] Failed to mark notification %d processed: %v", eventID, err)
	}
}
