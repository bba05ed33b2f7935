package controllers

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/testutil"
)

func TestMarkProcessedLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	db := testutil.OpenTestDB(t)
	svc := billing.NewServiceFromDB(db)
	wc := NewPaymentWebhookController(nil, svc, "server-key")
	ctx := context.Background()

	_, ev, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderMidtrans,
		ProviderEventID: "tx-1:settlement",
		EventType:       "settlement",
		PayloadJSON:     `{}`,
		SignatureValid:  true,
	})
	require.NoError(t, err)

	wc.markProcessed(ctx, ev.ID, errors.New("boom"))
	assert.Empty(t, buf.String())
	var stored models.BillingWebhookEvent
	require.NoError(t, db.First(&stored, ev.ID).Error)
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, "boom", stored.ProcessingError)

	wc.markProcessed(ctx, 0, nil)
	assert.Contains(t, buf.String(), "[Midtrans] Failed to mark notification 0 processed")
}
