package router

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StudioDesk/app/controllers"
	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/clock"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/scheduler"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/testutil"
)

const testServerKey = "SB-Mid-server-test"

type stubGateway struct{}

func (stubGateway) CreateAndSendInvoice(ctx context.Context, req billing.InvoiceRequest) (*billing.Invoice, error) {
	return &billing.Invoice{ID: req.IdempotencyKey, URL: "https://pay.example/" + req.IdempotencyKey}, nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	return newTestAppWithKeys(t, nil)
}

func newTestAppWithKeys(t *testing.T, keys []string) *fiber.App {
	t.Helper()
	db := testutil.OpenTestDB(t)
	accounts := billing.NewServiceFromDB(db)
	plans := paymentplan.NewService(paymentplan.Dependencies{
		Repo:      repository.NewPaymentRepository(db),
		Gateway:   stubGateway{},
		Customers: accounts,
		Notifier:  notify.LogTransport{},
		Clock:     clock.NewFixed(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)),
	}, paymentplan.DefaultConfig())
	manager := scheduler.NewManager(plans, scheduler.Config{})

	app := fiber.New()
	InstallRouter(app, Dependencies{
		Plans:      controllers.NewPaymentPlanController(plans, accounts),
		Admin:      controllers.NewAdminPaymentController(manager, nil),
		Webhooks:   controllers.NewPaymentWebhookController(plans, accounts, testServerKey),
		RateLimit:  1000,
		AdminUsers: map[string]string{"admin": "secret"},
		APIKeys:    keys,
	})
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if strings.HasPrefix(path, "/api/v1/admin") {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createTestPlan(t *testing.T, app *fiber.App) paymentplan.PlanWithRecords {
	t.Helper()
	status := doJSON(t, app, http.MethodPut, "/api/v1/customers/42/billing-account", map[string]string{
		"full_name": "Ayu Lestari",
		"email":     "ayu@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, status)

	var created paymentplan.PlanWithRecords
	status = doJSON(t, app, http.MethodPost, "/api/v1/payment-plans", map[string]interface{}{
		"session_id":   "sess-100",
		"user_id":      42,
		"total_amount": "1000.00",
		"start_date":   "2024-01-15",
		"end_date":     "2024-03-15",
		"frequency":    "monthly",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	return created
}

func TestPaymentPlanEndpoints(t *testing.T) {
	app := newTestApp(t)
	created := createTestPlan(t, app)

	require.Len(t, created.Records, 3)
	assert.Equal(t, "333.33", created.Records[0].Amount.StringFixed(2))
	assert.Equal(t, "333.34", created.Records[2].Amount.StringFixed(2))

	var got paymentplan.PlanWithRecords
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodGet, "/api/v1/payment-plans/sess-100", nil, &got))
	assert.Equal(t, created.Plan.ID, got.Plan.ID)

	first := created.Records[0].ID
	var rec models.PaymentRecord
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/tip", first), map[string]string{"amount": "50.00"}, &rec))
	assert.Equal(t, "50.00", rec.TipAmount.StringFixed(2))

	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/invoice", first), nil, &rec))
	assert.True(t, rec.InvoiceSent)
	assert.Equal(t, models.PaymentStatusInvoiced, rec.Status)
	assert.NotEmpty(t, rec.ExternalInvoiceURL)

	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/received", first), map[string]string{"payment_method": "bank_transfer"}, &rec))
	assert.Equal(t, models.PaymentStatusPaid, rec.Status)
	assert.Equal(t, "bank_transfer", rec.PaymentMethod)

	var apiErr map[string]string
	assert.Equal(t, http.StatusConflict, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/received", first), nil, &apiErr))
	assert.Equal(t, "already_paid", apiErr["error"])

	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodGet, "/api/v1/payment-plans/sess-100", nil, &got))
	assert.Equal(t, "333.33", got.Plan.AmountPaid.StringFixed(2))
	assert.Equal(t, 1, got.Plan.PaymentsCompleted)

	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/payment-plans/sess-100/cancel", nil, &got))
	assert.Equal(t, models.PlanStatusCancelled, got.Plan.Status)
	assert.Equal(t, models.PaymentStatusPaid, got.Records[0].Status)
	assert.Equal(t, models.PaymentStatusCancelled, got.Records[1].Status)
}

func TestPaymentPlanEndpointErrors(t *testing.T) {
	app := newTestApp(t)
	createTestPlan(t, app)

	var apiErr map[string]string
	assert.Equal(t, http.StatusNotFound, doJSON(t, app, http.MethodGet, "/api/v1/payment-plans/unknown", nil, &apiErr))
	assert.Equal(t, "plan_not_found", apiErr["error"])

	assert.Equal(t, http.StatusBadRequest, doJSON(t, app, http.MethodPost, "/api/v1/payment-plans", map[string]interface{}{
		"session_id": "sess-200", "user_id": 42, "total_amount": "100.00",
		"start_date": "15.01.2024", "end_date": "2024-03-15", "frequency": "monthly",
	}, &apiErr))

	assert.Equal(t, http.StatusBadRequest, doJSON(t, app, http.MethodPost, "/api/v1/payment-plans", map[string]interface{}{
		"session_id": "sess-200", "user_id": 42, "total_amount": "100.00",
		"start_date": "2024-03-15", "end_date": "2024-01-15", "frequency": "monthly",
	}, &apiErr))
	assert.Equal(t, "invalid_schedule", apiErr["error"])

	assert.Equal(t, http.StatusConflict, doJSON(t, app, http.MethodPost, "/api/v1/payment-plans", map[string]interface{}{
		"session_id": "sess-100", "user_id": 42, "total_amount": "100.00",
		"start_date": "2024-01-15", "end_date": "2024-03-15", "frequency": "monthly",
	}, &apiErr))
	assert.Equal(t, "plan_exists", apiErr["error"])

	assert.Equal(t, http.StatusBadRequest, doJSON(t, app, http.MethodPost, "/api/v1/payments/abc/invoice", nil, &apiErr))
	assert.Equal(t, http.StatusNotFound, doJSON(t, app, http.MethodPost, "/api/v1/payments/999/invoice", nil, &apiErr))
	assert.Equal(t, "payment_not_found", apiErr["error"])
}

func TestInvoiceWithoutBillingAccount(t *testing.T) {
	app := newTestApp(t)

	var created paymentplan.PlanWithRecords
	require.Equal(t, http.StatusCreated, doJSON(t, app, http.MethodPost, "/api/v1/payment-plans", map[string]interface{}{
		"session_id": "sess-300", "user_id": 77, "total_amount": "500.00",
		"start_date": "2024-01-15", "end_date": "2024-01-15", "frequency": "weekly",
	}, &created))

	var apiErr map[string]string
	assert.Equal(t, http.StatusUnprocessableEntity, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/invoice", created.Records[0].ID), nil, &apiErr))
	assert.Equal(t, string(billing.KindCustomerNotReady), apiErr["error"])
}

func signedNotification(orderID, txID, status, gross string) map[string]string {
	sum := sha512.Sum512([]byte(orderID + "200" + gross + testServerKey))
	return map[string]string{
		"order_id":           orderID,
		"transaction_id":     txID,
		"transaction_status": status,
		"status_code":        "200",
		"gross_amount":       gross,
		"payment_type":       "bank_transfer",
		"signature_key":      hex.EncodeToString(sum[:]),
	}
}

func TestMidtransWebhook(t *testing.T) {
	app := newTestApp(t)
	created := createTestPlan(t, app)

	var rec models.PaymentRecord
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/invoice", created.Records[0].ID), nil, &rec))
	ref := rec.ExternalInvoiceRef
	require.NotEmpty(t, ref)

	var ack map[string]interface{}
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", signedNotification(ref, "tx-1", "pending", "333.33"), &ack))
	assert.Equal(t, true, ack["ignored"])

	ack = nil
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", signedNotification(ref, "tx-1", "settlement", "333.33"), &ack))
	assert.Equal(t, false, ack["duplicate"])
	assert.Equal(t, string(models.PaymentStatusPaid), ack["status"])

	ack = nil
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", signedNotification(ref, "tx-1", "settlement", "333.33"), &ack))
	assert.Equal(t, true, ack["duplicate"])

	forged := signedNotification(ref, "tx-2", "settlement", "333.33")
	forged["signature_key"] = "deadbeef"
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", forged, nil))

	// Unmatched settlements are not acked, so the gateway redelivers them.
	for i := 0; i < 2; i++ {
		var apiErr map[string]interface{}
		require.Equal(t, http.StatusNotFound, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", signedNotification("SD-unknown", "tx-3", "settlement", "1.00"), &apiErr))
		assert.Equal(t, "payment_not_found", apiErr["error"])
	}

	var got paymentplan.PlanWithRecords
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodGet, "/api/v1/payment-plans/sess-100", nil, &got))
	assert.Equal(t, 1, got.Plan.PaymentsCompleted)
}

func TestAdminTickRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	createTestPlan(t, app)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/payments/tick", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var report paymentplan.TickReport
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/admin/payments/tick", nil, &report))
	assert.Equal(t, 1, report.InvoicesSent)
	assert.Empty(t, report.Errors)

	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, app, http.MethodGet, "/api/v1/admin/payments/tick/stats", nil, nil))
}

func pathf(format string, id uint) string {
	return fmt.Sprintf(format, id)
}

func TestBackOfficeRoutesRequireAPIKey(t *testing.T) {
	app := newTestAppWithKeys(t, []string{"office-key"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-plans/unknown", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/payment-plans/unknown", nil)
	req.Header.Set("X-API-Key", "office-key")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Gateway callbacks authenticate by signature, not by API key.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/midtrans", strings.NewReader(`{"order_id":""}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMidtransWebhookSettlesSupersededInvoice(t *testing.T) {
	app := newTestApp(t)
	created := createTestPlan(t, app)
	id := created.Records[0].ID

	var first, resent models.PaymentRecord
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/invoice", id), nil, &first))
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, pathf("/api/v1/payments/%d/invoice?force=true", id), nil, &resent))
	require.NotEqual(t, first.ExternalInvoiceRef, resent.ExternalInvoiceRef)

	var ack map[string]interface{}
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", signedNotification(first.ExternalInvoiceRef, "tx-old", "settlement", "333.33"), &ack))
	assert.Equal(t, false, ack["duplicate"])
	assert.Equal(t, string(models.PaymentStatusPaid), ack["status"])
	assert.EqualValues(t, id, ack["payment_id"])

	ack = nil
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodPost, "/api/v1/webhooks/midtrans", signedNotification(resent.ExternalInvoiceRef, "tx-new", "settlement", "333.33"), &ack))
	assert.Equal(t, true, ack["duplicate"])

	var got paymentplan.PlanWithRecords
	require.Equal(t, http.StatusOK, doJSON(t, app, http.MethodGet, "/api/v1/payment-plans/sess-100", nil, &got))
	assert.Equal(t, 1, got.Plan.PaymentsCompleted)
	assert.Equal(t, models.PaymentStatusPaid, got.Records[0].Status)
}
