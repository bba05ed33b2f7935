package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/StudioDesk/app/models"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// PaymentPlanController serves the payment plan API used by the back office.
type PaymentPlanController struct {
	plans    *paymentplan.Service
	accounts *billing.Service
}

func NewPaymentPlanController(plans *paymentplan.Service, accounts *billing.Service) *PaymentPlanController {
	return &PaymentPlanController{plans: plans, accounts: accounts}
}

type createPlanRequest struct {
	SessionID          string          `json:"session_id"`
	UserID             uint            `json:"user_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	StartDate          string          `json:"start_date"`
	EndDate            string          `json:"end_date"`
	Frequency          string          `json:"frequency"`
	ReminderDaysBefore *int            `json:"reminder_days_before"`
	Currency           string          `json:"currency"`
}

type markReceivedRequest struct {
	Method string `json:"payment_method"`
	Notes  string `json:"notes"`
}

type addTipRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type billingAccountRequest struct {
	Provider            string `json:"provider"`
	ProviderCustomerRef string `json:"provider_customer_ref"`
	FullName            string `json:"full_name"`
	Email               string `json:"email"`
	Phone               string `json:"phone"`
}

// HandleCreatePlan - POST /api/v1/payment-plans
func (pc *PaymentPlanController) HandleCreatePlan(c *fiber.Ctx) error {
	var req createPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return badRequest(c, "start_date must be YYYY-MM-DD")
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return badRequest(c, "end_date must be YYYY-MM-DD")
	}

	out, err := pc.plans.CreatePaymentPlan(c.UserContext(), paymentplan.CreatePlanInput{
		SessionID:          req.SessionID,
		UserID:             req.UserID,
		TotalAmount:        req.TotalAmount,
		StartDate:          start,
		EndDate:            end,
		Frequency:          models.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		ReminderDaysBefore: req.ReminderDaysBefore,
		Currency:           req.Currency,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// HandleGetPlan - GET /api/v1/payment-plans/:sessionId
func (pc *PaymentPlanController) HandleGetPlan(c *fiber.Ctx) error {
	out, err := pc.plans.GetPaymentPlan(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// HandleCancelPlan - POST /api/v1/payment-plans/:sessionId/cancel
func (pc *PaymentPlanController) HandleCancelPlan(c *fiber.Ctx) error {
	out, err := pc.plans.CancelPaymentPlan(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// HandleMarkReceived - POST /api/v1/payments/:id/received
func (pc *PaymentPlanController) HandleMarkReceived(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	var req markReceivedRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}
	}

	rec, err := pc.plans.MarkPaymentReceived(c.UserContext(), id, req.Method, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandleSendInvoice - POST /api/v1/payments/:id/invoice?force=true
func (pc *PaymentPlanController) HandleSendInvoice(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	rec, err := pc.plans.SendPaymentInvoice(c.UserContext(), id, c.QueryBool("force", false))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandleAddTip - POST /api/v1/payments/:id/tip
func (pc *PaymentPlanController) HandleAddTip(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	var req addTipRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	rec, err := pc.plans.AddTip(c.UserContext(), id, req.Amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rec)
}

// HandleUpsertBillingAccount - PUT /api/v1/customers/:userId/billing-account
func (pc *PaymentPlanController) HandleUpsertBillingAccount(c *fiber.Ctx) error {
	userID, ok := paramID(c, "userId")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var req billingAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.Provider == "" {
		req.Provider = models.BillingProviderMidtrans
	}

	account, err := pc.accounts.UpsertBillingAccount(c.UserContext(), billing.AccountInput{
		UserID:              userID,
		Provider:            req.Provider,
		ProviderCustomerRef: req.ProviderCustomerRef,
		FullName:            req.FullName,
		Email:               req.Email,
		Phone:               req.Phone,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(account)
}
