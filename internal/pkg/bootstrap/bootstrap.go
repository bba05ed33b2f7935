// Package bootstrap wires the payment services shared by the web server and
// the payments CLI.
package bootstrap

import (
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/StudioDesk/app/repository"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/billing"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/paymentplan"
)

// Services holds the long-lived payment collaborators of one process.
type Services struct {
	Billing  *billing.Service
	Plans    *paymentplan.Service
	Notifier notify.Transport
	Midtrans billing.MidtransConfig
}

// NewServices builds the services from the environment. The Midtrans gateway
// is always used; without MIDTRANS_SERVER_KEY every invoice fails with a
// rejection from Snap, which the tick reports per item.
func NewServices(db *gorm.DB) *Services {
	midtransCfg := billing.LoadMidtransConfig()
	if midtransCfg.ServerKey == "" {
		log.Warn("[Midtrans] MIDTRANS_SERVER_KEY is empty, invoices and webhooks will be rejected")
	}

	notifier := notify.NewTransportFromEnv()
	billingSvc := billing.NewServiceFromDB(db)
	gateway := billing.NewMidtransGateway(billing.NewSnapClient(midtransCfg), notifier, billingSvc)

	plans := paymentplan.NewService(paymentplan.Dependencies{
		Repo:      repository.NewFactory(db).GetPaymentRepository(),
		Gateway:   gateway,
		Customers: billingSvc,
		Notifier:  notifier,
	}, paymentplan.LoadConfig())

	return &Services{
		Billing:  billingSvc,
		Plans:    plans,
		Notifier: notifier,
		Midtrans: midtransCfg,
	}
}
