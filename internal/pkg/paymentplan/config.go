package paymentplan

import (
	"time"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
)

// Config tunes dispatch and plan defaults.
type Config struct {
	Workers             int
	GatewayTimeout      time.Duration
	DispatchLease       time.Duration
	InvoiceDueDays      int
	Currency            string
	DefaultReminderDays int
}

// DefaultConfig returns the values used when the environment is silent.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		GatewayTimeout:      15 * time.Second,
		DispatchLease:       10 * time.Minute,
		InvoiceDueDays:      7,
		Currency:            "IDR",
		DefaultReminderDays: 3,
	}
}

// LoadConfig reads PAYMENT_* from the environment.
func LoadConfig() Config {
	d := DefaultConfig()
	cfg := Config{
		Workers:             env.GetInt("PAYMENT_DISPATCH_WORKERS", d.Workers),
		GatewayTimeout:      env.GetDuration("PAYMENT_GATEWAY_TIMEOUT", d.GatewayTimeout),
		DispatchLease:       env.GetDuration("PAYMENT_DISPATCH_LEASE", d.DispatchLease),
		InvoiceDueDays:      env.GetInt("PAYMENT_INVOICE_DUE_DAYS", d.InvoiceDueDays),
		Currency:            env.GetEnv("PAYMENT_CURRENCY", d.Currency),
		DefaultReminderDays: env.GetInt("PAYMENT_DEFAULT_REMINDER_DAYS", d.DefaultReminderDays),
	}
	return cfg.normalize()
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = d.GatewayTimeout
	}
	if c.DispatchLease <= c.GatewayTimeout {
		c.DispatchLease = c.GatewayTimeout * 2
	}
	if c.InvoiceDueDays < 0 {
		c.InvoiceDueDays = d.InvoiceDueDays
	}
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	if c.DefaultReminderDays < 0 || c.DefaultReminderDays > maxReminderDays {
		c.DefaultReminderDays = d.DefaultReminderDays
	}
	return c
}
