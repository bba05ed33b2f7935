package scheduler

import (
	"time"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
)

// Config holds the tick cadences.
type Config struct {
	Enabled              bool
	DailyInterval        time.Duration
	WeeklyInterval       time.Duration
	OverdueSweepInterval time.Duration
}

// LoadConfig reads PAYMENT_SCHEDULER_ENABLED and PAYMENT_*_INTERVAL.
func LoadConfig() Config {
	return Config{
		Enabled:              env.GetBool("PAYMENT_SCHEDULER_ENABLED", true),
		DailyInterval:        env.GetDuration("PAYMENT_TICK_DAILY_INTERVAL", 24*time.Hour),
		WeeklyInterval:       env.GetDuration("PAYMENT_TICK_WEEKLY_INTERVAL", 7*24*time.Hour),
		OverdueSweepInterval: env.GetDuration("PAYMENT_OVERDUE_SWEEP_INTERVAL", time.Hour),
	}
}
