package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/StudioDesk/internal/pkg/env"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/notify"
	"github.com/ManuelReschke/StudioDesk/internal/pkg/testutil"
)

func TestNewServicesWithoutSMTP(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	t.Setenv("MIDTRANS_SERVER_KEY", "SB-Mid-server-unit")
	if env.Env != nil {
		delete(env.Env, "SMTP_HOST")
		delete(env.Env, "MIDTRANS_SERVER_KEY")
	}

	svc := NewServices(testutil.OpenTestDB(t))
	require.NotNil(t, svc.Plans)
	require.NotNil(t, svc.Billing)
	assert.IsType(t, notify.LogTransport{}, svc.Notifier)
	assert.Equal(t, "SB-Mid-server-unit", svc.Midtrans.ServerKey)

	report := svc.Plans.RunScheduledTick(context.Background())
	assert.Empty(t, report.Errors)
}
