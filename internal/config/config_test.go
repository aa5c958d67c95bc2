package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "")
	t.Setenv("PLATFORM_FEE_BASIS_POINTS", "")
	t.Setenv("RATE_LIMIT_ENABLED", "")

	cfg := Load()

	assert.Equal(t, "eventpay", cfg.AppName)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, int64(500), cfg.PlatformFee.BasisPoints)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Notification.PublishTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("RATE_LIMIT_ENABLED", "yes")
	t.Setenv("RATE_LIMIT_CHECKOUT_BURST", "7")
	t.Setenv("STRIPE_CURRENCY", "USD")
	t.Setenv("NOTIFICATION_RETRIES", "not-a-number")
	t.Setenv("ENVIRONMENT", "Production")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DBType)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 7, cfg.RateLimit.CheckoutBurst)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, 3, cfg.Notification.Retries)
	assert.True(t, cfg.IsProduction())
}

func TestFeeScheduleValidate(t *testing.T) {
	assert.NoError(t, FeeSchedule{BasisPoints: 500}.Validate())
	assert.Error(t, FeeSchedule{BasisPoints: 10001}.Validate())
	assert.Error(t, FeeSchedule{Fixed: -1}.Validate())
	assert.Error(t, FeeSchedule{Minimum: -5}.Validate())
}

func TestFeeScheduleHolderDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewFeeScheduleHolder(Config{PlatformFee: FeeSchedule{BasisPoints: 350, Fixed: 30}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, FeeSchedule{BasisPoints: 350, Fixed: 30}, holder.Get())
}

func TestFeeScheduleHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fees.yml"), []byte("fees:\n  basisPoints: 1000\n  fixed: 50\n  minimum: 100\n"), 0o600))
	t.Chdir(dir)

	holder, err := NewFeeScheduleHolder(Config{PlatformFee: FeeSchedule{BasisPoints: 350}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, FeeSchedule{BasisPoints: 1000, Fixed: 50, Minimum: 100}, holder.Get())
}
