package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginAutoBot/internal/domain"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BINANCE_API_KEY", "test-key")
	t.Setenv("BINANCE_API_SECRET", "test-secret")
	t.Setenv("SIGNAL_BASE_URL", "http://localhost:9000")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, domain.MarginCross, cfg.MarginMode)
	assert.Equal(t, 3.0, cfg.Leverage)
	assert.Equal(t, 0.0, cfg.StopLossPct)
	assert.Equal(t, 0.0, cfg.TakeProfitPct)
	assert.True(t, cfg.AutoBorrow)
	assert.True(t, cfg.AutoRepay)
	assert.Equal(t, "/signal", cfg.SignalPath)
	assert.Equal(t, []string{"/latest", "/api/signal"}, cfg.SignalFallbacks)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.SignalTTL)
	assert.Equal(t, 5*time.Minute, cfg.SignalWindow)
	assert.False(t, cfg.EmailEnabled)
}

func TestLoadConfigMissingCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	t.Setenv("SIGNAL_BASE_URL", "http://localhost:9000")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BINANCE_API_KEY")
	assert.Contains(t, err.Error(), "BINANCE_API_SECRET")
}

func TestLoadConfigPercentForms(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"0.8", 0.008},
		{"0.8%", 0.008},
		{"1.2", 0.012},
		{"0.003", 0.003},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("STOP_LOSS_PCT", tt.raw)

			cfg, err := LoadConfig()
			require.NoError(t, err)
			assert.InDelta(t, tt.want, cfg.StopLossPct, 1e-12)
		})
	}
}

func TestLoadConfigInvalidMarginMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARGIN_MODE", "hedged")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARGIN_MODE")
}

func TestLoadConfigIsolatedMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARGIN_MODE", "Isolated")
	t.Setenv("SYMBOL", "ethusdt")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.MarginIsolated, cfg.MarginMode)
	assert.Equal(t, "ETHUSDT", cfg.Symbol)
}

func TestLoadConfigTrimsBaseURLSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIGNAL_BASE_URL", "http://localhost:9000/")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.SignalBaseURL)
}

func TestLoadConfigEmailValidation(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EMAIL_ENABLED", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMAIL_ENABLED")
}

func TestLoadConfigEmailDefaultsRecipientToSender(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EMAIL_ENABLED", "true")
	t.Setenv("EMAIL_PROVIDER", "gmail")
	t.Setenv("SMTP_USER", "bot@example.com")
	t.Setenv("SMTP_PASSWORD", "hunter2")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", cfg.EmailTo)
}

func TestStoreSnapshotAndUpdate(t *testing.T) {
	cfg := &Config{
		Symbol:        "BTCUSDT",
		MarginMode:    domain.MarginCross,
		Leverage:      3,
		StopLossPct:   0.008,
		TakeProfitPct: 0.012,
		AutoBorrow:    true,
		AutoRepay:     true,
	}
	store := NewStore(cfg)

	snap := store.Snapshot()
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, 3.0, snap.Leverage)

	store.Update(func(r *Runtime) { r.Leverage = 5 })
	assert.Equal(t, 5.0, store.Snapshot().Leverage)
	assert.Equal(t, 3.0, snap.Leverage, "snapshots are copies")
}
