package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.AppAddr)
	require.InDelta(t, 0.18, cfg.Rates().SalesTaxRate, 1e-9)
	require.InDelta(t, 0.35, cfg.Rates().IncomeTaxRate, 1e-9)
	require.False(t, cfg.Rates().ExcludeIncomeTaxFromCost)
	require.InDelta(t, 0.005, cfg.Sales().FilerWithholdingRate, 1e-9)
	require.InDelta(t, 0.01, cfg.Sales().NonFilerWithholdingRate, 1e-9)
	require.Equal(t, 10*time.Second, cfg.Lock().TTL)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadIncomeTaxRate(t *testing.T) {
	t.Setenv("INCOME_TAX_RATE", "1.5")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("EXCLUDE_INCOME_TAX_FROM_COST", "true")
	t.Setenv("STOCK_LOCK_TTL", "3s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.Rates().ExcludeIncomeTaxFromCost)
	require.Equal(t, 3*time.Second, cfg.Lock().TTL)
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", slog.String("gd", "GD-1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "importdesk", line["service"])
	require.Equal(t, "GD-1", line["gd"])
}
