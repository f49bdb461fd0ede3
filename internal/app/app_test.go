package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cristalhq/aconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/discount-engine/internal/domain/discount"
	"github.com/xenking/discount-engine/pkg/httpmiddleware"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := loadConfig(aconfig.Config{SkipFlags: true, SkipFiles: true})
	require.Error(t, err, "postgres without a URL must not load")

	t.Setenv("DISCOUNT_STORAGE_DRIVER", DriverMemory)
	cfg, err = loadConfig(aconfig.Config{SkipFlags: true, SkipFiles: true})
	require.NoError(t, err)
	return cfg
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := testConfig(t)
		assert.Equal(t, defaultAddr, cfg.Addr)
		assert.Equal(t, "UTC", cfg.Timezone)
		assert.Equal(t, 300, cfg.RateLimit.Max)
		assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
		assert.Empty(t, cfg.Redis.Addr)
	})
	t.Run("platform defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://pos:pos@db:5432/pos")
		t.Setenv("PORT", "9000")
		cfg, err := loadConfig(aconfig.Config{SkipFlags: true, SkipFiles: true})
		require.NoError(t, err)
		assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
		assert.Equal(t, "postgres://pos:pos@db:5432/pos", cfg.Storage.DatabaseURL)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})
	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  Config
		}{
			{name: "unknown driver", cfg: Config{Timezone: "UTC", Storage: StorageConfig{Driver: "mysql"}}},
			{name: "sqlite without path", cfg: Config{Timezone: "UTC", Storage: StorageConfig{Driver: DriverSQLite}}},
			{name: "bad timezone", cfg: Config{Timezone: "Mars/Olympus", Storage: StorageConfig{Driver: DriverMemory}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Error(t, tt.cfg.Validate())
			})
		}
	})
}

func TestApp(t *testing.T) {
	cfg := testConfig(t)

	ctx := context.Background()
	a, err := New(ctx, zaptest.NewLogger(t), noopTelemetry{}, cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Rules().SaveRule(ctx, &discount.Rule{
		ID:            "r1",
		CompanyID:     "c1",
		Name:          "Ten off",
		DiscountType:  discount.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		AppliesTo:     discount.ScopeOrder,
		UsageLimit:    discount.UsageUnlimited,
		IsActive:      true,
	}))

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		w := httptest.NewRecorder()
		a.Handler().ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httpmiddleware.HeaderRequestID))

	w = do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	a.Health().SetReady(true)
	w = do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/api/discounts/r1/calculate",
		`{"cart":{"items":[{"productId":"p","quantity":1,"subtotal":80}],"subtotal":80}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"finalAmount":72.00`)

	w = do(http.MethodGet, "/api/nothing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
