package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/delivery"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
)

func newTestApp(t *testing.T) (*fiber.App, *delivery.Recorder) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// Each pooled connection to :memory: would get its own database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.DeliveryRecord{}))

	recorder := delivery.NewRecorder(db, zap.NewNop())
	handler := NewDeliveriesHandler(recorder, zap.NewNop())

	app := fiber.New()
	app.Get("/api/v1/deliveries", handler.GetDeliveries)
	app.Get("/api/v1/deliveries/stats", handler.GetStats)
	return app, recorder
}

func seedRecord(recorder *delivery.Recorder, event string, success bool) {
	code := 200
	if !success {
		code = 500
	}
	recorder.RecordDelivery(context.Background(), models.DeliveryRecord{
		Event:      event,
		URL:        "https://example.com/hook",
		Payload:    "{}",
		Success:    success,
		StatusCode: &code,
		Attempts:   1,
		DurationMs: 50,
		Timestamp:  time.Now().UTC(),
	})
}

func TestGetDeliveries(t *testing.T) {
	app, recorder := newTestApp(t)
	seedRecord(recorder, "rate.changed", true)
	seedRecord(recorder, "rate.changed", false)
	seedRecord(recorder, "service.unhealthy", true)

	t.Run("All", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/deliveries", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body struct {
			Count int `json:"count"`
		}
		raw, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, 3, body.Count)
	})

	t.Run("FilteredByEvent", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/deliveries?event=rate.changed", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		var body struct {
			Count int `json:"count"`
		}
		raw, _ := io.ReadAll(resp.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, 2, body.Count)
	})

	t.Run("BadLimit", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/deliveries?limit=abc", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetStatsEndpoint(t *testing.T) {
	app, recorder := newTestApp(t)
	seedRecord(recorder, "rate.changed", true)
	seedRecord(recorder, "rate.changed", false)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/deliveries/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats delivery.Stats
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.01)
}
