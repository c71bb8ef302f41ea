package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	mw, err := HTTPMetrics(provider.Meter("http.server"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(mw)
	router.GET("/api/v1/orders/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.POST("/webhooks/shopify", func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 3 {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	for _, topic := range []string{"orders/paid", "orders/paid", "bogus/topic"} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", nil)
		req.Header.Set("X-Shopify-Topic", topic)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	counts := map[string]int64{}
	topics := map[string]int64{}
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "http_server_request_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value("http.route")
					counts[route.AsString()] += dp.Value
					if topic, ok := dp.Attributes.Value("topic"); ok {
						topics[topic.AsString()] += dp.Value
					}
				}
			case "http_server_request_duration_seconds":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				for _, dp := range hist.DataPoints {
					durations += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(3), counts["/api/v1/orders/:id"])
	assert.Equal(t, int64(1), counts["unknown"])
	assert.Equal(t, int64(3), counts["/webhooks/shopify"])
	assert.Equal(t, map[string]int64{"orders/paid": 2}, topics)
	assert.Equal(t, uint64(7), durations)
}
