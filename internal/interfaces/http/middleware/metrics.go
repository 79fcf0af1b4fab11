package middleware

import (
	"strconv"
	"time"

	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics counts requests and records their latency by method, route
// and status. A nil meter yields a pass-through middleware.
func HTTPMetrics(meter metric.Meter) (gin.HandlerFunc, error) {
	if meter == nil {
		return func(c *gin.Context) { c.Next() }, nil
	}

	requests, err := telemetry.NewCounter(meter,
		"http_server_request_total",
		"Total number of HTTP requests",
		"{request}",
	)
	if err != nil {
		return nil, err
	}
	duration, err := telemetry.NewLatencyHistogram(meter,
		"http_server_request_duration_seconds",
		"HTTP request latency",
	)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := c.Request.Context()
		method := telemetry.AttrHTTPMethod.String(c.Request.Method)
		routeAttr := telemetry.AttrHTTPRoute.String(route)
		requests.Inc(ctx, method, routeAttr,
			telemetry.AttrHTTPStatusCode.String(strconv.Itoa(c.Writer.Status())))
		duration.Record(ctx, time.Since(start).Seconds(), method, routeAttr)
	}, nil
}
