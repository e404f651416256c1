package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics records per-route latency and concurrency for the REST surface.
type HTTPMetrics struct {
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "kinship"
	}
	meter := provider.Meter(name + "/http")

	duration, err := meter.Float64Histogram("kinship_http_request_duration_ms",
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000),
	)
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("kinship_http_requests_in_flight")
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{duration: duration, inFlight: inFlight}, nil
}

// GinMiddleware records latency by route, surface and status code. Unmatched
// paths collapse into one series so scanners cannot explode cardinality.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := c.Request.Context()
		base := metric.WithAttributes(FilterAttributes(
			attribute.String("endpoint", route),
			attribute.String("surface", surfaceOf(route)),
		)...)

		m.inFlight.Add(ctx, 1, base)
		start := time.Now()
		c.Next()
		m.inFlight.Add(ctx, -1, base)

		m.duration.Record(ctx, float64(time.Since(start).Milliseconds()), base,
			metric.WithAttributes(attribute.String("status_code", strconv.Itoa(c.Writer.Status()))),
		)
	}
}

// surfaceOf groups routes by the part of the service they exercise.
func surfaceOf(route string) string {
	switch {
	case strings.HasPrefix(route, "/webhook"):
		return "webhook"
	case strings.HasPrefix(route, "/follow"), strings.HasPrefix(route, "/unfollow"),
		strings.HasPrefix(route, "/status"):
		return "social_graph"
	case strings.HasPrefix(route, "/customer"), strings.HasPrefix(route, "/payment"),
		strings.HasPrefix(route, "/subscription"):
		return "billing"
	default:
		return "other"
	}
}
