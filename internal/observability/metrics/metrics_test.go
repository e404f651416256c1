package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "follow"),
		attribute.String("user_id", "456"),
		attribute.String("result", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordFollowOperation(context.Background(), "follow", "ok")
	m.RecordWebhookEvent(context.Background(), "stripe", "subscription_updated", "applied")
	m.RecordGatewayCall(context.Background(), "stripe", "create_customer", "timeout")

	noopMetrics := NewNoop()
	if noopMetrics == nil {
		t.Fatalf("expected noop metrics")
	}
	noopMetrics.RecordStatusChange(context.Background(), "active", "canceling")
}

func TestHTTPMiddlewareRecordsWithoutPanicking(t *testing.T) {
	m, err := NewHTTPMetrics(Config{ServiceName: "kinship"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/followers/:userId", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/followers/u1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSurfaceOfGroupsRoutes(t *testing.T) {
	cases := map[string]string{
		"/followers/:userId":       "social_graph",
		"/following/:userId":       "social_graph",
		"/unfollow":                "social_graph",
		"/status/:targetUserId":    "social_graph",
		"/subscription/:id/cancel": "billing",
		"/payment-intent":          "billing",
		"/webhooks/:provider":      "webhook",
		"/health":                  "other",
		"unmatched":                "other",
	}
	for route, want := range cases {
		if got := surfaceOf(route); got != want {
			t.Fatalf("surfaceOf(%q) = %q, want %q", route, got, want)
		}
	}
}
