package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/kinship/internal/auth"
	authdomain "github.com/smallbiznis/kinship/internal/auth/domain"
	"github.com/smallbiznis/kinship/internal/billing"
	billingdomain "github.com/smallbiznis/kinship/internal/billing/domain"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/events"
	"github.com/smallbiznis/kinship/internal/followgraph"
	followdomain "github.com/smallbiznis/kinship/internal/followgraph/domain"
	"github.com/smallbiznis/kinship/internal/observability"
	obsmiddleware "github.com/smallbiznis/kinship/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/kinship/internal/observability/metrics"
	obstracing "github.com/smallbiznis/kinship/internal/observability/tracing"
	"github.com/smallbiznis/kinship/internal/payment"
	paymentdomain "github.com/smallbiznis/kinship/internal/payment/domain"
	"github.com/smallbiznis/kinship/internal/profile"
	"github.com/smallbiznis/kinship/internal/ratelimit"
	"github.com/smallbiznis/kinship/internal/subscription"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	events.Module,
	auth.Module,
	ratelimit.Module,
	profile.Module,
	followgraph.Module,
	subscription.Module,
	billing.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ginParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func registerGin(p ginParams) *gin.Engine {
	return NewEngine(p.ObsCfg, p.HTTPMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	verifier      authdomain.Verifier
	followSvc     followdomain.Service
	billingSvc    billingdomain.Service
	webhookSvc    paymentdomain.Service
	followLimiter *ratelimit.FollowLimiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	Verifier      authdomain.Verifier
	FollowSvc     followdomain.Service
	BillingSvc    billingdomain.Service
	WebhookSvc    paymentdomain.Service
	FollowLimiter *ratelimit.FollowLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		verifier:      p.Verifier,
		followSvc:     p.FollowSvc,
		billingSvc:    p.BillingSvc,
		webhookSvc:    p.WebhookSvc,
		followLimiter: p.FollowLimiter,
	}

	svc.registerSocialGraphRoutes()
	svc.registerBillingRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerSocialGraphRoutes() {
	s.engine.GET("/followers/:userId", s.ListFollowers)
	s.engine.GET("/following/:userId", s.ListFollowing)

	authed := s.engine.Group("/", s.AuthRequired())
	authed.POST("/follow", s.FollowRateLimit("follow"), s.Follow)
	authed.POST("/unfollow", s.FollowRateLimit("unfollow"), s.Unfollow)
	authed.GET("/status/:targetUserId", s.FollowStatus)
}

func (s *Server) registerBillingRoutes() {
	authed := s.engine.Group("/", s.AuthRequired())
	authed.POST("/customer", s.CreateCustomer)
	authed.POST("/payment-intent", s.CreatePaymentIntent)
	authed.POST("/subscription", s.CreateSubscription)
	authed.PATCH("/subscription/:id/cancel", s.CancelSubscription)
	authed.GET("/payment-methods", s.ListPaymentMethods)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhook", s.HandleStripeWebhook)
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
