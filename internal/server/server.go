package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/eventpay/internal/attendance"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/internal/event"
	"github.com/smallbiznis/eventpay/internal/event/cancellation"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/notification"
	"github.com/smallbiznis/eventpay/internal/observability"
	obsmiddleware "github.com/smallbiznis/eventpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/eventpay/internal/observability/metrics"
	"github.com/smallbiznis/eventpay/internal/observability/tracing"
	"github.com/smallbiznis/eventpay/internal/payment"
	paymentdomain "github.com/smallbiznis/eventpay/internal/payment/domain"
	"github.com/smallbiznis/eventpay/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	notification.Module,
	ratelimit.Module,
	event.Module,
	attendance.Module,
	payment.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Environment != "production",
		ErrorClassifier: classifyErrorForLog,
		SlowThreshold:   2 * time.Second,
	}))
	r.Use(tracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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

// eventCanceler is satisfied by *cancellation.Dispatcher.
type eventCanceler interface {
	Cancel(ctx context.Context, eventID snowflake.ID, note *string) (eventdomain.Event, error)
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	clock         clock.Clock
	eventSvc      eventdomain.Service
	canceler      eventCanceler
	attendanceSvc attendancedomain.Service
	sessionSvc    paymentdomain.SessionService
	reconcileSvc  paymentdomain.ReconcileService
	webhookSvc    paymentdomain.WebhookService
	payoutSvc     paymentdomain.PayoutService
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Log           *zap.Logger
	Clock         clock.Clock
	EventSvc      eventdomain.Service
	Canceler      *cancellation.Dispatcher
	AttendanceSvc attendancedomain.Service
	SessionSvc    paymentdomain.SessionService
	ReconcileSvc  paymentdomain.ReconcileService
	WebhookSvc    paymentdomain.WebhookService
	PayoutSvc     paymentdomain.PayoutService
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		log:           p.Log.Named("http.server"),
		clock:         p.Clock,
		eventSvc:      p.EventSvc,
		canceler:      p.Canceler,
		attendanceSvc: p.AttendanceSvc,
		sessionSvc:    p.SessionSvc,
		reconcileSvc:  p.ReconcileSvc,
		webhookSvc:    p.WebhookSvc,
		payoutSvc:     p.PayoutSvc,
	}

	svc.registerRoutes()
	return svc
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")

	api.POST("/events", s.CreateEvent)
	api.GET("/events/:id", s.GetEvent)
	api.PATCH("/events/:id", s.UpdateEvent)
	api.DELETE("/events/:id", s.DeleteEvent)
	api.POST("/events/:id/cancel", s.CancelEvent)

	api.POST("/events/:id/attendances", s.AdmitAttendance)
	api.GET("/events/:id/attendances", s.ListAttendances)
	api.GET("/attendances/:id", s.GetAttendance)
	api.PATCH("/attendances/:id", s.ChangeAttendanceStatus)
	api.POST("/attendances/:id/guest-token", s.ReissueGuestToken)

	api.GET("/attendances/:id/payment-eligibility", s.GetPaymentEligibility)
	api.POST("/attendances/:id/checkout", s.StartCheckout)
	api.GET("/attendances/:id/payments", s.ListPayments)
	api.POST("/attendances/:id/payments", s.RecordManualPayment)
	api.POST("/payments/:id/transitions", s.TransitionPayment)
	api.PUT("/owners/:id/payout-account", s.RegisterPayoutAccount)

	guest := api.Group("/guest")
	guest.GET("/attendance", s.GetGuestAttendance)
	guest.PATCH("/attendance", s.ChangeGuestStatus)
	guest.GET("/payment-eligibility", s.GetGuestPaymentEligibility)
	guest.POST("/checkout", s.StartGuestCheckout)

	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
