package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/audit/feed"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agentmarket/internal/observability/tracing"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	"github.com/smallbiznis/agentmarket/internal/ratelimit"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// EngineParams holds the optional observability hooks for the engine.
type EngineParams struct {
	fx.In

	Cfg         config.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
	Gatherer    prometheus.Gatherer     `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           p.Cfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if p.HTTPMetrics != nil {
		r.Use(p.HTTPMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if p.Gatherer != nil {
		gatherers = append(gatherers, p.Gatherer)
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})))

	return r
}

func registerGin(p EngineParams) *gin.Engine {
	return NewEngine(p)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
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
	engine       *gin.Engine
	cfg          config.Config
	offeringSvc  offeringdomain.Service
	rentalSvc    rentaldomain.Service
	usageSvc     usagedomain.Service
	auditSvc     auditdomain.Service
	escrowSvc    *escrow.Service
	settlements  *settlement.Recorder
	feed         *feed.Hub
	usageLimiter *ratelimit.UsageRecordLimiter
	obsMetrics   *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	OfferingSvc  offeringdomain.Service
	RentalSvc    rentaldomain.Service
	UsageSvc     usagedomain.Service
	AuditSvc     auditdomain.Service
	EscrowSvc    *escrow.Service
	Settlements  *settlement.Recorder
	Feed         *feed.Hub                     `optional:"true"`
	UsageLimiter *ratelimit.UsageRecordLimiter `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		offeringSvc:  p.OfferingSvc,
		rentalSvc:    p.RentalSvc,
		usageSvc:     p.UsageSvc,
		auditSvc:     p.AuditSvc,
		escrowSvc:    p.EscrowSvc,
		settlements:  p.Settlements,
		feed:         p.Feed,
		usageLimiter: p.UsageLimiter,
		obsMetrics:   p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(CallerContext())

	// -------- Offerings --------
	api.POST("/offerings", s.RegisterOffering)
	api.GET("/offerings", s.ListActiveOfferings)
	api.GET("/offerings/count", s.CountOfferings)
	api.GET("/offerings/:id", s.GetOffering)
	api.PATCH("/offerings/:id", s.UpdateOffering)
	api.POST("/offerings/:id/activate", s.ActivateOffering)
	api.POST("/offerings/:id/deactivate", s.DeactivateOffering)
	api.POST("/offerings/:id/reviews", s.AddReview)
	api.GET("/offerings/:id/reviews", s.ListReviews)
	api.GET("/offerings/:id/usage-stats", s.GetAgentUsageStats)
	api.GET("/owners/:address/offerings", s.ListOfferingsByOwner)
	api.GET("/categories/:category/offerings", s.ListOfferingsByCategory)

	// -------- Rentals --------
	api.POST("/rentals/pay-per-use", s.RentPayPerUse)
	api.POST("/rentals/subscription", s.RentSubscription)
	api.GET("/rentals/:id", s.GetRental)
	api.POST("/rentals/:id/use", s.UseAgent)
	api.POST("/rentals/:id/cancel", s.CancelRental)
	api.POST("/rentals/:id/complete", s.CompleteRental)
	api.GET("/rentals/:id/escrow", s.GetRentalEscrow)
	api.GET("/rentals/:id/usage-records", s.ListUsageByRental)
	api.GET("/renters/:address/rentals", s.ListRentalsByRenter)

	// -------- Usage ledger --------
	api.POST("/compute-providers", s.RegisterComputeProvider)
	api.GET("/compute-providers/:address", s.GetComputeProvider)
	api.POST("/usage-records", s.UsageRecordRateLimit(), s.RecordUsage)
	api.GET("/usage-records/:id", s.GetUsageRecord)
	api.POST("/usage-records/:id/verify", s.VerifyUsage)

	// -------- Settlement --------
	api.GET("/accounts/:address/balance", s.GetAccountBalance)

	// -------- Change log --------
	api.GET("/events", s.ListEvents)
	api.GET("/events/stream", s.StreamEvents)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
