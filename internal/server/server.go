// Package server is the HTTP boundary. Handlers are thin adapters: parse,
// call the service, map errors. All invoicing rules live in the services.
package server

import (
	"context"
	"net/http"
	"time"

	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/config"
	dunningdomain "github.com/fakturo/fakturo/internal/dunning/domain"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	paymentdomain "github.com/fakturo/fakturo/internal/payment/domain"
	"github.com/fakturo/fakturo/internal/project/rollup"
	reversaldomain "github.com/fakturo/fakturo/internal/reversal/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	invoiceSvc  invoicedomain.Service
	paymentSvc  paymentdomain.Service
	reversalSvc reversaldomain.Service
	dunningSvc  dunningdomain.Service
	rollupSvc   *rollup.Service
	auditSvc    auditdomain.Service
}

type ServerParams struct {
	fx.In

	Engine      *gin.Engine
	Config      config.Config
	Log         *zap.Logger
	InvoiceSvc  invoicedomain.Service
	PaymentSvc  paymentdomain.Service
	ReversalSvc reversaldomain.Service
	DunningSvc  dunningdomain.Service
	RollupSvc   *rollup.Service
	AuditSvc    auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Engine,
		cfg:         p.Config,
		log:         p.Log.Named("http.server"),
		invoiceSvc:  p.InvoiceSvc,
		paymentSvc:  p.PaymentSvc,
		reversalSvc: p.ReversalSvc,
		dunningSvc:  p.DunningSvc,
		rollupSvc:   p.RollupSvc,
		auditSvc:    p.AuditSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/invoices", s.CreateInvoice)
	v1.GET("/invoices", s.ListInvoices)
	v1.GET("/invoices/:id", s.GetInvoiceByID)
	v1.POST("/invoices/:id/refresh-status", s.RefreshInvoiceStatus)

	v1.GET("/invoices/:id/payments", s.ListPayments)
	v1.POST("/invoices/:id/payments", s.ApplyPayment)

	v1.POST("/invoices/:id/cancellation", s.CreateCancellation)
	v1.POST("/invoices/:id/credit-notes", s.CreateCreditNote)

	v1.GET("/invoices/:id/dunning", s.GetDunningState)
	v1.POST("/invoices/:id/dunning/evaluate", s.EvaluateDunning)

	v1.GET("/projects/:id/rollup", s.GetProjectRollup)

	v1.GET("/audit-logs", s.ListAuditLogs)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
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
