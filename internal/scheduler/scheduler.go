// Package scheduler drives the periodic invoice lifecycle jobs: refreshing
// stored status projections and running the dunning escalation scan.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fakturo/fakturo/internal/clock"
	dunningdomain "github.com/fakturo/fakturo/internal/dunning/domain"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	obsmetrics "github.com/fakturo/fakturo/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	DunningSvc dunningdomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	dunningSvc dunningdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.InvoiceSvc == nil || p.DunningSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		dunningSvc: p.DunningSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	err := fn(ctx)
	obsmetrics.Scheduler().ObserveJob(name, time.Since(start), err)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job exactly once. Job failures are joined,
// never short-circuit: one invoice's problem must not starve the rest.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"status_refresh", s.StatusRefreshJob},
		{"dunning_scan", s.DunningScanJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// StatusRefreshJob re-derives the stored status projection for invoices
// whose due date has passed but whose row still says OPEN or PARTIALLY_PAID.
func (s *Scheduler) StatusRefreshJob(ctx context.Context) error {
	now := s.clock.Now()
	processed := 0
	var errs []error

	var cursor int64
	for {
		var stale []invoicedomain.Invoice
		err := s.db.WithContext(ctx).
			Where("id > ?", cursor).
			Where("cancelled_at IS NULL").
			Where("due_at < ?", now).
			Where("status IN ?", []invoicedomain.InvoiceStatus{
				invoicedomain.StatusOpen,
				invoicedomain.StatusPartiallyPaid,
			}).
			Order("id ASC").
			Limit(s.cfg.BatchSize).
			Find(&stale).Error
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if len(stale) == 0 {
			break
		}

		for _, invoice := range stale {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if _, err := s.invoiceSvc.RefreshStatus(ctx, invoice.ID.String()); err != nil {
				errs = append(errs, fmt.Errorf("invoice %s: %w", invoice.ID, err))
				continue
			}
			processed++
		}

		cursor = int64(stale[len(stale)-1].ID)
		if len(stale) < s.cfg.BatchSize {
			break
		}
	}

	obsmetrics.Scheduler().AddBatchProcessed("status_refresh", processed)
	if processed > 0 {
		s.log.Info("status projections refreshed", zap.Int("count", processed))
	}
	return errors.Join(errs...)
}

// DunningScanJob runs the daily escalation pass over overdue invoices.
func (s *Scheduler) DunningScanJob(ctx context.Context) error {
	report, err := s.dunningSvc.ScanOverdue(ctx, s.cfg.BatchSize)
	obsmetrics.Scheduler().AddBatchProcessed("dunning_scan", report.Scanned)
	if report.Escalated > 0 || report.Failed > 0 {
		s.log.Info("dunning scan finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("escalated", report.Escalated),
			zap.Int("failed", report.Failed))
	}
	return err
}
