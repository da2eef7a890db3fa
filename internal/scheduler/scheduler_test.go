package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/clock"
	"github.com/fakturo/fakturo/internal/config"
	dunningdomain "github.com/fakturo/fakturo/internal/dunning/domain"
	dunningservice "github.com/fakturo/fakturo/internal/dunning/service"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	invoiceservice "github.com/fakturo/fakturo/internal/invoice/service"
	"github.com/fakturo/fakturo/internal/notification"
	paymentdomain "github.com/fakturo/fakturo/internal/payment/domain"
	"github.com/fakturo/fakturo/internal/scheduler"
	"github.com/fakturo/fakturo/pkg/money"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type fixture struct {
	db         *gorm.DB
	clk        *clock.FakeClock
	invoiceSvc invoicedomain.Service
	dunningSvc dunningdomain.Service
	sched      *scheduler.Scheduler
}

func newFixture(t *testing.T, cfg scheduler.Config) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&dunningdomain.State{},
		&dunningdomain.Entry{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(13)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC))

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: noopAuditService{},
	})
	dunningSvc := dunningservice.NewService(dunningservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Dunning:  config.NewStaticDunningConfigHolder(config.DefaultDunningConfig()),
		Notifier: &notification.NoOpProvider{},
		AuditSvc: noopAuditService{},
	})
	sched, err := scheduler.New(scheduler.Params{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      clk,
		InvoiceSvc: invoiceSvc,
		DunningSvc: dunningSvc,
		Config:     cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	return &fixture{db: db, clk: clk, invoiceSvc: invoiceSvc, dunningSvc: dunningSvc, sched: sched}
}

func (f *fixture) seedInvoice(t *testing.T, amount int64) invoicedomain.Invoice {
	t.Helper()

	inv, err := f.invoiceSvc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		Type:       invoicedomain.TypeStandard,
		CustomerID: snowflake.ID(42),
		Amount:     money.Amount(amount),
		Currency:   "EUR",
		DueAt:      f.clk.Now(),
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func TestRunOnceRefreshesStatusAndEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scheduler.Config{})

	inv := f.seedInvoice(t, 100000)
	f.clk.AdvanceDays(8)

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	// The stored projection now says OVERDUE.
	var row invoicedomain.Invoice
	if err := f.db.Where("id = ?", inv.ID).First(&row).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if row.Status != invoicedomain.StatusOverdue {
		t.Fatalf("expected stored OVERDUE, got %s", row.Status)
	}

	view, err := f.dunningSvc.GetState(ctx, inv.ID.String())
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if view.State.Level != dunningdomain.LevelFriendly {
		t.Fatalf("expected FRIENDLY after first scan, got %s", view.State.Level)
	}
}

func TestRunOnceIsIdempotentSameDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scheduler.Config{})

	inv := f.seedInvoice(t, 100000)
	f.clk.AdvanceDays(8)

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	view, err := f.dunningSvc.GetState(ctx, inv.ID.String())
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if len(view.History) != 1 {
		t.Fatalf("expected 1 history entry after rescan, got %d", len(view.History))
	}
}

func TestEnabledJobsFilter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, scheduler.Config{EnabledJobs: []string{"status_refresh"}})

	inv := f.seedInvoice(t, 100000)
	f.clk.AdvanceDays(8)

	if err := f.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var row invoicedomain.Invoice
	if err := f.db.Where("id = ?", inv.ID).First(&row).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if row.Status != invoicedomain.StatusOverdue {
		t.Fatalf("status_refresh should have run, got %s", row.Status)
	}

	if _, err := f.dunningSvc.GetState(ctx, inv.ID.String()); err != dunningdomain.ErrStateNotFound {
		t.Fatalf("dunning_scan should not have run, got %v", err)
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := scheduler.New(scheduler.Params{}); err != scheduler.ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
