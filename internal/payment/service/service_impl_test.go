package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/clock"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	invoiceservice "github.com/fakturo/fakturo/internal/invoice/service"
	paymentdomain "github.com/fakturo/fakturo/internal/payment/domain"
	paymentservice "github.com/fakturo/fakturo/internal/payment/service"
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

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&auditdomain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newServices(t *testing.T, db *gorm.DB, clk clock.Clock) (invoicedomain.Service, paymentdomain.Service) {
	t.Helper()

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: noopAuditService{},
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: noopAuditService{},
	})
	return invoiceSvc, paymentSvc
}

func seedInvoice(t *testing.T, svc invoicedomain.Service, amount int64, dueAt time.Time) invoicedomain.Invoice {
	t.Helper()

	inv, err := svc.Create(context.Background(), invoicedomain.CreateInvoiceRequest{
		Type:       invoicedomain.TypeStandard,
		CustomerID: snowflake.ID(42),
		Amount:     money.Amount(amount),
		Currency:   "EUR",
		DueAt:      dueAt,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func TestApplyPartialThenFullPayment(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	invoiceSvc, paymentSvc := newServices(t, db, clk)

	inv := seedInvoice(t, invoiceSvc, 100000, clk.Now().AddDate(0, 0, 14))

	res, err := paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(40000),
		Method:    paymentdomain.MethodBankTransfer,
		Reference: "wire 1",
	})
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if res.Invoice.PaidAmount != money.Amount(40000) {
		t.Fatalf("expected paid 40000, got %d", res.Invoice.PaidAmount)
	}
	if res.Invoice.Status != invoicedomain.StatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID, got %s", res.Invoice.Status)
	}
	if res.Warning != "" {
		t.Fatalf("unexpected warning %q", res.Warning)
	}

	res, err = paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(60000),
	})
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if res.Invoice.Status != invoicedomain.StatusPaid {
		t.Fatalf("expected PAID, got %s", res.Invoice.Status)
	}
	if res.Invoice.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}

	// Paid invoices reject further payments.
	_, err = paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(100),
	})
	if err != paymentdomain.ErrInvoiceAlreadyPaid {
		t.Fatalf("expected ErrInvoiceAlreadyPaid, got %v", err)
	}
}

func TestOverpaymentWindow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	invoiceSvc, paymentSvc := newServices(t, db, clk)

	inv := seedInvoice(t, invoiceSvc, 100000, clk.Now().AddDate(0, 0, 14))

	// 108% of the total: accepted with a warning.
	res, err := paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(108000),
	})
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if res.Warning != paymentdomain.WarningOverpayment {
		t.Fatalf("expected overpayment warning, got %q", res.Warning)
	}
	if res.Invoice.Status != invoicedomain.StatusPaid {
		t.Fatalf("expected PAID, got %s", res.Invoice.Status)
	}
}

func TestOverpaymentBeyondToleranceRejected(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	invoiceSvc, paymentSvc := newServices(t, db, clk)

	inv := seedInvoice(t, invoiceSvc, 100000, clk.Now().AddDate(0, 0, 14))

	_, err := paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(115000),
	})
	if err != paymentdomain.ErrOverpayment {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}

	// Nothing was written.
	payments, err := paymentSvc.ListByInvoice(ctx, inv.ID.String())
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("expected no payments, got %d", len(payments))
	}
}

func TestApplyPaymentValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	invoiceSvc, paymentSvc := newServices(t, db, clk)

	inv := seedInvoice(t, invoiceSvc, 100000, clk.Now().AddDate(0, 0, 14))

	_, err := paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(0),
	})
	if err != paymentdomain.ErrInvalidPayment {
		t.Fatalf("expected ErrInvalidPayment for zero amount, got %v", err)
	}

	_, err = paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: inv.ID.String(),
		Amount:    money.Amount(100),
		Method:    paymentdomain.PaymentMethod("BARTER"),
	})
	if err != paymentdomain.ErrInvalidMethod {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}

	_, err = paymentSvc.ApplyPayment(ctx, paymentdomain.ApplyPaymentRequest{
		InvoiceID: "not-a-number",
		Amount:    money.Amount(100),
	})
	if err != invoicedomain.ErrInvalidInvoiceID {
		t.Fatalf("expected ErrInvalidInvoiceID, got %v", err)
	}
}
