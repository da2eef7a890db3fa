package rollup_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	"github.com/fakturo/fakturo/internal/project/rollup"
	"github.com/fakturo/fakturo/pkg/money"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&invoicedomain.Invoice{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func insertInvoice(t *testing.T, db *gorm.DB, id int64, projectID snowflake.ID, typ invoicedomain.InvoiceType, amount, paid int64) {
	t.Helper()

	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	inv := invoicedomain.Invoice{
		ID:         snowflake.ID(id),
		Type:       typ,
		Status:     invoicedomain.StatusOpen,
		CustomerID: snowflake.ID(1),
		Amount:     money.Amount(amount),
		PaidAmount: money.Amount(paid),
		Currency:   "EUR",
		ProjectID:  &projectID,
		IssuedAt:   now,
		DueAt:      now.AddDate(0, 0, 14),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(&inv).Error; err != nil {
		t.Fatalf("insert invoice: %v", err)
	}
}

func TestRollupAggregatesDownPayments(t *testing.T) {
	db := setupTestDB(t)
	svc := rollup.NewService(rollup.Params{DB: db, Log: zap.NewNop()})
	projectID := snowflake.ID(777)

	insertInvoice(t, db, 1, projectID, invoicedomain.TypeDownPayment, 30000, 30000)
	insertInvoice(t, db, 2, projectID, invoicedomain.TypeDownPayment, 20000, 10000)
	insertInvoice(t, db, 3, projectID, invoicedomain.TypeFinalSettlement, 100000, 0)
	// Other project, must not leak in.
	insertInvoice(t, db, 4, snowflake.ID(888), invoicedomain.TypeDownPayment, 99999, 0)
	// Standard invoices are outside the rollup.
	insertInvoice(t, db, 5, projectID, invoicedomain.TypeStandard, 50000, 0)

	got, err := svc.ForProject(context.Background(), projectID.String())
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if got.DownPaymentCount != 2 {
		t.Fatalf("expected 2 down payments, got %d", got.DownPaymentCount)
	}
	if got.TotalDownPayments != money.Amount(50000) {
		t.Fatalf("expected 50000 billed, got %d", got.TotalDownPayments)
	}
	if got.DownPaymentsPaid != money.Amount(40000) {
		t.Fatalf("expected 40000 paid, got %d", got.DownPaymentsPaid)
	}
	if !got.HasSettlement || got.SettlementTotal != money.Amount(100000) {
		t.Fatalf("expected settlement 100000, got %+v", got)
	}
	if got.Difference != money.Amount(50000) {
		t.Fatalf("expected difference 50000, got %d", got.Difference)
	}
}

func TestRollupDownPaymentsExceedSettlement(t *testing.T) {
	db := setupTestDB(t)
	svc := rollup.NewService(rollup.Params{DB: db, Log: zap.NewNop()})
	projectID := snowflake.ID(777)

	insertInvoice(t, db, 1, projectID, invoicedomain.TypeDownPayment, 80000, 0)
	insertInvoice(t, db, 2, projectID, invoicedomain.TypeDownPayment, 50000, 0)
	insertInvoice(t, db, 3, projectID, invoicedomain.TypeFinalSettlement, 100000, 0)

	got, err := svc.ForProject(context.Background(), projectID.String())
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	// Advisory only: the negative figure is surfaced, nothing is rejected.
	if got.Difference != money.Amount(-30000) {
		t.Fatalf("expected difference -30000, got %d", got.Difference)
	}
}

func TestRollupWithoutSettlement(t *testing.T) {
	db := setupTestDB(t)
	svc := rollup.NewService(rollup.Params{DB: db, Log: zap.NewNop()})
	projectID := snowflake.ID(777)

	insertInvoice(t, db, 1, projectID, invoicedomain.TypeDownPayment, 30000, 0)

	got, err := svc.ForProject(context.Background(), projectID.String())
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if got.HasSettlement {
		t.Fatalf("expected no settlement")
	}
	if got.Difference != money.Zero {
		t.Fatalf("difference must be zero without a settlement, got %d", got.Difference)
	}
}

func TestRollupInvalidProjectID(t *testing.T) {
	db := setupTestDB(t)
	svc := rollup.NewService(rollup.Params{DB: db, Log: zap.NewNop()})

	if _, err := svc.ForProject(context.Background(), "abc"); err != rollup.ErrInvalidProjectID {
		t.Fatalf("expected ErrInvalidProjectID, got %v", err)
	}
}
