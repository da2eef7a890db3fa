package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	auditservice "github.com/fakturo/fakturo/internal/audit/service"
	"github.com/fakturo/fakturo/pkg/db/pagination"
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
	if err := db.AutoMigrate(&auditdomain.AuditLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) auditdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc := newService(t, setupTestDB(t))

	err := svc.AuditLog(context.Background(), auditdomain.ActorTypeUser, nil, "  ", "invoice", nil, nil)
	if err != auditdomain.ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, setupTestDB(t))

	for i := 0; i < 5; i++ {
		targetID := fmt.Sprintf("target-%d", i)
		if err := svc.AuditLog(ctx, auditdomain.ActorTypeSystem, nil, "invoice.created", "invoice", &targetID, nil); err != nil {
			t.Fatalf("audit log: %v", err)
		}
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.AuditLogs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(first.AuditLogs))
	}
	if !first.HasMore || first.NextPageToken == "" {
		t.Fatalf("expected has_more with a token, got has_more=%v token=%q", first.HasMore, first.NextPageToken)
	}
	if first.AuditLogs[0].ID < first.AuditLogs[1].ID {
		t.Fatalf("expected newest-first ordering")
	}

	seen := map[snowflake.ID]bool{}
	for _, entry := range first.AuditLogs {
		seen[entry.ID] = true
	}

	rest, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 10, PageToken: first.NextPageToken},
	})
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest.AuditLogs) != 3 {
		t.Fatalf("expected remaining 3 entries, got %d", len(rest.AuditLogs))
	}
	if rest.HasMore {
		t.Fatalf("expected no more pages")
	}
	for _, entry := range rest.AuditLogs {
		if seen[entry.ID] {
			t.Fatalf("entry %s returned on both pages", entry.ID)
		}
	}
}

func TestListFiltersByTarget(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, setupTestDB(t))

	invoiceTarget := "invoice-1"
	otherTarget := "invoice-2"
	if err := svc.AuditLog(ctx, auditdomain.ActorTypeUser, nil, "payment.applied", "invoice", &invoiceTarget, nil); err != nil {
		t.Fatalf("audit log: %v", err)
	}
	if err := svc.AuditLog(ctx, auditdomain.ActorTypeUser, nil, "payment.applied", "invoice", &otherTarget, nil); err != nil {
		t.Fatalf("audit log: %v", err)
	}

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{TargetID: invoiceTarget})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resp.AuditLogs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.AuditLogs))
	}
	if resp.AuditLogs[0].TargetID == nil || *resp.AuditLogs[0].TargetID != invoiceTarget {
		t.Fatalf("wrong target returned")
	}
}
