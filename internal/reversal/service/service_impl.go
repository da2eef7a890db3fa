package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/clock"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	invoiceservice "github.com/fakturo/fakturo/internal/invoice/service"
	reversaldomain "github.com/fakturo/fakturo/internal/reversal/domain"
	"github.com/fakturo/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	invoicerepo repository.Repository[invoicedomain.Invoice]
	auditSvc    auditdomain.Service
}

func NewService(p Params) reversaldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("reversal.service"),
		genID: p.GenID,
		clock: p.Clock,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

// CreateCancellation issues a Storno document that closes the original
// claim. At most one cancellation may exist per invoice; the locked
// cancelled_at check serializes concurrent attempts.
func (s *Service) CreateCancellation(ctx context.Context, req reversaldomain.CreateCancellationRequest) (reversaldomain.ReversalResult, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return reversaldomain.ReversalResult{}, invoicedomain.ErrInvalidInvoiceID
	}

	var result reversaldomain.ReversalResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := invoiceservice.LoadForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if original == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if original.Type.IsReversal() {
			return reversaldomain.ErrNotReversible
		}
		if original.Cancelled() {
			return reversaldomain.ErrAlreadyReversed
		}

		now := s.clock.Now()
		amount := original.Amount
		cancellation := invoicedomain.Invoice{
			ID:               s.genID.Generate(),
			Type:             invoicedomain.TypeCancellation,
			Status:           invoicedomain.StatusPaid,
			CustomerID:       original.CustomerID,
			Amount:           amount,
			PaidAmount:       amount,
			Currency:         original.Currency,
			ProjectID:        original.ProjectID,
			RelatedInvoiceID: &original.ID,
			RelatedAmount:    &amount,
			Reason:           strings.TrimSpace(req.Reason),
			IssuedAt:         now,
			DueAt:            now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, &cancellation); err != nil {
			return err
		}

		original.CancelledAt = &now
		original.UpdatedAt = now
		if err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ?", original.ID).
			Updates(map[string]any{"cancelled_at": now, "updated_at": now}).Error; err != nil {
			return err
		}

		result = reversaldomain.ReversalResult{Original: *original, Reversal: cancellation}
		return nil
	})
	if err != nil {
		return reversaldomain.ReversalResult{}, err
	}

	s.emitAudit(ctx, "invoice.cancelled", &result, nil)
	return result, nil
}

// CreateCreditNote issues a self-settling Gutschrift against the original.
// A credit over the full amount reopens a fully paid original; a partial
// credit reduces the paid amount, never below zero.
func (s *Service) CreateCreditNote(ctx context.Context, req reversaldomain.CreateCreditNoteRequest) (reversaldomain.ReversalResult, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return reversaldomain.ReversalResult{}, invoicedomain.ErrInvalidInvoiceID
	}
	if !req.Amount.IsPositive() {
		return reversaldomain.ReversalResult{}, reversaldomain.ErrInvalidCreditAmount
	}

	var result reversaldomain.ReversalResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := invoiceservice.LoadForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if original == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if original.Type.IsReversal() {
			return reversaldomain.ErrNotReversible
		}
		if original.Cancelled() {
			return reversaldomain.ErrAlreadyReversed
		}
		if req.Amount > original.Amount {
			return reversaldomain.ErrInvalidCreditAmount
		}

		now := s.clock.Now()
		creditAmount := req.Amount
		creditNote := invoicedomain.Invoice{
			ID:               s.genID.Generate(),
			Type:             invoicedomain.TypeCreditNote,
			Status:           invoicedomain.StatusPaid,
			CustomerID:       original.CustomerID,
			Amount:           creditAmount,
			PaidAmount:       creditAmount,
			Currency:         original.Currency,
			ProjectID:        original.ProjectID,
			RelatedInvoiceID: &original.ID,
			RelatedAmount:    &creditAmount,
			Reason:           strings.TrimSpace(req.Reason),
			IssuedAt:         now,
			DueAt:            now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.invoicerepo.WithTrx(tx).Create(ctx, &creditNote); err != nil {
			return err
		}

		original.PaidAmount = original.PaidAmount.Sub(creditAmount)
		original.RefreshStatus(now)
		original.UpdatedAt = now
		updates := map[string]any{
			"paid_amount": original.PaidAmount,
			"status":      original.Status,
			"updated_at":  now,
		}
		if original.Status != invoicedomain.StatusPaid && original.PaidAt != nil {
			original.PaidAt = nil
			updates["paid_at"] = gorm.Expr("NULL")
		}
		if err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ?", original.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		result = reversaldomain.ReversalResult{Original: *original, Reversal: creditNote}
		return nil
	})
	if err != nil {
		return reversaldomain.ReversalResult{}, err
	}

	s.emitAudit(ctx, "invoice.credited", &result, map[string]any{
		"credit_amount": req.Amount.Cents(),
	})
	return result, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, result *reversaldomain.ReversalResult, extra map[string]any) {
	if s.auditSvc == nil || result == nil {
		return
	}
	metadata := map[string]any{
		"reversal_id":     result.Reversal.ID.String(),
		"reversal_type":   string(result.Reversal.Type),
		"reversal_amount": result.Reversal.Amount.Cents(),
		"paid_amount":     result.Original.PaidAmount.Cents(),
		"status":          string(result.Original.Status),
	}
	if result.Reversal.Reason != "" {
		metadata["reason"] = result.Reversal.Reason
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	targetID := result.Original.ID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, nil, action, "invoice", &targetID, metadata)
}
