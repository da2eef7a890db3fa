package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/clock"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	invoiceservice "github.com/fakturo/fakturo/internal/invoice/service"
	paymentdomain "github.com/fakturo/fakturo/internal/payment/domain"
	"github.com/fakturo/fakturo/pkg/db/option"
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

	paymentrepo repository.Repository[paymentdomain.Payment]
	auditSvc    auditdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,

		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

// ApplyPayment is the only path that increases an invoice's paid amount.
// The invoice row is locked for the whole read-modify-write so concurrent
// payments cannot race past the already-paid check.
func (s *Service) ApplyPayment(ctx context.Context, req paymentdomain.ApplyPaymentRequest) (paymentdomain.ApplyPaymentResult, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return paymentdomain.ApplyPaymentResult{}, invoicedomain.ErrInvalidInvoiceID
	}
	if !req.Amount.IsPositive() {
		return paymentdomain.ApplyPaymentResult{}, paymentdomain.ErrInvalidPayment
	}
	method := req.Method
	if method == "" {
		method = paymentdomain.MethodBankTransfer
	}
	if !method.Valid() {
		return paymentdomain.ApplyPaymentResult{}, paymentdomain.ErrInvalidMethod
	}

	now := s.clock.Now()
	paidAt := now
	if req.PaidAt != nil {
		paidAt = req.PaidAt.UTC()
	}

	var result paymentdomain.ApplyPaymentResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := invoiceservice.LoadForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Type.IsReversal() {
			return paymentdomain.ErrReversalDocument
		}
		if invoice.Cancelled() {
			return paymentdomain.ErrInvoiceCancelled
		}

		invoice.RefreshStatus(now)
		if invoice.Status == invoicedomain.StatusPaid {
			return paymentdomain.ErrInvoiceAlreadyPaid
		}

		newPaid := invoice.PaidAmount.Add(req.Amount)
		ceiling := invoice.Amount.Percent(paymentdomain.OverpaymentTolerancePct)
		if newPaid > ceiling {
			return paymentdomain.ErrOverpayment
		}
		warning := ""
		if newPaid > invoice.Amount {
			warning = paymentdomain.WarningOverpayment
		}

		payment := paymentdomain.Payment{
			ID:        s.genID.Generate(),
			InvoiceID: invoice.ID,
			Amount:    req.Amount,
			Method:    method,
			Reference: strings.TrimSpace(req.Reference),
			PaidAt:    paidAt,
			CreatedAt: now,
		}
		if err := s.paymentrepo.WithTrx(tx).Create(ctx, &payment); err != nil {
			return err
		}

		invoice.PaidAmount = newPaid
		invoice.RefreshStatus(now)
		updates := map[string]any{
			"paid_amount": invoice.PaidAmount,
			"status":      invoice.Status,
			"updated_at":  now,
		}
		if invoice.Status == invoicedomain.StatusPaid && invoice.PaidAt == nil {
			invoice.PaidAt = &paidAt
			updates["paid_at"] = paidAt
		}
		invoice.UpdatedAt = now
		if err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		result = paymentdomain.ApplyPaymentResult{
			Invoice: *invoice,
			Payment: payment,
			Warning: warning,
		}
		return nil
	})
	if err != nil {
		return paymentdomain.ApplyPaymentResult{}, err
	}

	s.emitAudit(ctx, &result)
	return result, nil
}

func (s *Service) ListByInvoice(ctx context.Context, invoiceID string) ([]paymentdomain.Payment, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	items, err := s.paymentrepo.Find(ctx, &paymentdomain.Payment{InvoiceID: id},
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"paid_at": true}, Field: "paid_at"}),
	)
	if err != nil {
		return nil, err
	}

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}
	return payments, nil
}

func (s *Service) emitAudit(ctx context.Context, result *paymentdomain.ApplyPaymentResult) {
	if s.auditSvc == nil || result == nil {
		return
	}
	metadata := map[string]any{
		"payment_id":  result.Payment.ID.String(),
		"amount":      result.Payment.Amount.Cents(),
		"method":      string(result.Payment.Method),
		"paid_amount": result.Invoice.PaidAmount.Cents(),
		"status":      string(result.Invoice.Status),
		"paid_at":     result.Payment.PaidAt.Format(time.RFC3339),
	}
	if result.Warning != "" {
		metadata["warning"] = result.Warning
	}
	targetID := result.Invoice.ID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, nil, "payment.applied", "invoice", &targetID, metadata)
}
