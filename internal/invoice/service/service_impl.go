package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/clock"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	pkgdb "github.com/fakturo/fakturo/pkg/db"
	"github.com/fakturo/fakturo/pkg/db/option"
	"github.com/fakturo/fakturo/pkg/db/pagination"
	"github.com/fakturo/fakturo/pkg/money"
	"github.com/fakturo/fakturo/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultListPageSize = 50

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

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	if !req.Type.Valid() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidType
	}
	if req.Type.IsReversal() {
		return invoicedomain.Invoice{}, invoicedomain.ErrReversalViaCreate
	}
	if req.CustomerID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCustomer
	}
	if !req.Amount.IsPositive() {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	issuedAt := now
	if req.IssuedAt != nil {
		issuedAt = req.IssuedAt.UTC()
	}
	if req.DueAt.IsZero() || req.DueAt.Before(issuedAt) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidDueDate
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "EUR"
	}

	invoice := invoicedomain.Invoice{
		ID:         s.genID.Generate(),
		Type:       req.Type,
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		PaidAmount: money.Zero,
		Currency:   currency,
		ProjectID:  req.ProjectID,
		IssuedAt:   issuedAt,
		DueAt:      req.DueAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(req.Metadata) > 0 {
		invoice.Metadata = datatypes.JSONMap(req.Metadata)
	}
	invoice.Status = invoicedomain.DeriveStatus(invoice.Amount, invoice.PaidAmount, invoice.DueAt, now)

	// Invoice numbers come from MAX+1 inside the transaction, so two
	// concurrent creates can race on the unique index. Retry with a
	// fresh number instead of surfacing the collision.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			number, err := s.nextInvoiceNumber(ctx, tx)
			if err != nil {
				return err
			}
			invoice.InvoiceNumber = &number
			return s.invoicerepo.WithTrx(tx).Create(ctx, &invoice)
		})
		if err == nil || !pkgdb.IsDuplicateKeyErr(err) {
			break
		}
		s.log.Warn("invoice number collision, retrying",
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.emitAudit(ctx, "invoice.created", &invoice, nil)
	return invoice, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	item, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	// Status is a projection; reads always report the current derivation
	// even if the stored column has not been swept yet.
	item.RefreshStatus(s.clock.Now())
	return *item, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := &invoicedomain.Invoice{}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.Type != nil {
		filter.Type = *req.Type
	}
	if req.CustomerID != nil {
		filter.CustomerID = *req.CustomerID
	}
	if req.ProjectID != nil {
		filter.ProjectID = req.ProjectID
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}

	// Pages walk the snowflake ID, which is time-ordered. One extra row is
	// fetched to decide has_more.
	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"id": true}, Field: "id"}),
		option.WithLimit(pageSize + 1),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return invoicedomain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.GT,
			Value:    cursorID,
		}))
	}
	if req.DueFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_at",
			Operator: option.GTE,
			Value:    *req.DueFrom,
		}))
	}
	if req.DueTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_at",
			Operator: option.LTE,
			Value:    *req.DueTo,
		}))
	}
	if req.AmountMin != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "amount",
			Operator: option.GTE,
			Value:    *req.AmountMin,
		}))
	}
	if req.AmountMax != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "amount",
			Operator: option.LTE,
			Value:    *req.AmountMax,
		}))
	}
	items, err := s.invoicerepo.Find(ctx, filter, options...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), invoiceCursor)
	if pageInfo.HasMore {
		items = items[:pageSize]
	}

	now := s.clock.Now()
	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		item.RefreshStatus(now)
		invoices = append(invoices, *item)
	}

	return invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

func invoiceCursor(invoice *invoicedomain.Invoice) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        invoice.ID.String(),
		CreatedAt: invoice.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func (s *Service) RefreshStatus(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	var refreshed invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		now := s.clock.Now()
		if invoice.RefreshStatus(now) {
			invoice.UpdatedAt = now
			if err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
				Where("id = ?", invoice.ID).
				Updates(map[string]any{"status": invoice.Status, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		refreshed = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return refreshed, nil
}

func (s *Service) nextInvoiceNumber(ctx context.Context, tx *gorm.DB) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(invoice_number), 0) + 1 FROM invoices`,
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

// loadInvoiceForUpdate locks one invoice row for the duration of the
// surrounding transaction. Shared by the payment, reversal and dunning
// services so all per-invoice mutations serialize on the same lock.
func loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := pkgdb.ForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// LoadForUpdate exposes the locked load to sibling services.
func LoadForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return loadInvoiceForUpdate(ctx, tx, id)
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"type":        string(invoice.Type),
		"customer_id": invoice.CustomerID.String(),
		"currency":    invoice.Currency,
		"amount":      invoice.Amount.Cents(),
		"due_at":      invoice.DueAt.Format(time.RFC3339),
	}
	if invoice.InvoiceNumber != nil {
		metadata["invoice_number"] = *invoice.InvoiceNumber
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeUser, nil, action, "invoice", &targetID, metadata)
}
