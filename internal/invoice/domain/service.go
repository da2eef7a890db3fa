package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fakturo/fakturo/pkg/db/pagination"
	"github.com/fakturo/fakturo/pkg/money"
)

type CreateInvoiceRequest struct {
	Type       InvoiceType    `json:"type"`
	CustomerID snowflake.ID   `json:"customer_id"`
	Amount     money.Amount   `json:"amount"`
	Currency   string         `json:"currency"`
	ProjectID  *snowflake.ID  `json:"project_id,omitempty"`
	IssuedAt   *time.Time     `json:"issued_at,omitempty"`
	DueAt      time.Time      `json:"due_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status     *InvoiceStatus
	Type       *InvoiceType
	CustomerID *snowflake.ID
	ProjectID  *snowflake.ID
	DueFrom    *time.Time
	DueTo      *time.Time
	AmountMin  *money.Amount
	AmountMax  *money.Amount
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	// RefreshStatus re-derives the stored status projection for one invoice,
	// used after due-date changes and by the scheduler's status sweep.
	RefreshStatus(ctx context.Context, id string) (Invoice, error)
}

var (
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
	ErrInvalidInvoiceID  = errors.New("invalid_invoice_id")
	ErrInvalidType       = errors.New("invalid_invoice_type")
	ErrInvalidCustomer   = errors.New("invalid_customer")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidDueDate    = errors.New("invalid_due_date")
	ErrReversalViaCreate = errors.New("reversal_requires_reversal_service")
)
