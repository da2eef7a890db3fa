// Package domain contains payment records and the application rules that
// move an invoice's paid amount.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	"github.com/fakturo/fakturo/pkg/money"
)

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodDirectDebit  PaymentMethod = "DIRECT_DEBIT"
	MethodCard         PaymentMethod = "CARD"
	MethodCash         PaymentMethod = "CASH"
	MethodOther        PaymentMethod = "OTHER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBankTransfer, MethodDirectDebit, MethodCard, MethodCash, MethodOther:
		return true
	}
	return false
}

// Payment is one applied payment. Rows are immutable once created and are
// owned exclusively by their invoice.
type Payment struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	InvoiceID snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	Amount    money.Amount  `gorm:"not null" json:"amount"`
	Method    PaymentMethod `gorm:"type:text;not null" json:"method"`
	Reference string        `gorm:"type:text" json:"reference,omitempty"`
	PaidAt    time.Time     `gorm:"not null" json:"paid_at"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// OverpaymentTolerancePct caps how far past the invoice total a payment may
// go before it is rejected outright. Entry up to 110% is accepted with a
// warning so slightly rounded bank transfers do not bounce.
const OverpaymentTolerancePct = 110

const WarningOverpayment = "overpayment"

type ApplyPaymentRequest struct {
	InvoiceID string        `json:"invoice_id"`
	Amount    money.Amount  `json:"amount"`
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
}

type ApplyPaymentResult struct {
	Invoice invoicedomain.Invoice `json:"invoice"`
	Payment Payment               `json:"payment"`
	// Warning is set when the payment was accepted inside the permissive
	// overpayment window.
	Warning string `json:"warning,omitempty"`
}

type Service interface {
	ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (ApplyPaymentResult, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]Payment, error)
}

var (
	ErrInvalidPayment     = errors.New("invalid_payment")
	ErrInvalidMethod      = errors.New("invalid_payment_method")
	ErrInvoiceAlreadyPaid = errors.New("invoice_already_paid")
	ErrReversalDocument   = errors.New("payment_on_reversal_document")
	ErrInvoiceCancelled   = errors.New("invoice_cancelled")
	ErrOverpayment        = errors.New("overpayment")
)
