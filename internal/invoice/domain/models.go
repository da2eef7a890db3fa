// Package domain contains the invoice records and the status derivation
// rules every mutation path goes through.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fakturo/fakturo/pkg/money"
	"gorm.io/datatypes"
)

// InvoiceType distinguishes ordinary claims from reversing documents.
type InvoiceType string

const (
	TypeStandard        InvoiceType = "STANDARD"
	TypeDownPayment     InvoiceType = "DOWN_PAYMENT"
	TypeFinalSettlement InvoiceType = "FINAL_SETTLEMENT"
	TypeCancellation    InvoiceType = "CANCELLATION"
	TypeCreditNote      InvoiceType = "CREDIT_NOTE"
)

// IsReversal reports whether the type is a reversing document. Reversal
// documents are terminal: they take no payments and no reminders.
func (t InvoiceType) IsReversal() bool {
	return t == TypeCancellation || t == TypeCreditNote
}

func (t InvoiceType) Valid() bool {
	switch t {
	case TypeStandard, TypeDownPayment, TypeFinalSettlement, TypeCancellation, TypeCreditNote:
		return true
	}
	return false
}

// InvoiceStatus is a pure projection of amount, paid amount and due date.
// It is stored for query efficiency but never hand-assigned; every writer
// recomputes it through DeriveStatus.
type InvoiceStatus string

const (
	StatusOpen          InvoiceStatus = "OPEN"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusOverdue       InvoiceStatus = "OVERDUE"
	StatusPaid          InvoiceStatus = "PAID"
)

// Invoice is a billing document. Amount and PaidAmount are minor units.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	InvoiceNumber *int64        `gorm:"uniqueIndex" json:"invoice_number"`
	Type          InvoiceType   `gorm:"type:text;not null;default:'STANDARD'" json:"type"`
	Status        InvoiceStatus `gorm:"type:text;not null;index" json:"status"`
	CustomerID    snowflake.ID  `gorm:"not null;index" json:"customer_id"`
	Amount        money.Amount  `gorm:"not null" json:"amount"`
	PaidAmount    money.Amount  `gorm:"not null;default:0" json:"paid_amount"`
	Currency      string        `gorm:"type:text;not null;default:'EUR'" json:"currency"`

	ProjectID *snowflake.ID `gorm:"index" json:"project_id,omitempty"`

	// Reversal documents point back at the original claim.
	RelatedInvoiceID *snowflake.ID `gorm:"index" json:"related_invoice_id,omitempty"`
	RelatedAmount    *money.Amount `json:"related_amount,omitempty"`
	Reason           string        `gorm:"type:text" json:"reason,omitempty"`

	IssuedAt    time.Time  `gorm:"not null" json:"issued_at"`
	DueAt       time.Time  `gorm:"not null;index" json:"due_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Outstanding is the unpaid remainder, floored at zero.
func (i *Invoice) Outstanding() money.Amount {
	return i.Amount.Sub(i.PaidAmount)
}

// Cancelled reports whether a cancellation document closed this claim.
func (i *Invoice) Cancelled() bool { return i.CancelledAt != nil }

// Terminal reports whether the invoice can still move money or escalate:
// paid invoices, reversal documents and cancelled claims are done.
func (i *Invoice) Terminal() bool {
	return i.Status == StatusPaid || i.Type.IsReversal() || i.Cancelled()
}
