// Package domain defines the reversing documents: cancellations (Storno)
// and credit notes (Gutschrift) issued against an existing invoice.
package domain

import (
	"context"
	"errors"

	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	"github.com/fakturo/fakturo/pkg/money"
)

type CreateCancellationRequest struct {
	InvoiceID string `json:"invoice_id"`
	Reason    string `json:"reason"`
}

type CreateCreditNoteRequest struct {
	InvoiceID string       `json:"invoice_id"`
	Amount    money.Amount `json:"amount"`
	Reason    string       `json:"reason"`
}

// ReversalResult carries the new document and the original as mutated by it.
type ReversalResult struct {
	Original invoicedomain.Invoice `json:"original"`
	Reversal invoicedomain.Invoice `json:"reversal"`
}

type Service interface {
	CreateCancellation(ctx context.Context, req CreateCancellationRequest) (ReversalResult, error)
	CreateCreditNote(ctx context.Context, req CreateCreditNoteRequest) (ReversalResult, error)
}

var (
	ErrAlreadyReversed     = errors.New("already_reversed")
	ErrNotReversible       = errors.New("not_reversible")
	ErrInvalidCreditAmount = errors.New("invalid_credit_amount")
)
