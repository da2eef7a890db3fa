package domain

import (
	"time"

	"github.com/fakturo/fakturo/pkg/money"
)

// DeriveStatus computes an invoice's status from its figures and due date.
// It is the single source of truth: every mutation path and read-side
// refresh calls it rather than assigning status inline.
//
// Overdue takes precedence over partial payment: a partially paid invoice
// past its due date reports OVERDUE. The due date is inclusive of the whole
// calendar day.
func DeriveStatus(amount, paidAmount money.Amount, dueAt, today time.Time) InvoiceStatus {
	if paidAmount >= amount {
		return StatusPaid
	}
	if today.After(money.EndOfDay(dueAt)) {
		return StatusOverdue
	}
	if paidAmount > 0 {
		return StatusPartiallyPaid
	}
	return StatusOpen
}

// RefreshStatus re-derives and stores the projection on the record. Returns
// true when the stored value changed.
func (i *Invoice) RefreshStatus(today time.Time) bool {
	next := DeriveStatus(i.Amount, i.PaidAmount, i.DueAt, today)
	if next == i.Status {
		return false
	}
	i.Status = next
	return true
}
