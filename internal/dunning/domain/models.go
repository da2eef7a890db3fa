// Package domain models the per-invoice reminder state machine. Levels
// advance one step at a time, fees and interest accrue per step, and the
// history is append-only.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fakturo/fakturo/pkg/money"
)

// Level is one step in the escalation sequence. LEGAL is terminal.
type Level string

const (
	LevelNone     Level = "NONE"
	LevelFriendly Level = "FRIENDLY"
	LevelFirst    Level = "FIRST"
	LevelSecond   Level = "SECOND"
	LevelFinal    Level = "FINAL"
	LevelLegal    Level = "LEGAL"
)

var levelSequence = []Level{LevelNone, LevelFriendly, LevelFirst, LevelSecond, LevelFinal, LevelLegal}

func (l Level) Valid() bool {
	for _, level := range levelSequence {
		if l == level {
			return true
		}
	}
	return false
}

// Rank orders levels for monotonicity checks. Unknown levels rank below NONE.
func (l Level) Rank() int {
	for i, level := range levelSequence {
		if l == level {
			return i
		}
	}
	return -1
}

// Next returns the following level, or LEGAL again when already terminal.
func (l Level) Next() Level {
	rank := l.Rank()
	if rank < 0 || rank >= len(levelSequence)-1 {
		return LevelLegal
	}
	return levelSequence[rank+1]
}

func (l Level) Terminal() bool { return l == LevelLegal }

// State is the single reminder record per invoice. Created lazily the first
// time the invoice escalates, then only ever advanced.
type State struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id,string"`
	InvoiceID     snowflake.ID `gorm:"not null;uniqueIndex" json:"invoice_id,string"`
	Level         Level        `gorm:"type:varchar(16);not null;default:NONE" json:"level"`
	TotalFees     money.Amount `gorm:"not null;default:0" json:"total_fees"`
	TotalInterest money.Amount `gorm:"not null;default:0" json:"total_interest"`
	LastSentAt    *time.Time   `json:"last_sent_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (State) TableName() string { return "dunning_states" }

// Entry is one appended history row. The unique (invoice_id, level) index is
// what makes escalation idempotent per target level.
type Entry struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id,string"`
	InvoiceID   snowflake.ID `gorm:"not null;index;uniqueIndex:idx_dunning_entries_invoice_level" json:"invoice_id,string"`
	Level       Level        `gorm:"type:varchar(16);not null;uniqueIndex:idx_dunning_entries_invoice_level" json:"level"`
	Fee         money.Amount `gorm:"not null;default:0" json:"fee"`
	Interest    money.Amount `gorm:"not null;default:0" json:"interest"`
	DaysOverdue int          `gorm:"not null" json:"days_overdue"`
	SentAt      time.Time    `gorm:"not null" json:"sent_at"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (Entry) TableName() string { return "dunning_entries" }

// EscalationResult reports what one evaluation did. Escalated is false for
// the frequent no-op cases: not overdue, threshold not reached, terminal.
type EscalationResult struct {
	Escalated bool   `json:"escalated"`
	Reason    string `json:"reason,omitempty"`
	State     *State `json:"state,omitempty"`
	Entry     *Entry `json:"entry,omitempty"`
}

// ScanReport summarizes one batch pass over overdue invoices.
type ScanReport struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
}

type StateView struct {
	State   State   `json:"state"`
	History []Entry `json:"history"`
}

type Service interface {
	// Evaluate runs the escalation rules for one invoice. Safe to call at
	// any time; a no-op unless the next level's threshold is met.
	Evaluate(ctx context.Context, invoiceID string) (EscalationResult, error)

	// ScanOverdue walks every overdue-candidate invoice once. Per-invoice
	// failures are collected, never abort the pass.
	ScanOverdue(ctx context.Context, batchSize int) (ScanReport, error)

	GetState(ctx context.Context, invoiceID string) (StateView, error)
}

var ErrStateNotFound = errors.New("dunning_state_not_found")
