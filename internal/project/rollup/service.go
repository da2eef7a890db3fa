// Package rollup aggregates a project's down-payment invoices against its
// final settlement. Read-only: it surfaces the reconciliation figure and
// never writes back to any invoice.
package rollup

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	"github.com/fakturo/fakturo/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("project.rollup"),
	}
}

// ProjectRollup is the reconciliation view for one project.
type ProjectRollup struct {
	ProjectID         snowflake.ID `json:"project_id,string"`
	DownPaymentCount  int          `json:"down_payment_count"`
	TotalDownPayments money.Amount `json:"total_down_payments"`
	DownPaymentsPaid  money.Amount `json:"down_payments_paid"`
	SettlementTotal   money.Amount `json:"settlement_total"`
	HasSettlement     bool         `json:"has_settlement"`
	// Difference = settlement total minus down payments already billed.
	// Negative means the down payments exceed the settlement.
	Difference money.Amount `json:"difference"`
}

var ErrInvalidProjectID = errors.New("invalid_project_id")

// ForProject computes the rollup. Down payments exceeding the settlement
// total are advisory only: the figure is surfaced and logged, not enforced.
func (s *Service) ForProject(ctx context.Context, projectID string) (ProjectRollup, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(projectID))
	if err != nil {
		return ProjectRollup{}, ErrInvalidProjectID
	}

	var invoices []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", id).
		Where("cancelled_at IS NULL").
		Where("type IN ?", []invoicedomain.InvoiceType{
			invoicedomain.TypeDownPayment,
			invoicedomain.TypeFinalSettlement,
		}).
		Order("issued_at ASC").
		Find(&invoices).Error; err != nil {
		return ProjectRollup{}, err
	}

	result := ProjectRollup{ProjectID: id}
	for _, invoice := range invoices {
		switch invoice.Type {
		case invoicedomain.TypeDownPayment:
			result.DownPaymentCount++
			result.TotalDownPayments = result.TotalDownPayments.Add(invoice.Amount)
			result.DownPaymentsPaid = result.DownPaymentsPaid.Add(invoice.PaidAmount)
		case invoicedomain.TypeFinalSettlement:
			result.HasSettlement = true
			result.SettlementTotal = result.SettlementTotal.Add(invoice.Amount)
		}
	}

	if result.HasSettlement {
		result.Difference = money.Amount(result.SettlementTotal.Cents() - result.TotalDownPayments.Cents())
		if result.Difference.IsNegative() {
			s.log.Warn("down payments exceed final settlement",
				zap.String("project_id", id.String()),
				zap.Int64("total_down_payments", result.TotalDownPayments.Cents()),
				zap.Int64("settlement_total", result.SettlementTotal.Cents()))
		}
	}

	return result, nil
}
