package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/fakturo/fakturo/internal/audit/domain"
	"github.com/fakturo/fakturo/internal/clock"
	"github.com/fakturo/fakturo/internal/config"
	dunningdomain "github.com/fakturo/fakturo/internal/dunning/domain"
	invoicedomain "github.com/fakturo/fakturo/internal/invoice/domain"
	invoiceservice "github.com/fakturo/fakturo/internal/invoice/service"
	"github.com/fakturo/fakturo/internal/notification"
	"github.com/fakturo/fakturo/internal/observability/metrics"
	pkgdb "github.com/fakturo/fakturo/pkg/db"
	"github.com/fakturo/fakturo/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultScanBatchSize = 200

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Dunning  *config.DunningConfigHolder
	Notifier notification.Provider
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	dunning  *config.DunningConfigHolder
	notifier notification.Provider
	auditSvc auditdomain.Service
}

func NewService(p Params) dunningdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("dunning.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		dunning:  p.Dunning,
		notifier: p.Notifier,
		auditSvc: p.AuditSvc,
	}
}

// Evaluate advances one invoice by at most one reminder level. The invoice
// and its dunning state are locked together so concurrent scans serialize;
// the unique (invoice_id, level) entry makes a lost race a clean no-op.
func (s *Service) Evaluate(ctx context.Context, invoiceID string) (dunningdomain.EscalationResult, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return dunningdomain.EscalationResult{}, invoicedomain.ErrInvalidInvoiceID
	}

	cfg := s.dunning.Get()
	now := s.clock.Now()

	var (
		result dunningdomain.EscalationResult
		notice *notification.ReminderNotice
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := invoiceservice.LoadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Type.IsReversal() || invoice.Cancelled() {
			result = dunningdomain.EscalationResult{Reason: "not_escalatable"}
			return nil
		}

		if changed := invoice.RefreshStatus(now); changed {
			if err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
				Where("id = ?", invoice.ID).
				Updates(map[string]any{"status": invoice.Status, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		if invoice.Status != invoicedomain.StatusOverdue {
			result = dunningdomain.EscalationResult{Reason: "not_overdue"}
			return nil
		}

		state, err := s.loadOrCreateState(ctx, tx, invoice.ID, now)
		if err != nil {
			return err
		}
		if state.Level.Terminal() {
			result = dunningdomain.EscalationResult{Reason: "terminal", State: state}
			return nil
		}

		next := state.Level.Next()
		levelCfg, ok := lookupLevel(cfg, next)
		if !ok {
			result = dunningdomain.EscalationResult{Reason: "level_not_configured", State: state}
			return nil
		}

		daysOverdue := money.DaysBetween(invoice.DueAt, now)
		if daysOverdue < levelCfg.DaysOverdue {
			result = dunningdomain.EscalationResult{Reason: "threshold_not_reached", State: state}
			return nil
		}

		fee := money.Amount(levelCfg.FeeCents)
		interest := money.Zero
		if cfg.InterestEnabled && next.Rank() >= dunningdomain.Level(cfg.InterestFromLevel).Rank() {
			interest = money.Interest(invoice.Outstanding(), cfg.InterestRateBps, daysOverdue)
		}

		entry := dunningdomain.Entry{
			ID:          s.genID.Generate(),
			InvoiceID:   invoice.ID,
			Level:       next,
			Fee:         fee,
			Interest:    interest,
			DaysOverdue: daysOverdue,
			SentAt:      now,
			CreatedAt:   now,
		}
		res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent run already recorded this level.
			result = dunningdomain.EscalationResult{Reason: "already_recorded", State: state}
			return nil
		}

		state.Level = next
		state.TotalFees = state.TotalFees.Add(fee)
		state.TotalInterest = state.TotalInterest.Add(interest)
		state.LastSentAt = &now
		state.UpdatedAt = now
		if err := tx.WithContext(ctx).Model(&dunningdomain.State{}).
			Where("id = ?", state.ID).
			Updates(map[string]any{
				"level":          state.Level,
				"total_fees":     state.TotalFees,
				"total_interest": state.TotalInterest,
				"last_sent_at":   now,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}

		result = dunningdomain.EscalationResult{Escalated: true, State: state, Entry: &entry}
		if cfg.AutoSendEnabled && levelCfg.SendDocument {
			notice = s.buildNotice(invoice, entry)
		}
		return nil
	})
	if err != nil {
		return dunningdomain.EscalationResult{}, err
	}

	if result.Escalated {
		metrics.Scheduler().IncEscalation(string(result.State.Level))
		s.emitAudit(ctx, id, result)
		if notice != nil {
			s.sendNotice(ctx, id, *notice)
		}
	}
	return result, nil
}

// ScanOverdue pages over every invoice that could still escalate and runs
// Evaluate on each. One invoice's failure never stops the pass.
func (s *Service) ScanOverdue(ctx context.Context, batchSize int) (dunningdomain.ScanReport, error) {
	if batchSize <= 0 {
		batchSize = defaultScanBatchSize
	}

	now := s.clock.Now()
	report := dunningdomain.ScanReport{}
	var errs []error

	var cursor snowflake.ID
	for {
		var candidates []invoicedomain.Invoice
		err := s.db.WithContext(ctx).
			Where("id > ?", cursor).
			Where("cancelled_at IS NULL").
			Where("paid_amount < amount").
			Where("due_at < ?", now).
			Where("type NOT IN ?", []invoicedomain.InvoiceType{
				invoicedomain.TypeCancellation,
				invoicedomain.TypeCreditNote,
			}).
			Order("id ASC").
			Limit(batchSize).
			Find(&candidates).Error
		if err != nil {
			return report, err
		}
		if len(candidates) == 0 {
			break
		}

		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return report, errors.Join(append(errs, err)...)
			}
			report.Scanned++
			res, err := s.Evaluate(ctx, candidate.ID.String())
			if err != nil {
				report.Failed++
				errs = append(errs, fmt.Errorf("invoice %s: %w", candidate.ID, err))
				continue
			}
			if res.Escalated {
				report.Escalated++
			}
		}

		cursor = candidates[len(candidates)-1].ID
		if len(candidates) < batchSize {
			break
		}
	}

	return report, errors.Join(errs...)
}

func (s *Service) GetState(ctx context.Context, invoiceID string) (dunningdomain.StateView, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return dunningdomain.StateView{}, invoicedomain.ErrInvalidInvoiceID
	}

	var state dunningdomain.State
	err = s.db.WithContext(ctx).Where("invoice_id = ?", id).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dunningdomain.StateView{}, dunningdomain.ErrStateNotFound
		}
		return dunningdomain.StateView{}, err
	}

	var history []dunningdomain.Entry
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", id).
		Order("sent_at ASC").
		Find(&history).Error; err != nil {
		return dunningdomain.StateView{}, err
	}

	return dunningdomain.StateView{State: state, History: history}, nil
}

func (s *Service) loadOrCreateState(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID, now time.Time) (*dunningdomain.State, error) {
	var state dunningdomain.State
	err := pkgdb.ForUpdate(tx.WithContext(ctx)).
		Where("invoice_id = ?", invoiceID).
		First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	state = dunningdomain.State{
		ID:        s.genID.Generate(),
		InvoiceID: invoiceID,
		Level:     dunningdomain.LevelNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&state)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the insert race; reread under lock.
		if err := pkgdb.ForUpdate(tx.WithContext(ctx)).
			Where("invoice_id = ?", invoiceID).
			First(&state).Error; err != nil {
			return nil, err
		}
	}
	return &state, nil
}

func lookupLevel(cfg config.DunningConfig, level dunningdomain.Level) (config.DunningLevelConfig, bool) {
	for _, candidate := range cfg.Levels {
		if dunningdomain.Level(candidate.Level) == level {
			return candidate, true
		}
	}
	return config.DunningLevelConfig{}, false
}

func (s *Service) buildNotice(invoice *invoicedomain.Invoice, entry dunningdomain.Entry) *notification.ReminderNotice {
	number := invoice.ID.String()
	if invoice.InvoiceNumber != nil {
		number = fmt.Sprintf("%d", *invoice.InvoiceNumber)
	}
	outstanding := invoice.Outstanding()
	return &notification.ReminderNotice{
		InvoiceID:     invoice.ID.String(),
		InvoiceNumber: number,
		CustomerID:    invoice.CustomerID.String(),
		Level:         string(entry.Level),
		Currency:      invoice.Currency,
		Amount:        invoice.Amount,
		PaidAmount:    invoice.PaidAmount,
		Outstanding:   outstanding,
		Fee:           entry.Fee,
		Interest:      entry.Interest,
		TotalDue:      outstanding.Add(entry.Fee).Add(entry.Interest),
		DueAt:         invoice.DueAt,
		DaysOverdue:   entry.DaysOverdue,
		SentAt:        entry.SentAt,
	}
}

func (s *Service) sendNotice(ctx context.Context, invoiceID snowflake.ID, notice notification.ReminderNotice) {
	recipient := s.recipientFor(ctx, invoiceID)
	if recipient == "" {
		s.log.Debug("no recipient for reminder", zap.String("invoice_id", invoiceID.String()))
		return
	}
	if err := s.notifier.SendReminder(ctx, []string{recipient}, notice); err != nil {
		s.log.Warn("reminder delivery failed",
			zap.String("invoice_id", invoiceID.String()),
			zap.String("level", notice.Level),
			zap.Error(err))
	}
}

func (s *Service) recipientFor(ctx context.Context, invoiceID snowflake.ID) string {
	var invoice invoicedomain.Invoice
	if err := s.db.WithContext(ctx).Where("id = ?", invoiceID).First(&invoice).Error; err != nil {
		return ""
	}
	if invoice.Metadata == nil {
		return ""
	}
	if email, ok := invoice.Metadata["billing_email"].(string); ok {
		return strings.TrimSpace(email)
	}
	return ""
}

func (s *Service) emitAudit(ctx context.Context, invoiceID snowflake.ID, result dunningdomain.EscalationResult) {
	if s.auditSvc == nil || result.Entry == nil {
		return
	}
	targetID := invoiceID.String()
	metadata := map[string]any{
		"level":        string(result.Entry.Level),
		"fee":          result.Entry.Fee.Cents(),
		"interest":     result.Entry.Interest.Cents(),
		"days_overdue": result.Entry.DaysOverdue,
	}
	_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeSystem, nil, "dunning.escalated", "invoice", &targetID, metadata)
}
