// Package notification delivers reminder documents to customers. The
// escalation engine hands it a fully computed notice; rendering and
// transport live here, never in the domain logic.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/fakturo/fakturo/pkg/money"
)

// ReminderNotice carries everything a reminder document needs: the claim,
// the level reached and the charges computed for it.
type ReminderNotice struct {
	InvoiceID     string
	InvoiceNumber string
	CustomerID    string
	Level         string
	Currency      string
	Amount        money.Amount
	PaidAmount    money.Amount
	Outstanding   money.Amount
	Fee           money.Amount
	Interest      money.Amount
	TotalDue      money.Amount
	DueAt         time.Time
	DaysOverdue   int
	SentAt        time.Time
}

type Provider interface {
	SendReminder(ctx context.Context, to []string, notice ReminderNotice) error
}

// NoOpProvider swallows notices. Used in tests and when auto-send is off.
type NoOpProvider struct{}

func (p *NoOpProvider) SendReminder(ctx context.Context, to []string, notice ReminderNotice) error {
	return nil
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg Config
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

var reminderTmpl = template.Must(template.New("reminder").Parse(`<html><body>
<p>Payment reminder ({{.Level}}) for invoice {{.InvoiceNumber}}.</p>
<table>
<tr><td>Invoice total</td><td>{{.Amount}} {{.Currency}}</td></tr>
<tr><td>Paid so far</td><td>{{.PaidAmount}} {{.Currency}}</td></tr>
<tr><td>Outstanding</td><td>{{.Outstanding}} {{.Currency}}</td></tr>
{{if .Fee.IsPositive}}<tr><td>Reminder fee</td><td>{{.Fee}} {{.Currency}}</td></tr>{{end}}
{{if .Interest.IsPositive}}<tr><td>Interest</td><td>{{.Interest}} {{.Currency}}</td></tr>{{end}}
<tr><td><b>Total due</b></td><td><b>{{.TotalDue}} {{.Currency}}</b></td></tr>
</table>
<p>The invoice was due on {{.DueAt.Format "2006-01-02"}} and is {{.DaysOverdue}} days overdue.</p>
</body></html>`))

func (p *SMTPProvider) SendReminder(ctx context.Context, to []string, notice ReminderNotice) error {
	var body bytes.Buffer
	if err := reminderTmpl.Execute(&body, notice); err != nil {
		return fmt.Errorf("render reminder: %w", err)
	}

	subject := fmt.Sprintf("Payment reminder for invoice %s", notice.InvoiceNumber)
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, body.String()))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}
