// Package notify delivers confirmation and alert emails. Delivery is
// best-effort with bounded retries; a failure here never unwinds a committed
// payment transition.
package notify

import (
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"jersey-events/internal/config"
	"jersey-events/internal/logger"
	"jersey-events/internal/models"
)

// Sender is the raw mail transport. Swapped for a recorder in tests.
type Sender interface {
	Send(to []string, subject, body string, html bool) error
}

// SMTPSender speaks plain SMTP with optional auth.
type SMTPSender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (s *SMTPSender) Send(to []string, subject, body string, html bool) error {
	contentType := "text/plain; charset=UTF-8"
	if html {
		contentType = "text/html; charset=UTF-8"
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"Message-ID: <" + uuid.NewString() + "@jerseyevents>",
		"MIME-Version: 1.0",
		"Content-Type: " + contentType,
		"",
		body,
	}, "\r\n")

	addr := s.Host + ":" + s.Port
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return smtp.SendMail(addr, auth, s.From, to, []byte(msg))
}

// Dispatcher wraps a Sender with retry, templating and a plain-text fallback.
// Constructed explicitly and injected into the pipeline; retry policy comes
// from config, not ambient state.
type Dispatcher struct {
	sender     Sender
	logger     *logger.Logger
	maxRetries int
	operator   string
	// initialInterval is shrunk in tests to keep retries fast.
	initialInterval time.Duration
}

func NewDispatcher(sender Sender, cfg config.EmailConfig, log *logger.Logger) *Dispatcher {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Dispatcher{
		sender:          sender,
		logger:          log,
		maxRetries:      retries,
		operator:        cfg.OperatorAlert,
		initialInterval: 500 * time.Millisecond,
	}
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<html><body>
<h2>Your Jersey Events order {{.Order.OrderNumber}} is confirmed</h2>
<p>Hi {{.Order.BuyerName}},</p>
<p>Payment of {{.Order.Currency}} {{.Order.Total}} has been received. Your tickets:</p>
<ul>
{{range .Tickets}}<li>{{.TicketNumber}}</li>
{{end}}</ul>
<p>Each ticket's QR code admits one person, once. See you there!</p>
</body></html>`))

// SendOrderConfirmation emails the buyer their tickets. Falls back to a
// plain-text body when the template fails to render.
func (d *Dispatcher) SendOrderConfirmation(order models.Order, tickets []models.Ticket) error {
	var sb strings.Builder
	body := ""
	html := true
	err := confirmationTmpl.Execute(&sb, struct {
		Order   models.Order
		Tickets []models.Ticket
	}{order, tickets})
	if err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("confirmation template failed for order %s: %v", order.OrderNumber, err))
		numbers := make([]string, len(tickets))
		for i, t := range tickets {
			numbers[i] = t.TicketNumber
		}
		body = fmt.Sprintf("Your Jersey Events order %s is confirmed. Tickets: %s",
			order.OrderNumber, strings.Join(numbers, ", "))
		html = false
	} else {
		body = sb.String()
	}

	subject := fmt.Sprintf("Order %s confirmed - Jersey Events", order.OrderNumber)
	return d.sendWithRetry([]string{order.BuyerEmail}, subject, body, html)
}

// SendOrganizerNotification tells an event organiser about a new sale.
func (d *Dispatcher) SendOrganizerNotification(order models.Order, event models.Event) error {
	if event.OrganizerEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("New sale for %s", event.Name)
	body := fmt.Sprintf("Order %s (%s %s) has been paid for %s.",
		order.OrderNumber, order.Currency, order.Total, event.Name)
	return d.sendWithRetry([]string{event.OrganizerEmail}, subject, body, false)
}

// SendOperatorAlert flags an order held in manual review.
func (d *Dispatcher) SendOperatorAlert(order models.Order, reason string) error {
	if d.operator == "" {
		return nil
	}
	subject := fmt.Sprintf("Payment verification hold: order %s", order.OrderNumber)
	body := fmt.Sprintf("Order %s (%s %s) needs manual review.\nReason: %s\nNotes:\n%s",
		order.OrderNumber, order.Currency, order.Total, reason, order.PaymentNotes)
	return d.sendWithRetry([]string{d.operator}, subject, body, false)
}

func (d *Dispatcher) sendWithRetry(to []string, subject, body string, html bool) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	bounded := backoff.WithMaxRetries(policy, uint64(d.maxRetries-1))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := d.sender.Send(to, subject, body, html); err != nil {
			d.logger.Warn("NOTIFY", fmt.Sprintf("send attempt %d to %s failed: %v", attempt, strings.Join(to, ","), err))
			return err
		}
		return nil
	}, bounded)
	if err != nil {
		d.logger.Error("NOTIFY", fmt.Sprintf("giving up on mail to %s after %d attempts: %v", strings.Join(to, ","), attempt, err))
		return err
	}
	return nil
}
