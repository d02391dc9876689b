package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Email sends triggered alerts through SendGrid
type Email struct {
	sender mailSender
	from   *mail.Email
	to     *mail.Email
}

// NewEmail creates an e-mail notifier delivering to a single recipient
func NewEmail(apiKey, fromAddress, fromName, toAddress string) *Email {
	return &Email{
		sender: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
		to:     mail.NewEmail("", toAddress),
	}
}

// Notify sends one message per alert
func (e *Email) Notify(ctx context.Context, alert models.TriggeredAlert) error {
	subject, plain, html := renderAlert(alert)
	msg := mail.NewSingleEmail(e.from, subject, e.to, plain, html)

	resp, err := e.sender.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected alert email: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func renderAlert(a models.TriggeredAlert) (subject, plain, html string) {
	side := "above"
	if a.Direction == models.DirectionBelow {
		side = "below"
	}
	subject = fmt.Sprintf("%s crossed %s %s", a.Symbol, side, a.Threshold.String())
	plain = fmt.Sprintf("%s traded at %s at %s, %s your alert threshold of %s.",
		a.Symbol, a.TriggeringPrice.String(), a.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"),
		side, a.Threshold.String())
	html = "<p>" + plain + "</p>"
	return subject, plain, html
}
