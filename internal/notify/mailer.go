package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/ninzstore/storefront/config"
	"github.com/ninzstore/storefront/internal/domain"
	"gopkg.in/gomail.v2"
)

// Sender delivers one html email
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPSender sends mail through an SMTP relay
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<h2>Order Confirmation</h2>
<p>Hi {{.Username}},</p>
<p>Your order has been confirmed!</p>
<p><strong>Order Number:</strong> {{.OrderNumber}}</p>
<p><strong>Product:</strong> {{.ProductName}}</p>
<p><strong>Total Amount:</strong> ${{.Total}}</p>
<p><strong>Payment Method:</strong> {{.PaymentMethod}}</p>
<p>Thank you for your order!</p>
`))

// RenderConfirmation builds the subject and html body for a job
func RenderConfirmation(job domain.NotificationJob) (string, string, error) {
	var buf bytes.Buffer
	err := confirmationTmpl.Execute(&buf, map[string]string{
		"Username":      job.Username,
		"OrderNumber":   job.OrderNumber,
		"ProductName":   job.ProductName,
		"Total":         job.TotalAmount.StringFixed(2),
		"PaymentMethod": domain.PaymentCashOnDelivery,
	})
	if err != nil {
		return "", "", err
	}
	return "Order Confirmation - " + job.OrderNumber, buf.String(), nil
}
