package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"tablewait/pkg/logger"
)

// Deliverer pushes one notification out on its channel
type Deliverer interface {
	Deliver(ctx context.Context, notification *OfferNotification) error
}

// SMTPConfig holds SMTP configuration
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	UseTLS    bool
}

var offerTemplate = template.Must(template.New("offer").Parse(`{{define "html"}}
<h2>A table is waiting for you</h2>
<p>Hi {{.Name}},</p>
<p>A table for <strong>{{.PartySize}}</strong> opened up on <strong>{{.Date}}</strong> at <strong>{{.Time}}</strong>.</p>
<p>Confirm before <strong>{{.RespondBy}}</strong> to keep it. After that it goes to the next guest.</p>
<p>Reference: {{.EntryID}}</p>
{{end}}{{define "text"}}Hi {{.Name}},

A table for {{.PartySize}} opened up on {{.Date}} at {{.Time}}.
Confirm before {{.RespondBy}} to keep it. After that it goes to the next guest.

Reference: {{.EntryID}}
{{end}}`))

type offerEmailData struct {
	Name      string
	PartySize interface{}
	Date      interface{}
	Time      interface{}
	RespondBy string
	EntryID   string
}

// SMTPEmailService delivers email offers over SMTP
type SMTPEmailService struct {
	config *SMTPConfig
	log    *logger.Logger
}

// NewSMTPEmailService creates a new SMTP email service
func NewSMTPEmailService(config *SMTPConfig, log *logger.Logger) (*SMTPEmailService, error) {
	if err := validateSMTPConfig(config); err != nil {
		return nil, fmt.Errorf("invalid SMTP configuration: %w", err)
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &SMTPEmailService{
		config: config,
		log:    log.WithComponent("notifications.smtp"),
	}, nil
}

// validateSMTPConfig validates SMTP configuration
func validateSMTPConfig(config *SMTPConfig) error {
	if config == nil {
		return fmt.Errorf("SMTP config is nil")
	}
	if config.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("SMTP port must be between 1 and 65535")
	}
	if config.FromEmail == "" {
		return fmt.Errorf("from email is required")
	}
	return nil
}

// Deliver renders and sends an offer email
func (s *SMTPEmailService) Deliver(ctx context.Context, notification *OfferNotification) error {
	if notification.RecipientEmail == "" {
		return ErrMissingRecipient
	}

	htmlBody, textBody, err := renderOfferEmail(notification)
	if err != nil {
		return fmt.Errorf("failed to generate email content: %w", err)
	}

	if err := s.SendHTML(ctx, notification.RecipientEmail, notification.Subject, htmlBody, textBody); err != nil {
		return err
	}

	s.log.DebugWithContext(ctx, "Offer email sent", map[string]interface{}{
		"entry_id": notification.EntryID.String(),
	})
	return nil
}

// SendHTML sends an HTML email with a plain text alternative
func (s *SMTPEmailService) SendHTML(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := s.buildMessage(to, subject, htmlBody, textBody)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var err error
	if s.config.UseTLS {
		err = s.sendWithSTARTTLS(addr, auth, to, message)
	} else {
		err = smtp.SendMail(addr, auth, s.config.FromEmail, []string{to}, message)
	}
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// sendWithSTARTTLS sends email with STARTTLS encryption
func (s *SMTPEmailService) sendWithSTARTTLS(addr string, auth smtp.Auth, to string, message []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Quit()

	tlsconfig := &tls.Config{
		ServerName: s.config.Host,
	}
	if err = client.StartTLS(tlsconfig); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err = client.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err = w.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return w.Close()
}

// buildMessage creates the email message with proper headers
func (s *SMTPEmailService) buildMessage(to, subject, htmlBody, textBody string) []byte {
	boundary := "boundary_" + strconv.FormatInt(time.Now().UnixNano(), 10)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", s.config.FromName, s.config.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)

	if textBody != "" {
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, textBody)
	}
	if htmlBody != "" {
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, htmlBody)
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return []byte(b.String())
}

// renderOfferEmail renders the html and text bodies of an offer
func renderOfferEmail(notification *OfferNotification) (string, string, error) {
	data := notification.TemplateData
	view := offerEmailData{
		Name:      notification.RecipientName,
		PartySize: data["party_size"],
		Date:      data["date"],
		Time:      data["time"],
		RespondBy: notification.RespondBy.Format("15:04 MST"),
		EntryID:   notification.EntryID.String(),
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := offerTemplate.ExecuteTemplate(&htmlBuf, "html", view); err != nil {
		return "", "", err
	}
	if err := offerTemplate.ExecuteTemplate(&textBuf, "text", view); err != nil {
		return "", "", err
	}
	return htmlBuf.String(), textBuf.String(), nil
}

// LogDeliverer logs notifications instead of sending them; it stands in for SMS and push gateways
type LogDeliverer struct {
	log *logger.Logger
}

func NewLogDeliverer(log *logger.Logger) *LogDeliverer {
	if log == nil {
		log = logger.GetDefault()
	}
	return &LogDeliverer{log: log.WithComponent("notifications.log_deliverer")}
}

func (d *LogDeliverer) Deliver(ctx context.Context, notification *OfferNotification) error {
	d.log.InfoWithContext(ctx, "Offer delivered", map[string]interface{}{
		"channel":  string(notification.Channel),
		"entry_id": notification.EntryID.String(),
		"subject":  notification.Subject,
	})
	return nil
}
