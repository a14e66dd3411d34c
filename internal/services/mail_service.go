package services

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/trellis-pm/trellis/backend/internal/config"
)

// MailService delivers email over SMTP. It satisfies the Sender interface
// consumed by the invitation workflow.
type MailService struct {
	cfg config.SMTPConfig
}

// NewMailService creates a mail service from the runtime SMTP configuration.
func NewMailService(cfg config.SMTPConfig) *MailService {
	return &MailService{cfg: cfg}
}

// IsConfigured returns true if SMTP is properly configured.
func (s *MailService) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.FromAddress != ""
}

// Send sends an HTML email using the configured SMTP settings.
func (s *MailService) Send(to, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return errors.New("SMTP not configured")
	}

	msg := buildEmail(s.cfg.FromAddress, to, subject, htmlBody)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	switch s.cfg.Encryption {
	case "ssl":
		return s.sendSSL(addr, auth, to, msg)
	default:
		// starttls and plain both go through SendMail, which upgrades the
		// connection when the server advertises STARTTLS.
		return smtp.SendMail(addr, auth, s.cfg.FromAddress, []string{to}, msg)
	}
}

// buildEmail constructs a properly formatted email message.
func buildEmail(from, to, subject, htmlBody string) []byte {
	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	return msg.Bytes()
}

// sendSSL sends email over a direct SSL/TLS connection.
func (s *MailService) sendSSL(addr string, auth smtp.Auth, to string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: s.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("SSL connection failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}
	if err := client.Mail(s.cfg.FromAddress); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message failed: %w", err)
	}
	return client.Quit()
}

type invitationEmailData struct {
	ProjectName string
	RoleName    string
	Message     string
	Token       string
	ExpiresAt   time.Time
}

var invitationEmailTmpl = template.Must(template.New("invitation").Parse(`
<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>You've been invited to {{.ProjectName}}</h2>
  <p>You have been invited to join <strong>{{.ProjectName}}</strong> as <strong>{{.RoleName}}</strong>.</p>
  {{if .Message}}<blockquote>{{.Message}}</blockquote>{{end}}
  <p>Use the following code to accept the invitation:</p>
  <p><code>{{.Token}}</code></p>
  <p>This invitation expires on {{.ExpiresAt.Format "Jan 2, 2006"}}.</p>
</body>
</html>
`))

func renderInvitationEmail(data invitationEmailData) (string, error) {
	var buf bytes.Buffer
	if err := invitationEmailTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
