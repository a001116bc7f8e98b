// Package mail delivers invitation emails.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/dokey/internal/config"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// FromConfig returns an SMTP mailer when SMTP is configured and a LogMailer
// otherwise.
func FromConfig(cfg *config.Config, log logrus.FieldLogger) Mailer {
	if !cfg.SMTPEnabled() {
		return &LogMailer{Log: log}
	}
	return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
}

// SMTPMailer sends mail through a relay with PLAIN auth.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		from: from,
		auth: auth,
		send: smtp.SendMail,
	}
}

// Send writes msg as multipart/alternative. net/smtp has no context support,
// so ctx is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}
	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, m.build(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) build(msg Message) []byte {
	const boundary = "dokey-alternative"
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.Text)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.Bytes()
}

// LogMailer logs messages instead of sending them. Used in development.
type LogMailer struct {
	Log logrus.FieldLogger
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.Log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Text,
	}).Info("mail not configured, message logged")
	return nil
}

// Invitation is the data rendered into a signing invitation.
type Invitation struct {
	RecipientName string
	DocumentTitle string
	SigningURL    string
}

var invitationHTML = template.Must(template.New("invitation").Parse(invitationHTMLTemplate))

// RenderInvitation builds the invitation email for one recipient.
func RenderInvitation(to string, inv Invitation) (Message, error) {
	var html bytes.Buffer
	if err := invitationHTML.Execute(&html, inv); err != nil {
		return Message{}, fmt.Errorf("render invitation: %w", err)
	}
	name := inv.RecipientName
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("Hi %s,\n\nYou have been asked to sign %q.\nOpen this link to review and sign:\n%s\n",
		name, inv.DocumentTitle, inv.SigningURL)
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Please sign: %s", inv.DocumentTitle),
		HTML:    html.String(),
		Text:    text,
	}, nil
}

const invitationHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Please sign {{.DocumentTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <h2>Hi {{if .RecipientName}}{{.RecipientName}}{{else}}there{{end}},</h2>
    <p>You have been asked to review and sign <strong>{{.DocumentTitle}}</strong>.</p>
    <p><a href="{{.SigningURL}}" class="button">Review and sign</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.SigningURL}}</p>
</body>
</html>`
