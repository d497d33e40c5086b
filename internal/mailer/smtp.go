// Package mailer delivers invoices over SMTP.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// Client sends mail through a single configured SMTP endpoint
type Client struct {
	cfg config.SMTPConfig
}

// New creates a mail client for the given SMTP settings
func New(cfg config.SMTPConfig) *Client {
	return &Client{cfg: cfg}
}

// Send delivers one HTML mail with an attachment. The context bounds the
// whole dial/send; a timeout is indistinguishable from any other delivery
// failure to the caller.
func (c *Client) Send(ctx context.Context, to, subject, htmlBody string, attachment models.Attachment) error {
	msg := mail.NewMsg()
	if err := msg.From(c.cfg.FromEmail); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if attachment.Filename != "" {
		if err := msg.AttachReader(attachment.Filename, bytes.NewReader(attachment.Content)); err != nil {
			return fmt.Errorf("attaching %s: %w", attachment.Filename, err)
		}
	}

	client, err := c.newClient()
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail via %s:%d: %w", c.cfg.Host, c.cfg.GetPort(), err)
	}
	return nil
}

// newClient maps the config onto a go-mail client: implicit TLS, STARTTLS,
// or plaintext, with optional authentication.
func (c *Client) newClient() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(c.cfg.GetPort()),
		mail.WithTimeout(30 * time.Second),
	}

	switch {
	case c.cfg.UseSSL:
		opts = append(opts, mail.WithSSL())
	case c.cfg.GetUseTLS():
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}

	client, err := mail.NewClient(c.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}
	return client, nil
}
