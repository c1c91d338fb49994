package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds mail server settings for alert emails
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// SMTPNotifier sends alerts by email over STARTTLS
type SMTPNotifier struct {
	client *mail.Client
	from   string
	to     []string
}

// NewSMTPNotifier creates a mail client; no connection is made until an alert is sent
func NewSMTPNotifier(config SMTPConfig) (*SMTPNotifier, error) {
	if config.Host == "" || config.From == "" || len(config.To) == 0 {
		return nil, fmt.Errorf("smtp host, sender and at least one recipient are required")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(config.Timeout),
	}
	if config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	return &SMTPNotifier{client: client, from: config.From, to: config.To}, nil
}

// Notify sends one alert email
func (n *SMTPNotifier) Notify(ctx context.Context, subject, body string) error {
	msg, err := n.message(subject, body)
	if err != nil {
		return err
	}

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	log.Printf("SMTP: Alert sent to %v", n.to)
	return nil
}

// message builds the alert email
func (n *SMTPNotifier) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(n.to...); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
