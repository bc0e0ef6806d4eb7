// Package email implements a notifier.Notifier over SMTP for incident
// alerts.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/agentops/relay/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
}

// Notifier sends notifications as plain emails to a fixed recipient list.
type Notifier struct {
	cfg SMTPConfig
	to  []string
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig, to []string) *Notifier {
	return &Notifier{cfg: cfg, to: to}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{}
}

// Send delivers the notification to every configured recipient in one
// message.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || len(n.to) == 0 {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	subject := "[" + strings.ToUpper(notification.Level) + "] " + notification.Title

	body := notification.Message
	if notification.Source != "" {
		body += "\r\n\r\nSource: " + notification.Source
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.From, strings.Join(n.to, ", "), subject, body)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	return smtp.SendMail(addr, auth, n.cfg.From, n.to, []byte(msg))
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port, err := strconv.Atoi(config["port"])
		if err != nil {
			return nil, fmt.Errorf("email notifier: bad port %q", config["port"])
		}
		cfg := SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
		}
		return NewNotifier(cfg, strings.Split(config["to"], ",")), nil
	})
}
