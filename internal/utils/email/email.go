package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/lender-rates/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending alert emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// SendRunFailure notifies the alert address that a scheduled refresh failed
func (s *Sender) SendRunFailure(scheduledFor time.Time, runErr error) error {
	e := s.runFailureEmail(scheduledFor, runErr)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}
	if err := s.send(e, addr, auth); err != nil {
		s.logger.Errorf("Failed to send alert to %s: %v", s.cfg.AlertEmail, err)
		return fmt.Errorf("failed to send alert: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", s.cfg.AlertEmail, e.Subject)
	return nil
}

// Hook adapts SendRunFailure to the scheduler's failure callback
func (s *Sender) Hook() func(time.Time, error) {
	return func(scheduledFor time.Time, err error) {
		_ = s.SendRunFailure(scheduledFor, err)
	}
}

func (s *Sender) runFailureEmail(scheduledFor time.Time, runErr error) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.AlertEmail}
	e.Subject = fmt.Sprintf("Lender rate refresh failed for %s", scheduledFor.Format("2006-01-02"))

	body := fmt.Sprintf(
		"The scheduled lender rate refresh for %s did not complete.\n\n"+
			"Error: %v\n\n"+
			"The previous snapshot is still being served. The next scheduled run will retry, "+
			"or trigger one manually with POST /admin/refresh.\n",
		scheduledFor.Format("2006-01-02 15:04 MST"), runErr,
	)
	body += "\nRate Service"
	e.Text = []byte(body)
	return e
}
