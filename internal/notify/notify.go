// Package notify delivers verification codes out of band.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrDelivery wraps every failure to hand a code to its destination.
var ErrDelivery = errors.New("delivery_failed")

type Notifier interface {
	Send(ctx context.Context, destination, code string) error
}

type resetKey struct{}

// ForPasswordReset marks codes sent under ctx as password reset codes.
func ForPasswordReset(ctx context.Context) context.Context {
	return context.WithValue(ctx, resetKey{}, true)
}

func isPasswordReset(ctx context.Context) bool {
	v, _ := ctx.Value(resetKey{}).(bool)
	return v
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AppName  string
	// CodeTTL is quoted in the message body.
	CodeTTL time.Duration
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTP struct {
	cfg  SMTPConfig
	send sendFunc
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.AppName == "" {
		cfg.AppName = "accountd"
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail}
}

func (s *SMTP) Send(ctx context.Context, destination, code string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	if err := s.send(addr, auth, s.cfg.From, []string{destination}, s.message(destination, code, isPasswordReset(ctx))); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

func (s *SMTP) message(destination, code string, reset bool) []byte {
	minutes := int(s.cfg.CodeTTL / time.Minute)
	if minutes <= 0 {
		minutes = 10
	}

	subject, intro := "Verify Your Email Address",
		fmt.Sprintf("Thank you for signing up for %s! To complete your registration, please use the verification code below:", s.cfg.AppName)
	if reset {
		subject, intro = "Reset Your Password",
			fmt.Sprintf("A password reset was requested for your %s account. To choose a new password, please use the code below:", s.cfg.AppName)
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s - %s\r\n", s.cfg.From, destination, s.cfg.AppName, subject)
	mime := "MIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n"
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"%s\r\n\r\n"+
			"Verification Code: %s\r\n\r\n"+
			"This code will expire in %d minutes. If you did not request this email, please ignore it.\r\n\r\n"+
			"Best regards,\r\n"+
			"The %s Team",
		intro, code, minutes, s.cfg.AppName)

	return []byte(headers + mime + body)
}

// Log writes codes to the logger instead of sending them. Meant for local
// development.
type Log struct {
	log logrus.FieldLogger
}

func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log.WithField("component", "notify")}
}

func (l *Log) Send(ctx context.Context, destination, code string) error {
	l.log.WithFields(logrus.Fields{
		"destination": destination,
		"code":        code,
		"reset":       isPasswordReset(ctx),
	}).Info("verification code")
	return nil
}
