package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSend(t *testing.T) {
	n := NewSMTP(SMTPConfig{Host: "smtp.example.com", Username: "bot@example.com", AppName: "Mai", CodeTTL: 10 * time.Minute})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	require.NoError(t, n.Send(context.Background(), "alice@x.com", "123456"))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"alice@x.com"}, gotTo)
	assert.True(t, strings.Contains(string(gotMsg), "Verification Code: 123456"))
	assert.True(t, strings.Contains(string(gotMsg), "expire in 10 minutes"))
}

func TestSMTPSendPasswordReset(t *testing.T) {
	n := NewSMTP(SMTPConfig{Host: "smtp.example.com", AppName: "Mai"})

	var gotMsg []byte
	n.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	require.NoError(t, n.Send(ForPasswordReset(context.Background()), "alice@x.com", "654321"))
	assert.Contains(t, string(gotMsg), "Subject: Mai - Reset Your Password")
	assert.Contains(t, string(gotMsg), "Verification Code: 654321")
	assert.NotContains(t, string(gotMsg), "signing up")

	require.NoError(t, n.Send(context.Background(), "alice@x.com", "123456"))
	assert.Contains(t, string(gotMsg), "Subject: Mai - Verify Your Email Address")
}

func TestSMTPSendFailureWrapsDelivery(t *testing.T) {
	n := NewSMTP(SMTPConfig{Host: "smtp.example.com"})
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := n.Send(context.Background(), "alice@x.com", "123456")
	assert.ErrorIs(t, err, ErrDelivery)
}

func TestLogNotifier(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	require.NoError(t, NewLog(logger).Send(context.Background(), "alice@x.com", "123456"))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "123456", hook.LastEntry().Data["code"])
	assert.Equal(t, false, hook.LastEntry().Data["reset"])
}
