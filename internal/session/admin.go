package session

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// StaticAdmin checks the configured admin credential. The literal "admin"
// always matches so that nobody can register or log in as it through the
// normal path, even with the bypass disabled.
type StaticAdmin struct {
	username   string
	password   string
	totpSecret string
	now        func() time.Time
}

// NewStaticAdmin returns an authenticator for username. An empty password
// disables admin login entirely.
func NewStaticAdmin(username, password, totpSecret string) *StaticAdmin {
	username = strings.TrimSpace(username)
	if username == "" {
		username = "admin"
	}
	return &StaticAdmin{
		username:   username,
		password:   password,
		totpSecret: strings.TrimSpace(totpSecret),
		now:        time.Now,
	}
}

func (a *StaticAdmin) Username() string { return a.username }

func (a *StaticAdmin) Enabled() bool { return a.password != "" }

func (a *StaticAdmin) Matches(username string) bool {
	username = strings.TrimSpace(username)
	return strings.EqualFold(username, a.username) || strings.EqualFold(username, "admin")
}

func (a *StaticAdmin) Authenticate(username, password, totpCode string) bool {
	if !a.Enabled() || !a.Matches(username) {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) != 1 {
		return false
	}
	if a.totpSecret == "" {
		return true
	}

	ok, err := totp.ValidateCustom(strings.TrimSpace(totpCode), a.totpSecret, a.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
