package httpapi

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtTokenExpiry    = 24 * time.Hour
	userSessionCookie = "session"
)

// tokenIssuer signs the user session cookie.
type tokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func newTokenIssuer(secret string, now func() time.Time) *tokenIssuer {
	return &tokenIssuer{key: []byte(secret), ttl: jwtTokenExpiry, now: now}
}

func (t *tokenIssuer) Issue(identityID, email string) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub":   identityID,
		"email": email,
		"exp":   now.Add(t.ttl).Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

func (t *tokenIssuer) Parse(tokenStr string) (identityID string, email string, err error) {
	token, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.key, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", jwt.ErrSignatureInvalid
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", "", errors.New("token has no subject")
	}
	mail, _ := claims["email"].(string)
	return sub, mail, nil
}
