package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrPrincipalMismatch = errors.New("token subject does not match acting principal")

// Verifier mints and checks the HMAC-signed principal tokens that
// authenticate resolve/commit requests.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Mint issues a token for a principal, valid for ttl.
func (v *Verifier) Mint(principalID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principalID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing principal token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns the principal
// it was minted for.
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("verifying principal token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("principal token has no subject")
	}
	return claims.Subject, nil
}

// Authorize verifies the token and checks its subject matches the
// principal the request claims to act for.
func (v *Verifier) Authorize(tokenString, principalID string) error {
	subject, err := v.Verify(tokenString)
	if err != nil {
		return err
	}
	if subject != principalID {
		return ErrPrincipalMismatch
	}
	return nil
}
