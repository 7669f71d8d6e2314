package directory

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidLease = errors.New("invalid lease token")

// LeaseClaims binds a lease token to one peer id and one lease.
// Subject carries the peer id and ID the lease id.
type LeaseClaims struct {
	URL string `json:"url,omitempty"`
	jwt.RegisteredClaims
}

// LeaseSigner issues and validates lease tokens.
type LeaseSigner struct {
	Secret []byte
	Issuer string
}

// Issue signs a token for rec that expires with the lease.
func (s *LeaseSigner) Issue(rec Record) (string, error) {
	claims := LeaseClaims{
		URL: rec.URL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   rec.ID,
			ID:        rec.LeaseID,
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

// Validate parses tokenString and returns its claims.
func (s *LeaseSigner) Validate(tokenString string) (*LeaseClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LeaseClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse lease: %w", err)
	}

	claims, ok := token.Claims.(*LeaseClaims)
	if !ok || !token.Valid {
		return nil, errInvalidLease
	}
	if s.Issuer != "" && claims.Issuer != s.Issuer {
		return nil, fmt.Errorf("%w: issuer", errInvalidLease)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", errInvalidLease)
	}
	return claims, nil
}
