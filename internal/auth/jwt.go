package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sevakpoints/internal/ledger"
)

const (
	RoleAdmin     = "admin"
	RoleInspector = "inspector"
)

// Claims is the identity provider's token payload.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the snapshot stored on ledger rows.
func (c Claims) Actor() ledger.Actor {
	return ledger.Actor{Email: c.Email, Name: c.Name, Role: c.Role}
}

// Issue signs an access token. Production tokens come from the identity
// provider; this is used by tests and the ops CLI.
func Issue(actor ledger.Actor, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Email: actor.Email,
		Name:  actor.Name,
		Role:  actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.Email,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Email == "" {
		return Claims{}, errors.New("token has no email")
	}
	if claims.Role != RoleAdmin && claims.Role != RoleInspector {
		return Claims{}, errors.New("unknown role")
	}
	return *claims, nil
}
