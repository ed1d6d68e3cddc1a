package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "membersync"
	adminAudience = "membersync-admin"
	formAudience  = "membersync-form"

	// FormTokenTTL is how long a self-service form token stays valid.
	FormTokenTTL = time.Hour
)

// ErrNoSecret is returned when the signing secret for a token kind is unset.
var ErrNoSecret = errors.New("token secret not configured")

// Claims are the JWT claims of admin and form tokens.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens. Admin and form tokens use
// separate secrets and audiences so one kind cannot stand in for the other.
type TokenIssuer struct {
	adminKey []byte
	formKey  []byte
	now      func() time.Time
}

func NewTokenIssuer(adminSecret, formSecret string) *TokenIssuer {
	return &TokenIssuer{adminKey: []byte(adminSecret), formKey: []byte(formSecret), now: time.Now}
}

// IssueAdmin signs an admin token for subject carrying scopes.
func (t *TokenIssuer) IssueAdmin(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	return t.issue(t.adminKey, adminAudience, subject, scopes, ttl)
}

// IssueForm signs an anonymous, short-lived form token.
func (t *TokenIssuer) IssueForm() (string, time.Time, error) {
	return t.issue(t.formKey, formAudience, "", nil, FormTokenTTL)
}

func (t *TokenIssuer) issue(key []byte, audience, subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if len(key) == 0 {
		return "", time.Time{}, ErrNoSecret
	}
	now := t.now()
	expires := now.Add(ttl)
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (t *TokenIssuer) ParseAdmin(token string) (*Claims, error) {
	return t.parse(token, t.adminKey, adminAudience)
}

func (t *TokenIssuer) ParseForm(token string) error {
	_, err := t.parse(token, t.formKey, formAudience)
	return err
}

func (t *TokenIssuer) parse(token string, key []byte, audience string) (*Claims, error) {
	if len(key) == 0 {
		return nil, ErrNoSecret
	}
	if token == "" {
		return nil, errors.New("token required")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	},
		jwt.WithAudience(audience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
