// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	MinSecretLength  = 32
	DefaultTokenTTL  = 30 * time.Minute
	DefaultIssuer    = "authd"
	TokenTypeBearer  = "bearer"
	AudienceAccess   = "access"
	AudienceRecovery = "password-reset"
)

// Claims is the claim set carried by tokens. Binding ties a recovery token
// to the recovery code it was minted against; it is empty for access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Binding string `json:"rch,omitempty"`
}

// TokenCodec signs and verifies HS256 JWTs for one audience.
type TokenCodec struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(c *TokenCodec) { c.ttl = ttl }
}

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) { c.issuer = issuer }
}

// WithAudience sets the aud claim. Tokens are only accepted by a codec with
// the same audience.
func WithAudience(audience string) TokenOption {
	return func(c *TokenCodec) { c.audience = audience }
}

// WithClock overrides the time source used for issuance and verification.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a TokenCodec. The secret must be at least
// MinSecretLength bytes and the TTL at least one second.
func NewTokenCodec(secret []byte, opts ...TokenOption) (*TokenCodec, error) {
	c := &TokenCodec{
		secret:   append([]byte(nil), secret...),
		ttl:      DefaultTokenTTL,
		issuer:   DefaultIssuer,
		audience: AudienceAccess,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if len(c.secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").
			With("min_length", MinSecretLength).
			Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	// NumericDate has second precision, so shorter lifetimes could round to
	// an expiry at or before issuance.
	if c.ttl < time.Second {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").
			With("ttl", c.ttl.String()).
			Errorf("token ttl must be at least one second")
	}
	if c.audience == "" {
		return nil, oops.Code("TOKEN_INVALID_CONFIG").Errorf("token audience cannot be empty")
	}
	return c, nil
}

// TTL returns the configured token lifetime.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for subject and returns it with its expiry.
func (c *TokenCodec) Issue(subject string) (string, time.Time, error) {
	return c.IssueBound(subject, "")
}

// IssueBound signs a token for subject carrying a binding value.
func (c *TokenCodec) IssueBound(subject, binding string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("token subject cannot be empty")
	}

	now := c.now()
	expiresAt := jwt.NewNumericDate(now.Add(c.ttl))
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    c.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
		Binding: binding,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").
			With("audience", c.audience).
			Wrap(err)
	}
	return signed, expiresAt.Time, nil
}

// Verify checks the signature, issuer, audience and expiry of a token.
// Returns ErrExpired once the expiry has been reached and ErrInvalidToken
// for every other failure.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, oops.Code(CodeInvalidToken).Wrapf(ErrInvalidToken, "token is empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeExpired).
				With("audience", c.audience).
				Wrap(ErrExpired)
		}
		return nil, oops.Code(CodeInvalidToken).
			With("audience", c.audience).
			With("reason", err.Error()).
			Wrap(ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, oops.Code(CodeInvalidToken).Wrapf(ErrInvalidToken, "token has no subject")
	}
	return claims, nil
}
