// Package authgw issues and validates the short-lived bearer tokens gating
// the HTTP control surface. Validity is purely a function of signature and
// claim arithmetic; there is no revocation list, so expiry is the only
// invalidation path.
package authgw

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wardenhq/warden/internal/store"
)

// ErrAuthentication is returned by Login on a password mismatch.
var ErrAuthentication = errors.New("authentication failed")

const (
	// TokenLifetime is both the issued expiry window and the maximum
	// accepted token age.
	TokenLifetime = time.Hour

	subjectAdmin = "admin"

	signingSecretBytes = 48
)

// Decision is the gateway's verdict on a presented token. Denial is a
// regular result, not an error: the network edge consumes the pass/fail
// outcome plus a principal identifier for its own logging.
type Decision struct {
	Allowed bool
	Subject string
	Reason  string
}

// Gateway validates the administrative password and mints signed tokens.
type Gateway struct {
	secrets          store.SecretStore
	adminPasswordKey string
	signingSecretKey string

	// now is swappable for tests
	now func() time.Time
}

// New creates a Gateway reading the admin password and signing secret from
// secrets under the given key names.
func New(secrets store.SecretStore, adminPasswordKey, signingSecretKey string) *Gateway {
	return &Gateway{
		secrets:          secrets,
		adminPasswordKey: adminPasswordKey,
		signingSecretKey: signingSecretKey,
		now:              time.Now,
	}
}

// Login compares password against the persisted admin secret and, on match,
// issues a token valid for TokenLifetime. A mismatch returns
// ErrAuthentication; a missing admin secret propagates store.ErrNotFound.
func (g *Gateway) Login(ctx context.Context, password string) (string, error) {
	stored, err := g.secrets.GetSecret(ctx, g.adminPasswordKey)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(stored)) != 1 {
		return "", ErrAuthentication
	}

	secret, err := g.signingSecret(ctx)
	if err != nil {
		return "", err
	}

	now := g.now()
	claims := jwt.RegisteredClaims{
		Subject:   subjectAdmin,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Authorize validates a presented token. It never returns an error: any
// failure, including trouble reaching the secret store, yields an explicit
// deny with a reason suitable for edge-side logging.
func (g *Gateway) Authorize(ctx context.Context, tokenString string) Decision {
	secret, err := g.signingSecret(ctx)
	if err != nil {
		slog.Warn("Authorization denied: signing secret unavailable", "error", err)
		return Decision{Reason: "signing secret unavailable"}
	}

	now := g.now()
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("token rejected: %v", err)}
	}

	if claims.Subject != subjectAdmin {
		return Decision{Reason: "unexpected subject"}
	}

	// Redundant age check independent of exp: a forged or reissued exp with
	// a stale iat still gets denied.
	if claims.IssuedAt == nil {
		return Decision{Reason: "missing issued-at claim"}
	}
	if age := now.Sub(claims.IssuedAt.Time); age > TokenLifetime {
		return Decision{Reason: "token exceeds maximum age"}
	}

	return Decision{Allowed: true, Subject: claims.Subject}
}

// signingSecret returns the persisted signing secret, generating and
// persisting one on first use.
func (g *Gateway) signingSecret(ctx context.Context) ([]byte, error) {
	value, err := g.secrets.GetSecret(ctx, g.signingSecretKey)
	if err == nil {
		return []byte(value), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	buf := make([]byte, signingSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	fresh := hex.EncodeToString(buf)
	if err := g.secrets.PutSecret(ctx, g.signingSecretKey, fresh); err != nil {
		return nil, fmt.Errorf("failed to persist signing secret: %w", err)
	}
	slog.Info("Generated new token signing secret")
	return []byte(fresh), nil
}
