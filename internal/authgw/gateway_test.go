package authgw

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/store"
)

const (
	adminPasswordKey = "test/admin-password"
	signingSecretKey = "test/signing-secret"
)

type memorySecrets struct {
	values map[string]string
}

func (m *memorySecrets) GetSecret(_ context.Context, name string) (string, error) {
	value, ok := m.values[name]
	if !ok {
		return "", store.ErrNotFound
	}
	return value, nil
}

func (m *memorySecrets) PutSecret(_ context.Context, name, value string) error {
	m.values[name] = value
	return nil
}

func (m *memorySecrets) DeleteSecret(_ context.Context, name string) error {
	delete(m.values, name)
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *memorySecrets, *time.Time) {
	t.Helper()
	secrets := &memorySecrets{values: map[string]string{
		adminPasswordKey: "correct-password",
	}}
	g := New(secrets, adminPasswordKey, signingSecretKey)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	return g, secrets, &now
}

func TestLoginIssuesValidToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := newTestGateway(t)

	token, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decision := g.Authorize(ctx, token)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "admin", decision.Subject)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGateway(t)

	_, err := g.Login(context.Background(), "wrong-password")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestLoginPropagatesMissingAdminSecret(t *testing.T) {
	t.Parallel()
	g, secrets, _ := newTestGateway(t)
	delete(secrets.values, adminPasswordKey)

	_, err := g.Login(context.Background(), "anything")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoginGeneratesSigningSecretOnFirstUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, secrets, _ := newTestGateway(t)

	_, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)

	first := secrets.values[signingSecretKey]
	require.NotEmpty(t, first)

	// A second login reuses the persisted secret.
	_, err = g.Login(ctx, "correct-password")
	require.NoError(t, err)
	assert.Equal(t, first, secrets.values[signingSecretKey])
}

func TestAuthorizeDeniesExpiredToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, now := newTestGateway(t)

	token, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)

	*now = now.Add(TokenLifetime + time.Minute)

	decision := g.Authorize(ctx, token)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)
}

func TestAuthorizeAcceptsTokenWithinLifetime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, now := newTestGateway(t)

	token, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)

	*now = now.Add(TokenLifetime - time.Minute)

	decision := g.Authorize(ctx, token)
	assert.True(t, decision.Allowed)
}

func TestAuthorizeDeniesGarbageToken(t *testing.T) {
	t.Parallel()
	g, _, _ := newTestGateway(t)

	decision := g.Authorize(context.Background(), "not-a-token")
	assert.False(t, decision.Allowed)
}

func TestAuthorizeDeniesForeignSignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := newTestGateway(t)

	// Prime the gateway's signing secret.
	_, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(g.now()),
		ExpiresAt: jwt.NewNumericDate(g.now().Add(TokenLifetime)),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("attacker-secret"))
	require.NoError(t, err)

	decision := g.Authorize(ctx, forged)
	assert.False(t, decision.Allowed)
}

func TestAuthorizeDeniesStaleIssuedAtDespiteFutureExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, secrets, now := newTestGateway(t)

	_, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)
	secret := []byte(secrets.values[signingSecretKey])

	// A token claiming a far-future expiry but an old issue time must not
	// outlive the maximum age.
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now.Add(-2 * TokenLifetime)),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	decision := g.Authorize(ctx, token)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "token exceeds maximum age", decision.Reason)
}

func TestAuthorizeDeniesUnexpectedSubject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, secrets, now := newTestGateway(t)

	_, err := g.Login(ctx, "correct-password")
	require.NoError(t, err)
	secret := []byte(secrets.values[signingSecretKey])

	claims := jwt.RegisteredClaims{
		Subject:   "someone-else",
		IssuedAt:  jwt.NewNumericDate(*now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	decision := g.Authorize(ctx, token)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "unexpected subject", decision.Reason)
}
