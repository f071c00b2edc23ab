// Package credentials manages the administrative credential and API token
// lifecycle against the game server's control API.
package credentials

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/wardenhq/warden/internal/gameapi"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/store"
)

// ErrTokenRefresh wraps failures to obtain a working API token.
var ErrTokenRefresh = errors.New("api token refresh failed")

const (
	passwordLength   = 64
	passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_^!#%"
)

// Keys holds the secret store key names for the credentials the manager
// owns. The names are deployment configuration, not fixed constants.
type Keys struct {
	AdminPassword  string
	APIToken       string
	SigningSecret  string
	ClientPassword string
}

// Manager guarantees a valid administrative token is available to callers,
// bootstrapping credentials with the server when necessary.
type Manager struct {
	secrets    store.SecretStore
	keys       Keys
	serverName string
}

// NewManager creates a credential manager persisting into secrets under the
// given key names.
func NewManager(secrets store.SecretStore, keys Keys, serverName string) *Manager {
	return &Manager{secrets: secrets, keys: keys, serverName: serverName}
}

// EnsureValidToken returns a token the game server currently accepts,
// re-logging in with the persisted admin password when the stored token has
// been invalidated. Verification failures other than token rejection (the
// server being unreachable, for instance) propagate unchanged so callers do
// not mask outages as credential problems.
func (m *Manager) EnsureValidToken(ctx context.Context, client gameapi.Client) (string, error) {
	token, err := m.secrets.GetSecret(ctx, m.keys.APIToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if token != "" {
		verifyErr := client.VerifyToken(ctx, token)
		if verifyErr == nil {
			return token, nil
		}
		var apiErr *gameapi.APIError
		if !errors.As(verifyErr, &apiErr) || !apiErr.IsInvalidToken() {
			return "", fmt.Errorf("token verification failed: %w", verifyErr)
		}
		logger.Info("Stored API token rejected by server, re-authenticating")
	}

	password, err := m.secrets.GetSecret(ctx, m.keys.AdminPassword)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}

	fresh, err := client.Login(ctx, password)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	if err := m.secrets.PutSecret(ctx, m.keys.APIToken, fresh); err != nil {
		return "", fmt.Errorf("%w: failed to persist token: %w", ErrTokenRefresh, err)
	}
	return fresh, nil
}

// ClaimOrLogin runs the bootstrap protocol against a freshly started server
// and returns an administrative token.
//
// If an admin password is already persisted the server is assumed claimed
// and the manager logs in with it. Otherwise it generates a new password,
// persists it, and only then claims the server. The ordering makes retries
// safe: a persisted-but-unclaimed password is simply reused by the next
// attempt, whereas a claimed server with an unpersisted password would be
// unrecoverable.
func (m *Manager) ClaimOrLogin(ctx context.Context, client gameapi.Client) (string, error) {
	password, err := m.secrets.GetSecret(ctx, m.keys.AdminPassword)
	switch {
	case err == nil:
		return m.loginOrClaim(ctx, client, password)
	case errors.Is(err, store.ErrNotFound):
		return m.claimFresh(ctx, client)
	default:
		return "", err
	}
}

// loginOrClaim logs in with a persisted password, falling back to claiming
// when the server turns out to be unclaimed (a previous run persisted the
// password but crashed before the claim call).
func (m *Manager) loginOrClaim(ctx context.Context, client gameapi.Client, password string) (string, error) {
	token, loginErr := client.Login(ctx, password)
	if loginErr == nil {
		return m.persistToken(ctx, token)
	}

	var apiErr *gameapi.APIError
	if !errors.As(loginErr, &apiErr) {
		return "", fmt.Errorf("admin login failed: %w", loginErr)
	}

	// The login was rejected. If a passwordless login succeeds the server
	// is still unclaimed and the persisted password is safe to claim with.
	bootstrap, err := client.PasswordlessLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("admin login failed: %w", loginErr)
	}
	logger.Info("Server is unclaimed despite persisted password, retrying claim")

	token, err = client.Claim(ctx, bootstrap, m.serverName, password)
	if err != nil {
		return "", fmt.Errorf("server claim retry failed: %w", err)
	}
	return m.persistToken(ctx, token)
}

// claimFresh bootstraps an unclaimed server with a newly generated password.
func (m *Manager) claimFresh(ctx context.Context, client gameapi.Client) (string, error) {
	bootstrap, err := client.PasswordlessLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("passwordless login failed: %w", err)
	}

	password, err := GeneratePassword(passwordLength)
	if err != nil {
		return "", err
	}

	// Persist before claiming. See ClaimOrLogin.
	if err := m.secrets.PutSecret(ctx, m.keys.AdminPassword, password); err != nil {
		return "", fmt.Errorf("failed to persist admin password: %w", err)
	}

	token, err := client.Claim(ctx, bootstrap, m.serverName, password)
	if err != nil {
		return "", fmt.Errorf("server claim failed: %w", err)
	}
	logger.Infof("Claimed server %q", m.serverName)
	return m.persistToken(ctx, token)
}

func (m *Manager) persistToken(ctx context.Context, token string) (string, error) {
	if err := m.secrets.PutSecret(ctx, m.keys.APIToken, token); err != nil {
		return "", fmt.Errorf("failed to persist API token: %w", err)
	}
	return token, nil
}

// GeneratePassword returns a cryptographically random password of the given
// length drawn from a mixed alphabet.
func GeneratePassword(length int) (string, error) {
	alphabetSize := big.NewInt(int64(len(passwordAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf), nil
}
