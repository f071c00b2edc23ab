// Package gameapi implements a thin client for the game process's own HTTP
// control API. All calls share a single JSON envelope: the request names a
// function and carries function-specific data, the response carries either a
// data payload or a structured error.
package gameapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client is the game control API surface consumed by the lifecycle
// controller and the credential manager.
type Client interface {
	// HealthCheck probes API reachability. It requires no authentication
	// and succeeds as soon as the control API is serving.
	HealthCheck(ctx context.Context) error

	// PasswordlessLogin obtains a bootstrap token from an unclaimed server.
	PasswordlessLogin(ctx context.Context) (string, error)

	// Login authenticates with the administrative password.
	Login(ctx context.Context, password string) (string, error)

	// VerifyToken checks whether token is still accepted by the server.
	VerifyToken(ctx context.Context, token string) error

	// Claim performs the one-time bootstrap that names the server and sets
	// its administrative password, returning a full administrative token.
	Claim(ctx context.Context, bootstrapToken, serverName, adminPassword string) (string, error)

	// QueryServerState returns the live server state.
	QueryServerState(ctx context.Context, token string) (*ServerState, error)

	// SetClientPassword sets the password game clients must present to
	// join. An empty password removes the requirement.
	SetClientPassword(ctx context.Context, token, password string) error

	// Shutdown asks the game process to save and exit.
	Shutdown(ctx context.Context, token string) error
}

// Factory builds a Client for a resolved server address. The lifecycle
// controller only learns the address once a task is running, so clients are
// constructed per endpoint.
type Factory func(address string) Client

const (
	defaultRequestTimeout = 15 * time.Second
	apiPath               = "/api/v1"
)

// Option configures the HTTP client.
type Option func(*httpClient)

// WithRequestTimeout overrides the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.client.Timeout = d
	}
}

// WithInsecureTLS disables certificate verification. Game servers ship with
// self-signed certificates, so this is the common deployment mode.
func WithInsecureTLS() Option {
	return func(c *httpClient) {
		c.client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- self-signed game server certs
		}
	}
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client for the control API at baseURL, for instance
// "https://10.0.4.17:7777".
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the request wrapper shared by every API function.
type envelope struct {
	Function string `json:"function"`
	Data     any    `json:"data,omitempty"`
}

// responseEnvelope is the response wrapper. Exactly one of Data or ErrorCode
// is populated.
type responseEnvelope struct {
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func (c *httpClient) call(ctx context.Context, token, function string, data, out any) error {
	body, err := json.Marshal(envelope{Function: function, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", function, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", function, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", function, err)
	}

	var env responseEnvelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			return fmt.Errorf("failed to decode %s response (HTTP %d): %w", function, resp.StatusCode, err)
		}
	}

	if env.ErrorCode != "" {
		return &APIError{Code: env.ErrorCode, Message: env.ErrorMessage}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned HTTP %d", function, resp.StatusCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", function, err)
		}
	}
	return nil
}

func (c *httpClient) HealthCheck(ctx context.Context) error {
	return c.call(ctx, "", "HealthCheck", map[string]string{"clientCustomData": ""}, nil)
}

type loginResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

func (c *httpClient) PasswordlessLogin(ctx context.Context) (string, error) {
	var out loginResponse
	data := map[string]string{"minimumPrivilegeLevel": PrivilegeInitialAdmin}
	if err := c.call(ctx, "", "PasswordlessLogin", data, &out); err != nil {
		return "", err
	}
	return out.AuthenticationToken, nil
}

func (c *httpClient) Login(ctx context.Context, password string) (string, error) {
	var out loginResponse
	data := map[string]string{
		"password":              password,
		"minimumPrivilegeLevel": PrivilegeAdministrator,
	}
	if err := c.call(ctx, "", "PasswordLogin", data, &out); err != nil {
		return "", err
	}
	return out.AuthenticationToken, nil
}

func (c *httpClient) VerifyToken(ctx context.Context, token string) error {
	return c.call(ctx, token, "VerifyAuthenticationToken", nil, nil)
}

func (c *httpClient) Claim(ctx context.Context, bootstrapToken, serverName, adminPassword string) (string, error) {
	var out loginResponse
	data := map[string]string{
		"serverName":    serverName,
		"adminPassword": adminPassword,
	}
	if err := c.call(ctx, bootstrapToken, "ClaimServer", data, &out); err != nil {
		return "", err
	}
	return out.AuthenticationToken, nil
}

func (c *httpClient) QueryServerState(ctx context.Context, token string) (*ServerState, error) {
	var out struct {
		ServerGameState ServerState `json:"serverGameState"`
	}
	if err := c.call(ctx, token, "QueryServerState", nil, &out); err != nil {
		return nil, err
	}
	return &out.ServerGameState, nil
}

func (c *httpClient) SetClientPassword(ctx context.Context, token, password string) error {
	return c.call(ctx, token, "SetClientPassword", map[string]string{"password": password}, nil)
}

func (c *httpClient) Shutdown(ctx context.Context, token string) error {
	return c.call(ctx, token, "Shutdown", nil, nil)
}
