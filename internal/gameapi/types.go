package gameapi

import "fmt"

// Error codes reported by the game control API.
const (
	// ErrorCodeInvalidToken is returned when the presented authentication
	// token is missing, malformed, or no longer accepted.
	ErrorCodeInvalidToken = "invalid_token"

	// ErrorCodeInsufficientScope is returned when the token is valid but
	// lacks the privilege level required for the call.
	ErrorCodeInsufficientScope = "insufficient_scope"

	// ErrorCodeServerClaimed is returned by claim attempts against an
	// already-claimed server.
	ErrorCodeServerClaimed = "server_claimed"
)

// APIError is a structured error reported by the game control API, as
// opposed to a transport failure reaching it.
type APIError struct {
	Code    string
	Message string
}

// Error returns the error message.
func (e *APIError) Error() string {
	return fmt.Sprintf("game API error %s: %s", e.Code, e.Message)
}

// IsInvalidToken reports whether the error indicates a rejected
// authentication token, distinguishing it from transport failures so callers
// can decide between re-login and propagation.
func (e *APIError) IsInvalidToken() bool {
	return e.Code == ErrorCodeInvalidToken || e.Code == ErrorCodeInsufficientScope
}

// Privilege levels requested on login calls.
const (
	// PrivilegeInitialAdmin is the bootstrap privilege level available only
	// while the server is unclaimed.
	PrivilegeInitialAdmin = "InitialAdmin"

	// PrivilegeAdministrator is the full administrative privilege level.
	PrivilegeAdministrator = "Administrator"
)

// ServerState is the live state reported by a running game server.
type ServerState struct {
	ServerName  string `json:"serverName"`
	GamePhase   string `json:"gamePhase"`
	PlayerCount int    `json:"numConnectedPlayers"`
	PlayerLimit int    `json:"playerLimit"`
}
