package api

import "time"

// Error codes carried in error response bodies. Each known error type maps
// 1:1 to a status and code; anything unrecognized becomes ErrCodeInternal.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeAuthentication      = "AUTHENTICATION_ERROR"
	ErrCodeServerNotRunning    = "SERVER_NOT_RUNNING"
	ErrCodeOperationInProgress = "OPERATION_IN_PROGRESS"
	ErrCodeServerStartFailed   = "SERVER_START_FAILED"
	ErrCodeServerStopFailed    = "SERVER_STOP_FAILED"
	ErrCodeAPIToken            = "API_TOKEN_ERROR"
	ErrCodeSecretNotFound      = "SECRET_NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse is the success body of POST /auth/login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// StartResponse is the success body of POST /server/start.
type StartResponse struct {
	Status   string `json:"status"`
	PublicIP string `json:"publicIp,omitempty"`
}

// StopResponse is the success body of POST /server/stop.
type StopResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the success body of GET /server/status. The optional
// fields are best-effort enrichment; their absence means the game API could
// not be queried, not that the server is down.
type StatusResponse struct {
	ServerState string `json:"serverState"`
	PublicIP    string `json:"publicIp,omitempty"`
	Port        int    `json:"port,omitempty"`
	PlayerCount *int   `json:"playerCount,omitempty"`
	ServerName  string `json:"serverName,omitempty"`
	GamePhase   string `json:"gamePhase,omitempty"`
}

// ClientPasswordResponse is the success body of GET /server/client-password.
// Password is null when no client password is set.
type ClientPasswordResponse struct {
	Password *string `json:"password"`
}

// SetClientPasswordRequest is the body of POST /server/client-password. A
// present-but-empty password removes the requirement; an absent field is a
// validation error.
type SetClientPasswordRequest struct {
	Password *string `json:"password"`
}

// SetClientPasswordResponse is the success body of POST /server/client-password.
type SetClientPasswordResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
