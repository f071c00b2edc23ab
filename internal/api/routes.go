package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/authgw"
	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/versions"
)

// routes holds the handler dependencies.
type routes struct {
	controller *lifecycle.Controller
	gateway    *authgw.Gateway
}

func newRoutes(controller *lifecycle.Controller, gateway *authgw.Gateway) *routes {
	return &routes{controller: controller, gateway: gateway}
}

// login handles POST /auth/login
func (rt *routes) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "password is required")
		return
	}

	token, err := rt.gateway.Login(r.Context(), req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: int(authgw.TokenLifetime.Seconds()),
	})
}

// startServer handles POST /server/start
func (rt *routes) startServer(w http.ResponseWriter, r *http.Request) {
	result, err := rt.controller.Start(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := StartResponse{Status: string(result.State)}
	if result.Endpoint != nil {
		resp.PublicIP = result.Endpoint.Address
	}
	writeJSON(w, http.StatusOK, resp)
}

// stopServer handles POST /server/stop
func (rt *routes) stopServer(w http.ResponseWriter, r *http.Request) {
	state, err := rt.controller.Stop(r.Context(), true)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StopResponse{Status: string(state)})
}

// serverStatus handles GET /server/status
func (rt *routes) serverStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.controller.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := StatusResponse{
		ServerState: string(status.State),
		PlayerCount: status.PlayerCount,
		ServerName:  status.ServerName,
		GamePhase:   status.GamePhase,
	}
	if status.Endpoint != nil {
		resp.PublicIP = status.Endpoint.Address
		resp.Port = status.Endpoint.Port
	}
	writeJSON(w, http.StatusOK, resp)
}

// getClientPassword handles GET /server/client-password
func (rt *routes) getClientPassword(w http.ResponseWriter, r *http.Request) {
	password, err := rt.controller.ClientPassword(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClientPasswordResponse{Password: password})
}

// setClientPassword handles POST /server/client-password
func (rt *routes) setClientPassword(w http.ResponseWriter, r *http.Request) {
	var req SetClientPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "malformed request body")
		return
	}
	if req.Password == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "password field is required (empty string removes the password)")
		return
	}

	message, err := rt.controller.SetClientPassword(r.Context(), *req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SetClientPasswordResponse{Success: true, Message: message})
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetVersionInfo())
}

// bearerAuth enforces bearer-token authorization via the auth gateway.
func bearerAuth(gateway *authgw.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				slog.Warn("Token extraction failed",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, ErrCodeAuthentication,
					"missing or malformed authorization header")
				return
			}

			decision := gateway.Authorize(r.Context(), token)
			if !decision.Allowed {
				slog.Warn("Authorization denied",
					"reason", decision.Reason,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, ErrCodeAuthentication,
					"invalid or expired token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken pulls the token from an "Authorization: Bearer" header.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// writeDomainError maps known error types onto status codes and error
// codes. Unrecognized errors become a generic internal error; the detail is
// logged server-side only so response bodies never carry secret material.
func writeDomainError(w http.ResponseWriter, err error) {
	var startErr *lifecycle.StartFailedError
	var stopErr *lifecycle.StopFailedError

	switch {
	case errors.Is(err, authgw.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, ErrCodeAuthentication, "invalid password")
	case errors.Is(err, lifecycle.ErrServerNotRunning):
		writeError(w, http.StatusBadRequest, ErrCodeServerNotRunning, "server is not running")
	case errors.Is(err, lifecycle.ErrOperationInProgress):
		writeError(w, http.StatusConflict, ErrCodeOperationInProgress, "a lifecycle operation is already in progress")
	case errors.As(err, &startErr):
		writeError(w, http.StatusInternalServerError, ErrCodeServerStartFailed, startErr.Reason)
	case errors.As(err, &stopErr):
		writeError(w, http.StatusInternalServerError, ErrCodeServerStopFailed, stopErr.Reason)
	// A missing secret wrapped in a token-refresh failure is a
	// configuration problem, not a token problem, so it is matched first.
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusInternalServerError, ErrCodeSecretNotFound, "a required secret is not configured")
	case errors.Is(err, credentials.ErrTokenRefresh):
		writeError(w, http.StatusInternalServerError, ErrCodeAPIToken, "failed to refresh API token")
	default:
		logger.Errorf("Unhandled error in request handler: %v", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

// writeJSON writes a JSON response with the given status and data
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
