package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// UserHeader carries the caller's user identity, set by the session provider
// in front of this service
const UserHeader = "X-User-ID"

// Error types returned in the "error" field of error responses
const (
	ErrTypeInvalidInput          = "invalid_input"
	ErrTypeCapabilityUnavailable = "capability_unavailable"
	ErrTypePermissionDenied      = "permission_denied"
	ErrTypeAlreadyTracking       = "already_tracking"
	ErrTypeNotTracking           = "not_tracking"
	ErrTypePersistenceFailure    = "persistence_failure"
	ErrTypeUnauthorized          = "unauthorized"
	ErrTypeInternal              = "internal_error"
)

// maxBodyBytes caps request bodies; a sample batch is the largest payload
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// authenticate checks the internal API key and returns the calling user.
// It writes the error response itself and returns ok=false on failure.
func authenticate(w http.ResponseWriter, r *http.Request, apiKey string, logger *slog.Logger) (userID string, ok bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "Bearer "+apiKey {
		logger.Warn("Unauthorized request", "path", r.URL.Path, "has_auth", authHeader != "")
		writeError(w, logger, http.StatusUnauthorized, ErrTypeUnauthorized, "")
		return "", false
	}

	userID = strings.TrimSpace(r.Header.Get(UserHeader))
	if userID == "" {
		writeError(w, logger, http.StatusUnauthorized, ErrTypeUnauthorized, UserHeader+" header is required")
		return "", false
	}
	return userID, true
}

// allowMethod writes 405 unless r uses method
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, errType, message string) {
	writeJSON(w, logger, status, errorResponse{Error: errType, Message: message})
}
