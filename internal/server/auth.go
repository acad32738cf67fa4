package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	bridgeerrors "github.com/teemow/calbridge/internal/errors"
	"github.com/teemow/calbridge/internal/logging"
	"github.com/teemow/calbridge/internal/tokenstore"
)

// Response bodies of the public routes.
const (
	statusRunning   = "Calendar MCP running"
	statusWaiting   = "waiting for google authorization"
	statusConnected = "calendar connected successfully"
)

// Authorizer runs the browser side of the OAuth flow. *google.FlowManager
// implements it.
type Authorizer interface {
	BeginAuthorization(userID string) (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (*tokenstore.Credential, error)
}

// StatusResponse is the JSON body of successful public routes.
type StatusResponse struct {
	Status string `json:"status"`
	UserID string `json:"user_id,omitempty"`
}

// ErrorResponse is the JSON body of failed public routes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// authHandlers serves the root and the Google OAuth routes.
type authHandlers struct {
	authorizer Authorizer
	logger     *slog.Logger
}

func (h *authHandlers) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusRunning})
}

// begin redirects the browser to the Google consent screen for user_id.
func (h *authHandlers) begin(w http.ResponseWriter, r *http.Request) {
	if h.authorizer == nil {
		writeError(w, http.StatusServiceUnavailable, "oauth_not_configured", "Google OAuth client is not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, string(bridgeerrors.KindMissingUserID), "user_id query parameter is required")
		return
	}

	consentURL, err := h.authorizer.BeginAuthorization(userID)
	if err != nil {
		h.logger.Error("failed to start authorization", logging.UserHash(userID), logging.Err(err))
		writeError(w, http.StatusInternalServerError, string(bridgeerrors.KindInternal), "failed to start authorization")
		return
	}
	http.Redirect(w, r, consentURL, http.StatusFound)
}

// callback completes the flow Google redirects back to.
func (h *authHandlers) callback(w http.ResponseWriter, r *http.Request) {
	if h.authorizer == nil {
		writeError(w, http.StatusServiceUnavailable, "oauth_not_configured", "Google OAuth client is not configured")
		return
	}
	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		h.logger.Info("authorization declined", slog.String("reason", denied))
		writeError(w, http.StatusBadRequest, bridgeerrors.ReasonAccessDenied, "Google authorization was not granted: "+denied)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeJSON(w, http.StatusOK, StatusResponse{Status: statusWaiting})
		return
	}

	cred, err := h.authorizer.CompleteAuthorization(r.Context(), code, query.Get("state"))
	if err != nil {
		status, reason := callbackFailure(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			// The cause may name store internals; it stays in the log.
			h.logger.Error("authorization callback failed", slog.String("reason", reason), logging.Err(err))
			message = "failed to save the Google credential, try again later"
		}
		writeError(w, status, reason, message)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: statusConnected, UserID: cred.UserID})
}

// callbackFailure maps an exchange failure to a status code and reason.
func callbackFailure(err error) (int, string) {
	var exchangeErr *bridgeerrors.AuthExchangeError
	if !errors.As(err, &exchangeErr) {
		return http.StatusInternalServerError, string(bridgeerrors.KindInternal)
	}
	if exchangeErr.Reason == bridgeerrors.ReasonStoreFailed {
		return http.StatusInternalServerError, exchangeErr.Reason
	}
	return http.StatusBadRequest, exchangeErr.Reason
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
