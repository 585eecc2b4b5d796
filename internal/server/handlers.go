package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rowanlm/mcphub/internal/domain"
)

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, "not found", http.StatusNotFound)
	case domain.IsConfigError(err):
		respondError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("request failed", "error", err)
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

type HealthHandler struct {
	DBPing func(context.Context) error
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.DBPing != nil {
		if err := h.DBPing(r.Context()); err != nil {
			respondJSON(w, map[string]string{"status": "degraded", "database": err.Error()}, http.StatusServiceUnavailable)
			return
		}
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type AuthHandler struct {
	auth Authorizer
}

type startResponse struct {
	Session      *domain.AuthSession `json:"session"`
	AuthorizeURL string              `json:"authorize_url"`
}

func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user")
	serverID := chi.URLParam(r, "server")

	sess, url, err := h.auth.Start(r.Context(), userID, serverID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, startResponse{Session: sess, AuthorizeURL: url}, http.StatusCreated)
}

func (h *AuthHandler) Poll(w http.ResponseWriter, r *http.Request) {
	sess, err := h.auth.Poll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, sess, http.StatusOK)
}

// Callback is the page the provider redirects the user's browser to. It
// renders a small HTML result; the agent learns the outcome by polling.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		renderCallbackPage(w, http.StatusBadRequest, "Authorization failed",
			fmt.Sprintf("The provider reported: %s", errCode))
		return
	}

	state := q.Get("state")
	if state == "" {
		renderCallbackPage(w, http.StatusBadRequest, "Authorization failed", "Missing state parameter.")
		return
	}

	sess, err := h.auth.Callback(r.Context(), state, q.Get("code"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			renderCallbackPage(w, http.StatusNotFound, "Authorization failed", "Unknown or already used authorization request.")
			return
		}
		reason := "The authorization could not be completed."
		if sess != nil && sess.Error != "" {
			reason = sess.Error
		}
		renderCallbackPage(w, http.StatusBadRequest, "Authorization failed", reason)
		return
	}

	renderCallbackPage(w, http.StatusOK, "Authorization complete",
		fmt.Sprintf("%s is now connected. You can close this window.", sess.ServerID))
}

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>%s</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em">
<h1>%s</h1>
<p>%s</p>
</body>
</html>
`

func renderCallbackPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, callbackPage, title, title, message)
}

type ConnectionHandler struct {
	conns Connections
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.conns.List(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if statuses == nil {
		statuses = []domain.ConnectionStatus{}
	}
	respondJSON(w, map[string]any{"connections": statuses}, http.StatusOK)
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.conns.Delete(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "server"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
