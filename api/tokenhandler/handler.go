package tokenhandler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/seedless-backup/interfaces"
)

const (
	// SourceGoogleAuth is the identity source reported by clients signing in with Google.
	SourceGoogleAuth = "google_auth"

	maxBodySize = 16 * 1024
)

// CreateJWTRequest is the body of POST /create-jwt.
type CreateJWTRequest struct {
	RealmID string `json:"realmId"`
	Email   string `json:"email"`
	Source  string `json:"source"`
	AppName string `json:"appName"`
}

// Handler vends per-realm tokens for an identity. Sign-in itself happens
// upstream; this service only binds the normalized email to a realm subject.
type Handler struct {
	authority *Authority
	apps      map[string]struct{}
	log       *slog.Logger
}

func NewHandler(authority *Authority, appNames []string, log *slog.Logger) *Handler {
	apps := make(map[string]struct{}, len(appNames))
	for _, name := range appNames {
		apps[name] = struct{}{}
	}
	return &Handler{authority: authority, apps: apps, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/create-jwt", h.HandleCreateJWT)
}

// HandleCreateJWT returns a JWT as text/plain.
//
// URL format: POST /create-jwt
// Body: {"realmId": "...", "email": "...", "source": "google_auth", "appName": "..."}
func (h *Handler) HandleCreateJWT(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, fmt.Errorf("could not read request: %w", err).Error(), http.StatusBadRequest)
		return
	}

	var req CreateJWTRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if !h.authority.HasRealm(req.RealmID) {
		http.Error(w, fmt.Sprintf("unknown realm %q", req.RealmID), http.StatusBadRequest)
		return
	}
	if req.Source != SourceGoogleAuth {
		http.Error(w, fmt.Sprintf("unsupported identity source %q", req.Source), http.StatusBadRequest)
		return
	}
	if _, ok := h.apps[req.AppName]; !ok {
		http.Error(w, fmt.Sprintf("unknown app %q", req.AppName), http.StatusBadRequest)
		return
	}

	email, err := interfaces.NormalizeEmail(req.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token, exp, err := h.authority.IssueToken(req.RealmID, Subject(req.AppName, email))
	if err != nil {
		h.log.Error("Failed to issue token", "err", err, slog.String("realm", req.RealmID))
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}

	h.log.Debug("Issued realm token", slog.String("realm", req.RealmID), slog.Time("expires", exp))
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(token))
}
