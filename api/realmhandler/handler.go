package realmhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/metrics"
	"github.com/ruteri/seedless-backup/realms"
	"golang.org/x/time/rate"
)

const maxBodySize = 64 * 1024

// Error codes carried in ErrorResponse.
const (
	CodeWrongPin      = "wrong_pin"
	CodeLocked        = "locked"
	CodeNotRegistered = "not_registered"
	CodeUnauthorized  = "unauthorized"
	CodeRateLimited   = "rate_limited"
	CodeInvalid       = "invalid_request"
	CodeInternal      = "internal"
)

type ErrorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	GuessesRemaining int    `json:"guesses_remaining,omitempty"`
}

type subjectKey struct{}

// RateLimit configures per-subject throttling of realm requests.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

var DefaultRateLimit = RateLimit{PerSecond: 1, Burst: 10}

// Handler serves a single realm of the PIN oracle. Every request carries a
// bearer token minted for this realm; its subject selects the user's records.
type Handler struct {
	oracle   *realms.Oracle
	verifier realms.TokenVerifier
	limiter  *subjectLimiter
	log      *slog.Logger
}

func NewHandler(oracle *realms.Oracle, verifier realms.TokenVerifier, limit RateLimit, log *slog.Logger) *Handler {
	return &Handler{
		oracle:   oracle,
		verifier: verifier,
		limiter:  newSubjectLimiter(rate.Limit(limit.PerSecond), limit.Burst, 10*time.Minute),
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/secrets/{secret_id}", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Put("/", h.HandleRegister)
		r.Post("/recover", h.HandleRecover)
		r.Delete("/", h.HandleDelete)
	})
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, ErrorResponse{Error: CodeUnauthorized, Message: "missing bearer token"})
			return
		}

		subject, err := h.verifier.Verify(token, h.oracle.RealmID())
		if err != nil {
			h.log.Debug("Rejected realm token", "err", err)
			writeError(w, http.StatusUnauthorized, ErrorResponse{Error: CodeUnauthorized, Message: "invalid token"})
			return
		}

		if !h.limiter.allow(subject) {
			writeError(w, http.StatusTooManyRequests, ErrorResponse{Error: CodeRateLimited, Message: "too many requests"})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

// HandleRegister stores a share for the token's subject.
//
// URL format: PUT /v1/secrets/{secret_id}
// Body: interfaces.RealmRegisterRequest
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req interfaces.RealmRegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.oracle.Register(subjectFrom(r), chi.URLParam(r, "secret_id"), &req)
	if err != nil {
		h.writeOracleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecover releases the share if the PIN proof matches.
//
// URL format: POST /v1/secrets/{secret_id}/recover
// Body: interfaces.RealmRecoverRequest
//
// A mismatch answers 403 with the remaining guess count; a locked record answers 423.
func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	var req interfaces.RealmRecoverRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.oracle.Recover(subjectFrom(r), chi.URLParam(r, "secret_id"), req.PinProof)
	metrics.RealmGuesses.WithLabelValues(guessResult(err)).Inc()
	if err != nil {
		h.writeOracleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode recover response", "err", err)
	}
}

// HandleDelete removes the subject's registration.
//
// URL format: DELETE /v1/secrets/{secret_id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.oracle.Delete(subjectFrom(r), chi.URLParam(r, "secret_id")); err != nil {
		h.writeOracleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeOracleError(w http.ResponseWriter, err error) {
	var typed *interfaces.Error
	switch {
	case errors.Is(err, realms.ErrNotRegistered):
		writeError(w, http.StatusNotFound, ErrorResponse{Error: CodeNotRegistered, Message: err.Error()})
	case errors.As(err, &typed) && typed.Kind == interfaces.KindWrongPin:
		writeError(w, http.StatusForbidden, ErrorResponse{Error: CodeWrongPin, Message: typed.Message, GuessesRemaining: typed.GuessesRemaining})
	case errors.As(err, &typed) && typed.Kind == interfaces.KindLocked:
		writeError(w, http.StatusLocked, ErrorResponse{Error: CodeLocked, Message: typed.Message})
	case errors.As(err, &typed) && typed.Kind == interfaces.KindValidation:
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: typed.Message})
	default:
		h.log.Error("Realm operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "internal error"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: fmt.Errorf("could not read request: %w", err).Error()})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: fmt.Errorf("invalid request body: %w", err).Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func subjectFrom(r *http.Request) string {
	subject, _ := r.Context().Value(subjectKey{}).(string)
	return subject
}

func guessResult(err error) string {
	switch interfaces.KindOf(err) {
	case interfaces.KindWrongPin:
		return "wrong_pin"
	case interfaces.KindLocked:
		return "locked"
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
