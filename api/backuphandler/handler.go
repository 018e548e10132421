package backuphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/storage"
)

const maxBodySize = 256 * 1024

// Error codes carried in ErrorResponse.
const (
	CodeNotFound    = "not_found"
	CodeInvalid     = "invalid_request"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler serves the backup persistence protocol over a BackupStore.
//
// Idempotency is delegated to the store: a PUT replaying the stored
// Idempotency-Key and payload is acknowledged without rewriting the record, and
// the response always reflects what is stored.
type Handler struct {
	store interfaces.BackupStore
	log   *slog.Logger
}

func NewHandler(store interfaces.BackupStore, log *slog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1/apps/{app_id}/backups/{uid}/wallets", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Put("/{wallet_id}", h.HandlePut)
		r.Get("/{wallet_id}", h.HandleGet)
	})
}

// HandlePut stores a backup.
//
// URL format: PUT /v1/apps/{app_id}/backups/{uid}/wallets/{wallet_id}
// Required headers: Idempotency-Key
// Body: interfaces.BackupPayload
//
// Response: the stored interfaces.BackupSummary. A replay returns the original created_at.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := keyFrom(r)

	idempotencyKey := r.Header.Get(storage.IdempotencyKeyHeader)
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: "missing Idempotency-Key header"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: fmt.Errorf("could not read request: %w", err).Error()})
		return
	}

	var payload interfaces.BackupPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: fmt.Errorf("invalid request body: %w", err).Error()})
		return
	}

	if err := h.store.PutBackup(r.Context(), key, &payload, idempotencyKey); err != nil {
		h.writeStoreError(w, err)
		return
	}

	rec, exists, err := h.store.GetBackup(r.Context(), key)
	if err != nil || !exists {
		// Written but not yet readable; acknowledge with what was sent.
		rec = &interfaces.BackupRecord{AppID: key.AppID, UID: key.UID, IdempotencyKey: idempotencyKey, Payload: payload}
		rec.Payload.WalletID = key.WalletID
	}

	h.log.Info("Stored backup",
		slog.String("app_id", key.AppID),
		slog.String("wallet_id", key.WalletID),
		slog.Duration("duration", time.Since(start)))

	w.Header().Set(storage.IdempotencyKeyHeader, rec.IdempotencyKey)
	writeJSON(w, http.StatusOK, interfaces.BackupSummary{WalletID: rec.Payload.WalletID, CreatedAt: rec.Payload.CreatedAt})
}

// HandleGet returns a stored backup payload.
//
// URL format: GET /v1/apps/{app_id}/backups/{uid}/wallets/{wallet_id}
//
// Response: interfaces.BackupPayload with the Idempotency-Key header, or 404.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, exists, err := h.store.GetBackup(r.Context(), keyFrom(r))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: CodeNotFound, Message: "backup not found"})
		return
	}

	w.Header().Set(storage.IdempotencyKeyHeader, rec.IdempotencyKey)
	writeJSON(w, http.StatusOK, rec.Payload)
}

// HandleList lists a user's backups, oldest first.
//
// URL format: GET /v1/apps/{app_id}/backups/{uid}/wallets
//
// Response: JSON array of interfaces.BackupSummary.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.ListBackups(r.Context(), chi.URLParam(r, "app_id"), chi.URLParam(r, "uid"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if summaries == nil {
		summaries = []interfaces.BackupSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	var typed *interfaces.Error
	switch {
	case errors.As(err, &typed) && typed.Kind == interfaces.KindValidation:
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: CodeInvalid, Message: typed.Message})
	case errors.Is(err, interfaces.ErrRepository), errors.Is(err, interfaces.ErrBackendUnavailable):
		h.log.Error("Backup storage unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: CodeUnavailable, Message: "backup storage unavailable"})
	default:
		h.log.Error("Backup operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: CodeInternal, Message: "internal error"})
	}
}

func keyFrom(r *http.Request) interfaces.BackupKey {
	return interfaces.BackupKey{
		AppID:    chi.URLParam(r, "app_id"),
		UID:      chi.URLParam(r, "uid"),
		WalletID: chi.URLParam(r, "wallet_id"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
