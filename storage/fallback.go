package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/seedless-backup/interfaces"
	"github.com/ruteri/seedless-backup/metrics"
)

// FallbackStore implements interfaces.BackupStore over an ordered list of
// backends, the first being the primary.
//
// Writes go to the first available backend that accepts them. Reads return
// the first positive answer; a not-found or empty answer is confirmed against
// the remaining backends, since a write may have landed on a secondary while
// the primary was down. Absence is reported only when no queried backend
// failed; otherwise, and when every backend fails, the call fails with
// KindRepositoryError.
type FallbackStore struct {
	backends []interfaces.BackupStore
	log      *slog.Logger
}

func NewFallbackStore(backends []interfaces.BackupStore, logger *slog.Logger) *FallbackStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FallbackStore{
		backends: backends,
		log:      logger,
	}
}

func (f *FallbackStore) PutBackup(ctx context.Context, key interfaces.BackupKey, payload *interfaces.BackupPayload, idempotencyKey string) error {
	start := time.Now()
	var errs []error

	for _, backend := range f.backends {
		if !backend.Available(ctx) {
			f.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		err := backend.PutBackup(ctx, key, payload, idempotencyKey)
		metrics.BackendRequests.WithLabelValues(backend.Name(), "put", metrics.Result(err)).Inc()
		if err == nil {
			f.log.Info("Stored backup",
				slog.String("backend_name", backend.Name()),
				slog.String("wallet_id", key.WalletID),
				slog.Duration("duration", time.Since(start)))
			return nil
		}
		if errors.Is(err, interfaces.ErrValidation) {
			return err
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		f.log.Warn("Failed to store backup, trying next backend",
			slog.String("backend_name", backend.Name()),
			"err", err)
	}

	return f.allFailed("store backup", errs, start)
}

func (f *FallbackStore) ListBackups(ctx context.Context, appID, uid string) ([]interfaces.BackupSummary, error) {
	start := time.Now()
	var errs []error
	var confirmedEmpty, queryFailed bool

	for _, backend := range f.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		summaries, err := backend.ListBackups(ctx, appID, uid)
		metrics.BackendRequests.WithLabelValues(backend.Name(), "list", metrics.Result(err)).Inc()
		if err != nil {
			if errors.Is(err, interfaces.ErrValidation) {
				return nil, err
			}
			queryFailed = true
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			f.log.Warn("Failed to list backups, trying next backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}

		if len(summaries) > 0 {
			f.log.Debug("Listed backups",
				slog.String("backend_name", backend.Name()),
				slog.Int("count", len(summaries)),
				slog.Duration("duration", time.Since(start)))
			return summaries, nil
		}
		confirmedEmpty = true
	}

	if confirmedEmpty && !queryFailed {
		return []interfaces.BackupSummary{}, nil
	}
	return nil, f.allFailed("list backups", errs, start)
}

func (f *FallbackStore) GetBackup(ctx context.Context, key interfaces.BackupKey) (*interfaces.BackupRecord, bool, error) {
	start := time.Now()
	var errs []error
	var confirmedMissing, queryFailed bool

	for _, backend := range f.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		rec, exists, err := backend.GetBackup(ctx, key)
		metrics.BackendRequests.WithLabelValues(backend.Name(), "get", metrics.Result(err)).Inc()
		if err != nil {
			if errors.Is(err, interfaces.ErrValidation) {
				return nil, false, err
			}
			queryFailed = true
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			f.log.Warn("Failed to fetch backup, trying next backend",
				slog.String("backend_name", backend.Name()),
				"err", err)
			continue
		}

		if exists {
			f.log.Debug("Fetched backup",
				slog.String("backend_name", backend.Name()),
				slog.String("wallet_id", key.WalletID),
				slog.Duration("duration", time.Since(start)))
			return rec, true, nil
		}
		confirmedMissing = true
	}

	if confirmedMissing && !queryFailed {
		return nil, false, nil
	}
	return nil, false, f.allFailed("fetch backup", errs, start)
}

// Available checks if any backend is available
func (f *FallbackStore) Available(ctx context.Context) bool {
	for _, backend := range f.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (f *FallbackStore) Name() string {
	names := make([]string, 0, len(f.backends))
	for _, backend := range f.backends {
		names = append(names, backend.Name())
	}
	return "fallback:[" + strings.Join(names, ",") + "]"
}

func (f *FallbackStore) allFailed(op string, errs []error, start time.Time) error {
	f.log.Error("All backends failed",
		slog.String("op", op),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	if len(errs) == 0 {
		return interfaces.NewError(interfaces.KindRepositoryError, "no backup backend configured", nil)
	}
	return interfaces.NewError(interfaces.KindRepositoryError, "backup storage is unavailable", errors.Join(errs...))
}
