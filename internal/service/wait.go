package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/state"
)

// WaitForStore polls IsConnected up to ConnectRetries times,
// ConnectRetryInterval apart.
func (s *IngestionService) WaitForStore(ctx context.Context) error {
	attempts := max(s.cfg.ConnectRetries, 1)
	for i := 1; i <= attempts; i++ {
		if s.store.IsConnected(ctx) {
			if i > 1 {
				slog.Info("store reachable", "attempt", i)
			}
			return nil
		}
		slog.Info("store not reachable yet", "attempt", i, "max_attempts", attempts)
		if i == attempts {
			break
		}
		if err := sleep(ctx, s.cfg.ConnectRetryInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrNotConnected, attempts)
}

// WaitForCompletion blocks until the status record reaches completed and
// returns it. It fails with ErrIngestionFailed on failed, with
// ErrIngestionAbandoned when an in_progress run goes stale, and with
// ErrWaitTimeout after timeout. Read errors are retried.
func (s *IngestionService) WaitForCompletion(ctx context.Context, timeout, poll time.Duration) (models.StatusRecord, error) {
	if poll <= 0 {
		poll = time.Second
	}
	deadline := s.now().Add(timeout)

	for {
		rec, err := s.store.ReadStatus(ctx)
		if err != nil {
			slog.Warn("status read failed while waiting", "error", err)
		} else {
			raw := models.ParseIngestionState(string(rec.Status))
			switch state.DetermineState(rec, s.cfg.StalenessThreshold, s.now()) {
			case models.StateCompleted:
				return rec, nil
			case models.StateFailed:
				msg := "unknown error"
				if f, ok := rec.Details.(models.RunFailed); ok && f.Error != "" {
					msg = f.Error
				}
				return rec, fmt.Errorf("%w: %s", ErrIngestionFailed, msg)
			case models.StateUnknown:
				if raw == models.StateInProgress {
					return rec, fmt.Errorf("%w: last heartbeat %s", ErrIngestionAbandoned, rec.Timestamp)
				}
			}
			slog.Debug("waiting for ingestion", "status", rec.Status, "progress", models.ProgressString(rec.Details))
		}

		if !s.now().Before(deadline) {
			return rec, fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
		}
		if err := sleep(ctx, min(poll, deadline.Sub(s.now()))); err != nil {
			return rec, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
