package pipeline

import (
	"context"
	"log/slog"
)

// QueueAdmin is the administrative surface Purge needs, satisfied by
// natsclient.Client.
type QueueAdmin interface {
	PurgeSubject(ctx context.Context, stream, subject string) error
}

// Purge empties every pipeline queue. It keeps going past individual
// failures and returns the per-queue errors, so one stuck subject does not
// leave the rest of the pipeline dirty.
func Purge(ctx context.Context, admin QueueAdmin, logger *slog.Logger) map[string]error {
	if logger == nil {
		logger = slog.Default().With("component", "purge")
	}
	failures := make(map[string]error)
	for _, queue := range AllQueues {
		if err := admin.PurgeSubject(ctx, StreamName, Subject(queue)); err != nil {
			logger.Warn("queue purge failed", "queue", queue, "error", err)
			failures[queue] = err
			continue
		}
		logger.Info("queue purged", "queue", queue)
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}
