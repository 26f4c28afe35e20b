// Package jobs runs background work over asynq: replaying the offline
// write queue and keeping queue visibility endpoints alive.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/lyceum-app/lyceum/internal/core"
	"github.com/lyceum-app/lyceum/internal/dualwrite"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSyncReplay asks the worker to flush the offline write queue.
	TaskTypeSyncReplay = "sync:replay"
)

// SyncReplayPayload records why the replay was scheduled.
type SyncReplayPayload struct {
	Reason string `json:"reason"`
}

// NewSyncReplayTask constructs the replay task.
func NewSyncReplayTask(payload SyncReplayPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSyncReplay, data), nil
}

// NewSyncReplayHandler builds the handler that drains the coordinator's
// offline queue. A transient failure is returned to asynq so the task is
// retried with backoff; every other outcome settles inside Flush.
func NewSyncReplayHandler(co *dualwrite.Coordinator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SyncReplayPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("replaying offline queue",
			slog.String("reason", payload.Reason), slog.Int("depth", co.QueueLen()))
		if err := co.Flush(ctx); err != nil {
			if core.Retryable(err) {
				return err
			}
			logger.Error("replay settled with failure", slog.Any("error", err))
		}
		return nil
	}
}
