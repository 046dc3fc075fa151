package catalog

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Job runs the scheduled catalog sync.
type Job struct {
	syncer *Syncer
	logger *slog.Logger
}

// NewJob constructs a job handler.
func NewJob(syncer *Syncer, logger *slog.Logger) *Job {
	return &Job{syncer: syncer, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if err := j.syncer.Sync(ctx); err != nil {
		j.logger.Error("catalog sync", slog.Any("error", err))
		return err
	}
	return nil
}
