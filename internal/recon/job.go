package recon

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kabisa/timesync/jobs"
)

// Job consumes queued webhook deliveries.
type Job struct {
	processor *Processor
	logger    *slog.Logger
}

// NewJob constructs a job handler.
func NewJob(processor *Processor, logger *slog.Logger) *Job {
	return &Job{processor: processor, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := j.processor.Process(ctx, payload.Event, payload.Body); err != nil {
		j.logger.Error("reconcile", slog.String("event", payload.Event), slog.Any("error", err))
		return err
	}
	return nil
}

// SweepJob runs the daily drift repair.
type SweepJob struct {
	sweep  *Sweep
	logger *slog.Logger
}

// NewSweepJob constructs a job handler.
func NewSweepJob(sweep *Sweep, logger *slog.Logger) *SweepJob {
	return &SweepJob{sweep: sweep, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if err := j.sweep.Run(ctx, time.Now().UTC()); err != nil {
		j.logger.Error("timesheet sweep", slog.Any("error", err))
		return err
	}
	return nil
}
