package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueReconcile carries webhook-driven timesheet work. It is consumed
	// serially so deliveries for the same entry never interleave.
	QueueReconcile = "reconcile"
	// QueueBatch carries scheduled batch work such as the daily sweep and
	// the catalog sync.
	QueueBatch = "batch"

	// TaskTimesheetReconcile is the task type for one webhook delivery.
	TaskTimesheetReconcile = "timesheet:reconcile"
	// TaskTimesheetSweep is the task type for the daily drift repair.
	TaskTimesheetSweep = "timesheet:sweep"
	// TaskCatalogSync is the task type for the project and task catalog sync.
	TaskCatalogSync = "catalog:sync"
)

// ReconcilePayload wraps one webhook delivery: the lifecycle event name from
// the URL and the raw body as Clockify sent it.
type ReconcilePayload struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

// NewTimesheetReconcileTask constructs an Asynq task for one delivery.
func NewTimesheetReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTimesheetReconcile, data), nil
}

// NewTimesheetSweepTask constructs an Asynq task for the daily sweep.
func NewTimesheetSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTimesheetSweep, nil)
}

// NewCatalogSyncTask constructs an Asynq task for the catalog sync.
func NewCatalogSyncTask() *asynq.Task {
	return asynq.NewTask(TaskCatalogSync, nil)
}
