package clockify

import "time"

// TimeEntry is the hydrated time entry shape Clockify sends in webhook
// payloads and returns from the time-entries listing.
type TimeEntry struct {
	ID           string   `json:"id" validate:"required"`
	Description  string   `json:"description" validate:"required"`
	Project      *Project `json:"project" validate:"required"`
	Task         *Task    `json:"task" validate:"required"`
	TimeInterval Interval `json:"timeInterval"`
}

// Project carries the Clockify project fields the sync cares about. The note
// field embeds the Odoo project id as "odoo_id=<int>".
type Project struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ClientID string `json:"clientId"`
	Note     string `json:"note"`
	Archived bool   `json:"archived"`
}

// Task carries the Clockify task fields the sync cares about. The name embeds
// the Odoo task id as a "#<int>" suffix.
type Task struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Interval is a tracked time interval. End stays zero while a timer runs.
type Interval struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end"`
}
