package model

import "time"

const (
	ImportJobQueued    = "queued"
	ImportJobRunning   = "running"
	ImportJobCompleted = "completed"
	ImportJobFailed    = "failed"
)

// ImportJob is the payload queued for asynchronous imports.
type ImportJob struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	RequestedBy string    `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImportProgress is the state of an asynchronous import as seen by pollers.
type ImportProgress struct {
	ID      string        `json:"id"`
	State   string        `json:"state"`
	Current int           `json:"current"`
	Total   int           `json:"total"`
	Percent int           `json:"percent"`
	Result  *ImportResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}
