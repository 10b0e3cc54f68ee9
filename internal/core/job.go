package core

import (
	"encoding/json"
	"time"
)

// Job status values.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Job is one unit of schedulable work. Records are keyed by (Owner, ID).
type Job struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Status string `json:"status"`

	// WorkerID and HeartbeatAt are set only while Status is running.
	WorkerID    string     `json:"worker_id,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	CreatedAt  *time.Time `json:"created_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	FinishedBy string     `json:"finished_by,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`

	// Args is the task payload. The queue never inspects it.
	Args json.RawMessage `json:"args,omitempty"`
}

// IsTerminalStatus reports whether no further transition is allowed from status.
func IsTerminalStatus(status string) bool {
	return status == StatusDone || status == StatusError
}

// IsActiveStatus reports whether a job in status still has work pending.
func IsActiveStatus(status string) bool {
	return status == StatusQueued || status == StatusRunning
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.HeartbeatAt = cloneTime(j.HeartbeatAt)
	c.CreatedAt = cloneTime(j.CreatedAt)
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	if j.Args != nil {
		c.Args = append(json.RawMessage(nil), j.Args...)
	}
	return &c
}

// TimePtr returns a pointer to t in UTC.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
