package core

import "time"

// Condition is a predicate over the stored state of a job. Conditional
// updates apply only when it holds at write time.
type Condition func(j *Job) bool

// Claimable holds for a queued job, or for a running job whose claim was
// only partially written (no worker recorded).
func Claimable(j *Job) bool {
	if j.Status == StatusQueued {
		return true
	}
	return j.Status == StatusRunning && j.WorkerID == ""
}

// HeldBy holds while workerID owns the lease on a running job.
func HeldBy(workerID string) Condition {
	return func(j *Job) bool {
		return j.Status == StatusRunning && j.WorkerID == workerID
	}
}

// StaleBefore holds for a running job whose heartbeat is missing or
// strictly older than cutoff.
func StaleBefore(cutoff time.Time) Condition {
	return func(j *Job) bool {
		if j.Status != StatusRunning {
			return false
		}
		return j.HeartbeatAt == nil || j.HeartbeatAt.Before(cutoff)
	}
}

// NotTerminal holds until the job reaches done or error.
func NotTerminal(j *Job) bool {
	return !IsTerminalStatus(j.Status)
}

// HasStatus matches jobs in exactly the given status.
func HasStatus(status string) Condition {
	return func(j *Job) bool {
		return j.Status == status
	}
}

// OwnedBy matches jobs belonging to owner.
func OwnedBy(owner string) Condition {
	return func(j *Job) bool {
		return j.Owner == owner
	}
}

// All matches when every condition matches.
func All(conds ...Condition) Condition {
	return func(j *Job) bool {
		for _, c := range conds {
			if !c(j) {
				return false
			}
		}
		return true
	}
}
