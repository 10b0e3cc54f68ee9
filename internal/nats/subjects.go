package nats

// Resource and subject names.
//
//	transcoder.events.job.{id}  -- lifecycle events of one job
//	transcoder.events.all       -- every lifecycle event
const (
	SubjectPrefix = "transcoder"

	// KV bucket names
	BucketJobs  = "transcoder-jobs"
	BucketFiles = "transcoder-files"

	// Object store holding original and transcoded media.
	ObjectStoreMedia = "transcoder-objects"
)

const (
	eventJobPrefix  = SubjectPrefix + ".events.job."
	eventAllSubject = SubjectPrefix + ".events.all"
)

// EventJobSubject returns the subject carrying events for one job.
// Example: transcoder.events.job.0190b7c2-...
func EventJobSubject(jobID string) string { return eventJobPrefix + jobID }

// EventsAllSubject returns the subject carrying every job event.
func EventsAllSubject() string { return eventAllSubject }
