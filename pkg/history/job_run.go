package history

import "time"

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// JobRun is one recorded execution of a scheduled job. Errors holds
// the newline-joined error texts of the run's failed objects.
type JobRun struct {
	Id                int64
	RunId             string
	JobName           string
	JobKind           string
	Schedule          string
	Status            string
	TotalObjects      int
	SuccessfulObjects int
	FailedObjects     int
	DurationSeconds   float64
	Errors            string
	StartedAt         time.Time
	FinishedAt        time.Time
}
