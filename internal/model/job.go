package model

import "time"

// JobState is the lifecycle state of an ingestion job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobDone       JobState = "done"
	JobFailed     JobState = "failed"
	JobDead       JobState = "dead"
)

// jobTransitions is the forward-only transition table. Done and dead are
// terminal; failed may re-enter processing until the attempt budget runs out.
var jobTransitions = map[JobState][]JobState{
	JobQueued:     {JobProcessing},
	JobProcessing: {JobDone, JobFailed},
	JobFailed:     {JobProcessing, JobDead},
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s JobState) CanTransitionTo(next JobState) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobDead
}

// Valid reports whether s is one of the five known states.
func (s JobState) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobDone, JobFailed, JobDead:
		return true
	}
	return false
}

// IngestionJob tracks one asynchronous document ingestion. Mutated only by
// the worker executing it; attempt_count and last_error give operators
// visibility into retries and dead jobs.
type IngestionJob struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DocumentID   uint      `gorm:"not null;index" json:"document_id"`
	State        JobState  `gorm:"size:16;not null;index;default:queued" json:"state"`
	AttemptCount int       `gorm:"not null;default:0" json:"attempt_count"`
	LastError    string    `gorm:"size:1024" json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
