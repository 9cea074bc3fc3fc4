// Package tasks defines the payloads exchanged over the message queue.
package tasks

// IngestTask asks a worker to run the full ingestion pipeline for one
// document. Attempt counts redeliveries we triggered ourselves; the job row
// remains the source of truth for the retry budget.
type IngestTask struct {
	JobID      uint `json:"job_id"`
	DocumentID uint `json:"document_id"`
	Attempt    int  `json:"attempt"`
}
