package domain

import (
	"fmt"
	"time"
)

// IngestJobStatus represents the status of an ingest job
type IngestJobStatus string

const (
	IngestJobStatusPending    IngestJobStatus = "pending"
	IngestJobStatusProcessing IngestJobStatus = "processing"
	IngestJobStatusCompleted  IngestJobStatus = "completed"
	IngestJobStatusPartial    IngestJobStatus = "partial"
	IngestJobStatusFailed     IngestJobStatus = "failed"
)

// IngestJob is an asynchronous ingestion task. The text comes either inline
// or from an uploaded object that is extracted when the job runs.
type IngestJob struct {
	ID             string
	OwnerScope     string
	SourceType     SourceType
	SourceID       string
	Text           string
	ObjectKey      string
	ContentType    string
	MaxChunkSize   int
	Status         IngestJobStatus
	Retries        int32
	Error          string
	RecordCount    int
	FailedOrdinals []int
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// IsTerminal reports whether the job will not be picked up again
func (j *IngestJob) IsTerminal() bool {
	switch j.Status {
	case IngestJobStatusCompleted, IngestJobStatusPartial, IngestJobStatusFailed:
		return true
	}
	return false
}

// HasObject reports whether the job text must be fetched from object storage
func (j *IngestJob) HasObject() bool {
	return j.ObjectKey != ""
}

// ValidateIngestJob validates an IngestJob instance
func ValidateIngestJob(j *IngestJob) error {
	if j == nil {
		return fmt.Errorf("ingest job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("ingest job ID is required")
	}

	if err := ValidateScope(j.OwnerScope); err != nil {
		return err
	}

	if !j.SourceType.IsValid() {
		return ErrInvalidSourceType
	}

	if j.SourceID == "" {
		return ErrMissingSourceID
	}

	if j.Text != "" && j.ObjectKey != "" {
		return fmt.Errorf("ingest job cannot have both Text and ObjectKey")
	}

	if j.ObjectKey != "" && j.ContentType == "" {
		return fmt.Errorf("ingest job ContentType is required with ObjectKey")
	}

	if j.MaxChunkSize <= 0 {
		return ErrInvalidChunkSize
	}

	if !isValidIngestJobStatus(j.Status) {
		return fmt.Errorf("ingest job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("ingest job Retries cannot be negative")
	}

	return nil
}

// ParseIngestJobStatus parses a status filter value
func ParseIngestJobStatus(raw string) (IngestJobStatus, error) {
	s := IngestJobStatus(raw)
	if !isValidIngestJobStatus(s) {
		return "", ErrInvalidIngestJobStatus
	}
	return s, nil
}

func isValidIngestJobStatus(s IngestJobStatus) bool {
	switch s {
	case IngestJobStatusPending, IngestJobStatusProcessing,
		IngestJobStatusCompleted, IngestJobStatusPartial, IngestJobStatusFailed:
		return true
	}
	return false
}
