package service

import (
	"context"

	"github.com/cloo-solutions/recall/internal/domain"
)

// IngestJobWriter is the part of job persistence that must change atomically
// when an attempt is recorded.
type IngestJobWriter interface {
	IncrementRetries(ctx context.Context, id string) error
	UpdateOutcome(ctx context.Context, id string, status domain.IngestJobStatus, recordCount int, failedOrdinals []int, errMsg string) error
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	IngestJobs() IngestJobWriter
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
