package repository

import (
	"context"
	"errors"

	"md5cracker/internal/models"
)

// ErrBatchAlreadyProcessed is returned when a result batch for a
// (job, batchIndex) pair has been applied before. Redelivered envelopes
// must not advance job counters.
var ErrBatchAlreadyProcessed = errors.New("result batch already processed")

// ErrJobNotRunning is returned when a result batch arrives for a job that
// is no longer in RUNNING state.
var ErrJobNotRunning = errors.New("job is not running")

// JobRepository defines the coordinator-side persistence operations.
type JobRepository interface {
	// CreateJob persists the job row and all of its target hashes in a
	// single transaction. Duplicate hashes collapse to one target row.
	CreateJob(ctx context.Context, job *models.Job, targets []string) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	ListCompletedJobs(ctx context.Context) ([]*models.Job, error)
	// ApplyResultBatch atomically records a processed batch and advances the
	// job counters. It returns the job's progress after the update and
	// whether this batch completed the job. A redelivered batch returns
	// ErrBatchAlreadyProcessed and leaves the job untouched.
	ApplyResultBatch(ctx context.Context, jobID string, batchIndex, foundCount int) (*models.Progress, bool, error)
	// ListResultRows returns one row per target of the job, joined with its
	// recovered phone number or "NOT FOUND", ordered by hash ascending.
	ListResultRows(ctx context.Context, jobID string) ([]models.ResultRow, error)
}

// MappingRepository defines the worker-side persistence operations against
// the precomputed hash-to-phone mapping and the results relation.
type MappingRepository interface {
	// LookupHashes resolves a batch of hex fingerprints against the mapping
	// table in a single query. The returned map is keyed by lowercase hex.
	LookupHashes(ctx context.Context, hashesHex []string) (map[string]string, error)
	// InsertResults stores discovered matches; duplicate (job, hash) pairs
	// are ignored so redelivered work units are safe.
	InsertResults(ctx context.Context, jobID string, items []models.ResultItem) error
}
