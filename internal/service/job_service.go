package service

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"md5cracker/internal/broker"
	"md5cracker/internal/events"
	"md5cracker/internal/metrics"
	"md5cracker/internal/models"
	"md5cracker/internal/repository"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Publisher publishes a message to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload []byte) error
}

// Archiver stores a finished job's results artifact in long-term storage.
type Archiver interface {
	ArchiveResults(ctx context.Context, jobID string, csv []byte) error
}

// JobService owns the coordinator side of the pipeline: ingestion and
// partitioning of uploads, aggregation of worker result batches, and the
// results artifact.
type JobService struct {
	repo      repository.JobRepository
	publisher Publisher
	hub       *events.Hub
	metrics   *metrics.Metrics
	archiver  Archiver // nil disables archival
	batchSize int
}

// NewJobService creates a new job service
func NewJobService(repo repository.JobRepository, publisher Publisher, hub *events.Hub, m *metrics.Metrics, archiver Archiver, batchSize int) *JobService {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &JobService{
		repo:      repo,
		publisher: publisher,
		hub:       hub,
		metrics:   m,
		archiver:  archiver,
		batchSize: batchSize,
	}
}

// CreateJob ingests an uploaded file of hex fingerprints, persists the job
// and its targets, and dispatches work units to the lookup queue. It returns
// the created job and the number of non-blank lines that were rejected.
//
// The job and target rows commit in one transaction before anything is
// published; a crash mid-publish leaves the job partially dispatched and
// relying on at-least-once semantics, never on a half-written job.
func (s *JobService) CreateJob(ctx context.Context, upload io.Reader) (*models.Job, int, error) {
	var hashes []string
	dropped := 0

	// Lines are read with ReadString rather than a Scanner so that an
	// over-long line counts as one rejected line instead of failing the
	// whole upload.
	reader := bufio.NewReader(upload)
	for {
		line, readErr := reader.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			if isFingerprint(trimmed) {
				hashes = append(hashes, strings.ToLower(trimmed))
			} else {
				dropped++
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("failed to read upload: %w", readErr)
		}
	}

	total := len(hashes)
	expected := (total + s.batchSize - 1) / s.batchSize

	job := &models.Job{
		ID:              uuid.New().String(),
		CreatedAt:       time.Now(),
		Status:          models.StatusRunning,
		TotalHashes:     total,
		BatchesExpected: expected,
	}
	// A job with nothing to dispatch would otherwise stay RUNNING forever.
	if expected == 0 {
		job.Status = models.StatusCompleted
	}

	if err := s.repo.CreateJob(ctx, job, hashes); err != nil {
		return nil, 0, fmt.Errorf("failed to create job: %w", err)
	}
	s.metrics.IncrementJobsCreated()
	log.Printf("job_id=%s: job created, total_hashes=%d, batches_expected=%d, dropped_lines=%d",
		job.ID, total, expected, dropped)

	for i := 0; i < expected; i++ {
		end := (i + 1) * s.batchSize
		if end > total {
			end = total
		}
		payload, err := broker.EncodeHashBatch(models.HashBatch{
			JobID:      job.ID,
			BatchIndex: i,
			Hashes:     hashes[i*s.batchSize : end],
		})
		if err != nil {
			return nil, 0, err
		}
		if err := s.publisher.Publish(ctx, broker.LookupQueue, payload); err != nil {
			// No compensation: the job row stays, and any already-published
			// units will still be processed.
			return nil, 0, fmt.Errorf("failed to publish work unit %d: %w", i, err)
		}
	}
	s.metrics.AddBatchesPublished(expected)

	s.hub.Publish(job.ID, events.TypeJobCreated, map[string]string{"jobId": job.ID})
	if expected == 0 {
		s.metrics.IncrementJobsCompleted()
		s.hub.Publish(job.ID, events.TypeCompleted, map[string]string{"jobId": job.ID})
		s.hub.Complete(job.ID)
	}

	return job, dropped, nil
}

// HandleResultBatch applies one worker result envelope to the job state and
// fans progress out to any subscriber. Envelopes for unknown jobs and
// redelivered envelopes are dropped without error.
func (s *JobService) HandleResultBatch(ctx context.Context, rb models.ResultBatch) error {
	if _, err := s.repo.GetJobByID(ctx, rb.JobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("job_id=%s: dropping result batch %d for unknown job", rb.JobID, rb.BatchIndex)
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	progress, completed, err := s.repo.ApplyResultBatch(ctx, rb.JobID, rb.BatchIndex, len(rb.Results))
	if err != nil {
		if errors.Is(err, repository.ErrBatchAlreadyProcessed) {
			log.Printf("job_id=%s: dropping redelivered result batch %d", rb.JobID, rb.BatchIndex)
			return nil
		}
		if errors.Is(err, repository.ErrJobNotRunning) {
			log.Printf("job_id=%s: dropping result batch %d for finished job", rb.JobID, rb.BatchIndex)
			return nil
		}
		return fmt.Errorf("failed to apply result batch: %w", err)
	}

	s.metrics.IncrementBatchesProcessed()
	s.metrics.AddMatchesFound(len(rb.Results))
	log.Printf("job_id=%s: batch %d applied, completed=%d/%d, found=%d",
		rb.JobID, rb.BatchIndex, progress.BatchesCompleted, progress.BatchesExpected, progress.FoundCount)

	s.hub.Publish(rb.JobID, events.TypeProgress, progress)

	if completed {
		s.metrics.IncrementJobsCompleted()
		log.Printf("job_id=%s: job completed, batches=%d, found=%d", rb.JobID, progress.BatchesCompleted, progress.FoundCount)
		s.hub.Publish(rb.JobID, events.TypeCompleted, map[string]string{"jobId": rb.JobID})
		s.archive(ctx, rb.JobID)
		s.hub.Complete(rb.JobID)
	}

	return nil
}

// archive uploads the final CSV to the configured object store. Failures are
// logged and never affect job state.
func (s *JobService) archive(ctx context.Context, jobID string) {
	if s.archiver == nil {
		return
	}

	var buf bytes.Buffer
	if err := s.WriteResultsCSV(ctx, jobID, &buf); err != nil {
		log.Printf("job_id=%s: failed to build archive artifact: %v", jobID, err)
		return
	}
	if err := s.archiver.ArchiveResults(ctx, jobID, buf.Bytes()); err != nil {
		log.Printf("job_id=%s: failed to archive results: %v", jobID, err)
		return
	}
	log.Printf("job_id=%s: results archived", jobID)
}

// GetJob retrieves a job by ID
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetJobByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListCompletedJobs retrieves all completed jobs, newest first
func (s *JobService) ListCompletedJobs(ctx context.Context) ([]*models.Job, error) {
	jobs, err := s.repo.ListCompletedJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// WriteResultsCSV writes the results artifact for a job: a header line and
// one line per target, ordered by hash, with "NOT FOUND" for misses. The
// artifact is regenerated on every call; before completion it is a partial
// snapshot.
func (s *JobService) WriteResultsCSV(ctx context.Context, jobID string, w io.Writer) error {
	rows, err := s.repo.ListResultRows(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to list result rows: %w", err)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("hash,phone\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(bw, "%s,%s\n", row.HashHex, row.Phone); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// isFingerprint reports whether the line is exactly 32 hex characters.
func isFingerprint(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
