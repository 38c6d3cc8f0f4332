package service

import (
	"context"
	"fmt"
	"log"
	"sort"

	"md5cracker/internal/broker"
	"md5cracker/internal/metrics"
	"md5cracker/internal/models"
	"md5cracker/internal/repository"
)

// LookupService processes one work unit at a time on the worker side: a
// single batched lookup against the precomputed mapping, an idempotent
// insert of the matches, and publication of the result envelope. Any error
// leaves the unit unacked so the broker redelivers it; every step here is
// safe under replay.
type LookupService struct {
	repo      repository.MappingRepository
	publisher Publisher
	metrics   *metrics.Metrics
}

// NewLookupService creates a new lookup service
func NewLookupService(repo repository.MappingRepository, publisher Publisher, m *metrics.Metrics) *LookupService {
	return &LookupService{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
	}
}

// ProcessBatch handles one work unit end to end. An empty unit still
// produces an (empty) result envelope so the aggregator's batch accounting
// stays correct.
func (s *LookupService) ProcessBatch(ctx context.Context, batch models.HashBatch) error {
	var items []models.ResultItem

	if len(batch.Hashes) > 0 {
		found, err := s.repo.LookupHashes(ctx, batch.Hashes)
		if err != nil {
			return fmt.Errorf("failed to look up batch %d for job %s: %w", batch.BatchIndex, batch.JobID, err)
		}

		items = make([]models.ResultItem, 0, len(found))
		for hashHex, phone := range found {
			items = append(items, models.ResultItem{HashHex: hashHex, Phone: phone})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].HashHex < items[j].HashHex })

		if len(items) > 0 {
			if err := s.repo.InsertResults(ctx, batch.JobID, items); err != nil {
				return fmt.Errorf("failed to store results for job %s: %w", batch.JobID, err)
			}
		}
	}

	payload, err := broker.EncodeResultBatch(models.ResultBatch{
		JobID:      batch.JobID,
		BatchIndex: batch.BatchIndex,
		Results:    items,
	})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, broker.ResultsQueue, payload); err != nil {
		return fmt.Errorf("failed to publish results for job %s: %w", batch.JobID, err)
	}

	s.metrics.IncrementBatchesProcessed()
	s.metrics.AddMatchesFound(len(items))
	log.Printf("job_id=%s: batch %d processed, hashes=%d, found=%d",
		batch.JobID, batch.BatchIndex, len(batch.Hashes), len(items))

	return nil
}
