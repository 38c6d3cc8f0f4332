package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"md5cracker/internal/broker"
	"md5cracker/internal/events"
	"md5cracker/internal/metrics"
	"md5cracker/internal/models"
	"md5cracker/internal/repository"
)

// mockJobRepository is a mock implementation of repository.JobRepository
type mockJobRepository struct {
	jobs      map[string]*models.Job
	targets   map[string][]string
	processed map[string]map[int]bool
	rows      []models.ResultRow

	createJobError error
	applyError     error
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{
		jobs:      make(map[string]*models.Job),
		targets:   make(map[string][]string),
		processed: make(map[string]map[int]bool),
	}
}

func (m *mockJobRepository) CreateJob(ctx context.Context, job *models.Job, targets []string) error {
	if m.createJobError != nil {
		return m.createJobError
	}
	copied := *job
	m.jobs[job.ID] = &copied
	seen := make(map[string]bool)
	for _, hash := range targets {
		if !seen[hash] {
			seen[hash] = true
			m.targets[job.ID] = append(m.targets[job.ID], hash)
		}
	}
	return nil
}

func (m *mockJobRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	job, exists := m.jobs[id]
	if !exists {
		return nil, sql.ErrNoRows
	}
	return job, nil
}

func (m *mockJobRepository) ListCompletedJobs(ctx context.Context) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range m.jobs {
		if job.Status == models.StatusCompleted {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *mockJobRepository) ApplyResultBatch(ctx context.Context, jobID string, batchIndex, foundCount int) (*models.Progress, bool, error) {
	if m.applyError != nil {
		return nil, false, m.applyError
	}
	job, exists := m.jobs[jobID]
	if !exists || job.Status != models.StatusRunning {
		return nil, false, repository.ErrJobNotRunning
	}
	if m.processed[jobID] == nil {
		m.processed[jobID] = make(map[int]bool)
	}
	if m.processed[jobID][batchIndex] {
		return nil, false, repository.ErrBatchAlreadyProcessed
	}
	m.processed[jobID][batchIndex] = true

	job.BatchesCompleted++
	job.FoundCount += foundCount

	completed := false
	if job.BatchesCompleted >= job.BatchesExpected {
		job.Status = models.StatusCompleted
		completed = true
	}

	return &models.Progress{
		BatchesCompleted: job.BatchesCompleted,
		BatchesExpected:  job.BatchesExpected,
		FoundCount:       job.FoundCount,
	}, completed, nil
}

func (m *mockJobRepository) ListResultRows(ctx context.Context, jobID string) ([]models.ResultRow, error) {
	return m.rows, nil
}

// mockPublisher captures published messages
type mockPublisher struct {
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	queue   string
	payload []byte
}

func (m *mockPublisher) Publish(ctx context.Context, queue string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{queue: queue, payload: payload})
	return nil
}

// mockArchiver captures archived artifacts
type mockArchiver struct {
	archived map[string][]byte
}

func (m *mockArchiver) ArchiveResults(ctx context.Context, jobID string, csv []byte) error {
	if m.archived == nil {
		m.archived = make(map[string][]byte)
	}
	m.archived[jobID] = csv
	return nil
}

func newTestJobService(repo *mockJobRepository, pub *mockPublisher, hub *events.Hub, archiver Archiver, batchSize int) *JobService {
	return NewJobService(repo, pub, hub, metrics.NewMetrics(), archiver, batchSize)
}

func validHashes(n int) []string {
	hashes := make([]string, n)
	for i := 0; i < n; i++ {
		hashes[i] = fmt.Sprintf("%032x", i)
	}
	return hashes
}

func TestJobService_CreateJob_PartitionsIntoBatches(t *testing.T) {
	repo := newMockJobRepository()
	pub := &mockPublisher{}
	service := newTestJobService(repo, pub, events.NewHub(), nil, 1000)

	upload := strings.NewReader(strings.Join(validHashes(2500), "\n"))
	job, dropped, err := service.CreateJob(context.Background(), upload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if dropped != 0 {
		t.Errorf("expected 0 dropped lines, got %d", dropped)
	}

	if job.TotalHashes != 2500 {
		t.Errorf("expected total_hashes 2500, got %d", job.TotalHashes)
	}
	if job.BatchesExpected != 3 {
		t.Errorf("expected batches_expected 3, got %d", job.BatchesExpected)
	}
	if job.Status != models.StatusRunning {
		t.Errorf("expected status RUNNING, got %s", job.Status)
	}

	if len(pub.published) != 3 {
		t.Fatalf("expected 3 published work units, got %d", len(pub.published))
	}

	sizes := []int{1000, 1000, 500}
	for i, msg := range pub.published {
		if msg.queue != broker.LookupQueue {
			t.Errorf("unit %d published to queue %s", i, msg.queue)
		}
		batch, err := broker.DecodeHashBatch(msg.payload)
		if err != nil {
			t.Fatalf("failed to decode unit %d: %v", i, err)
		}
		if batch.JobID != job.ID {
			t.Errorf("unit %d has job_id %s, want %s", i, batch.JobID, job.ID)
		}
		if batch.BatchIndex != i {
			t.Errorf("unit %d has batch_index %d", i, batch.BatchIndex)
		}
		if len(batch.Hashes) != sizes[i] {
			t.Errorf("unit %d has %d hashes, want %d", i, len(batch.Hashes), sizes[i])
		}
	}
}

func TestJobService_CreateJob_ExactBatchBoundary(t *testing.T) {
	tests := []struct {
		name     string
		hashes   int
		expected int
		lastSize int
	}{
		{"exactly one batch", 10, 1, 10},
		{"one over the boundary", 11, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockJobRepository()
			pub := &mockPublisher{}
			service := newTestJobService(repo, pub, events.NewHub(), nil, 10)

			upload := strings.NewReader(strings.Join(validHashes(tt.hashes), "\n"))
			job, _, err := service.CreateJob(context.Background(), upload)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if job.BatchesExpected != tt.expected {
				t.Errorf("expected %d batches, got %d", tt.expected, job.BatchesExpected)
			}
			if len(pub.published) != tt.expected {
				t.Fatalf("expected %d published units, got %d", tt.expected, len(pub.published))
			}

			last, err := broker.DecodeHashBatch(pub.published[len(pub.published)-1].payload)
			if err != nil {
				t.Fatalf("failed to decode last unit: %v", err)
			}
			if len(last.Hashes) != tt.lastSize {
				t.Errorf("last unit has %d hashes, want %d", len(last.Hashes), tt.lastSize)
			}
		})
	}
}

func TestJobService_CreateJob_FiltersInvalidLines(t *testing.T) {
	repo := newMockJobRepository()
	pub := &mockPublisher{}
	service := newTestJobService(repo, pub, events.NewHub(), nil, 1000)

	upload := strings.NewReader("a1b2c3d4e5f6789012345678901234ab\n" +
		"short\n" +
		"1234567890abcdef1234567890abcdef\n" +
		"\n" +
		"toolonghashtoolonghashtoolonghashtoolong\n" +
		"fedcba0987654321fedcba0987654321")

	job, dropped, err := service.CreateJob(context.Background(), upload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.TotalHashes != 3 {
		t.Errorf("expected total_hashes 3, got %d", job.TotalHashes)
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped lines, got %d", dropped)
	}
	if len(repo.targets[job.ID]) != 3 {
		t.Errorf("expected 3 target rows, got %d", len(repo.targets[job.ID]))
	}
}

func TestJobService_CreateJob_LowercasesFingerprints(t *testing.T) {
	repo := newMockJobRepository()
	pub := &mockPublisher{}
	service := newTestJobService(repo, pub, events.NewHub(), nil, 1000)

	upload := strings.NewReader("A1B2C3D4E5F6789012345678901234AB\n")
	job, _, err := service.CreateJob(context.Background(), upload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := repo.targets[job.ID][0]; got != "a1b2c3d4e5f6789012345678901234ab" {
		t.Errorf("expected lowercase target, got %s", got)
	}
}

func TestJobService_CreateJob_OverlongLineDropped(t *testing.T) {
	repo := newMockJobRepository()
	pub := &mockPublisher{}
	service := newTestJobService(repo, pub, events.NewHub(), nil, 1000)

	// A single multi-megabyte line is one rejected line, not a failed upload.
	upload := strings.NewReader("a1b2c3d4e5f6789012345678901234ab\n" +
		strings.Repeat("f", 2<<20) + "\n" +
		"fedcba0987654321fedcba0987654321\n")

	job, dropped, err := service.CreateJob(context.Background(), upload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.TotalHashes != 2 {
		t.Errorf("expected total_hashes 2, got %d", job.TotalHashes)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped line, got %d", dropped)
	}
	if len(pub.published) != 1 {
		t.Errorf("expected 1 published unit, got %d", len(pub.published))
	}
}

func TestJobService_CreateJob_EmptyUpload(t *testing.T) {
	repo := newMockJobRepository()
	pub := &mockPublisher{}
	hub := events.NewHub()
	service := newTestJobService(repo, pub, hub, nil, 1000)

	job, _, err := service.CreateJob(context.Background(), strings.NewReader(""))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.TotalHashes != 0 {
		t.Errorf("expected total_hashes 0, got %d", job.TotalHashes)
	}
	if job.BatchesExpected != 0 {
		t.Errorf("expected batches_expected 0, got %d", job.BatchesExpected)
	}
	if job.Status != models.StatusCompleted {
		t.Errorf("expected empty job to complete immediately, got %s", job.Status)
	}
	if len(pub.published) != 0 {
		t.Errorf("expected no published units, got %d", len(pub.published))
	}
}

func TestJobService_HandleResultBatch_UnknownJob(t *testing.T) {
	repo := newMockJobRepository()
	service := newTestJobService(repo, &mockPublisher{}, events.NewHub(), nil, 1000)

	err := service.HandleResultBatch(context.Background(), models.ResultBatch{
		JobID:      "no-such-job",
		BatchIndex: 0,
	})
	if err != nil {
		t.Fatalf("expected unknown job to be dropped silently, got %v", err)
	}
	if len(repo.processed) != 0 {
		t.Error("expected no batches to be applied")
	}
}

func TestJobService_HandleResultBatch_DuplicateDelivery(t *testing.T) {
	repo := newMockJobRepository()
	service := newTestJobService(repo, &mockPublisher{}, events.NewHub(), nil, 1000)

	repo.jobs["job-1"] = &models.Job{
		ID:              "job-1",
		Status:          models.StatusRunning,
		TotalHashes:     2000,
		BatchesExpected: 2,
	}

	rb := models.ResultBatch{JobID: "job-1", BatchIndex: 0, Results: []models.ResultItem{
		{HashHex: "a1b2c3d4e5f6789012345678901234ab", Phone: "050-1234567"},
	}}

	if err := service.HandleResultBatch(context.Background(), rb); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := service.HandleResultBatch(context.Background(), rb); err != nil {
		t.Fatalf("expected duplicate to be dropped silently, got %v", err)
	}

	job := repo.jobs["job-1"]
	if job.BatchesCompleted != 1 {
		t.Errorf("expected batches_completed 1 after duplicate, got %d", job.BatchesCompleted)
	}
	if job.FoundCount != 1 {
		t.Errorf("expected found_count 1 after duplicate, got %d", job.FoundCount)
	}
}

func TestJobService_HandleResultBatch_ProgressAndCompletion(t *testing.T) {
	repo := newMockJobRepository()
	hub := events.NewHub()
	archiver := &mockArchiver{}
	service := newTestJobService(repo, &mockPublisher{}, hub, archiver, 1000)

	repo.jobs["job-1"] = &models.Job{
		ID:              "job-1",
		Status:          models.StatusRunning,
		TotalHashes:     1500,
		BatchesExpected: 2,
	}
	repo.rows = []models.ResultRow{
		{HashHex: "a1b2c3d4e5f6789012345678901234ab", Phone: "050-1234567"},
	}

	sub := hub.Subscribe("job-1")

	err := service.HandleResultBatch(context.Background(), models.ResultBatch{
		JobID: "job-1", BatchIndex: 1, Results: []models.ResultItem{
			{HashHex: "a1b2c3d4e5f6789012345678901234ab", Phone: "050-1234567"},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	err = service.HandleResultBatch(context.Background(), models.ResultBatch{
		JobID: "job-1", BatchIndex: 0,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	job := repo.jobs["job-1"]
	if job.Status != models.StatusCompleted {
		t.Errorf("expected status COMPLETED, got %s", job.Status)
	}
	if job.FoundCount != 1 {
		t.Errorf("expected found_count 1, got %d", job.FoundCount)
	}

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 3 {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("stream closed early, events so far: %v", got)
			}
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	if got[0] != events.TypeProgress || got[1] != events.TypeProgress || got[2] != events.TypeCompleted {
		t.Errorf("unexpected event sequence: %v", got)
	}

	// Stream closes after completion.
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("expected stream to close after completion")
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for stream close")
	}

	csv, ok := archiver.archived["job-1"]
	if !ok {
		t.Fatal("expected results to be archived on completion")
	}
	want := "hash,phone\na1b2c3d4e5f6789012345678901234ab,050-1234567\n"
	if string(csv) != want {
		t.Errorf("archived csv = %q, want %q", csv, want)
	}
}

func TestJobService_WriteResultsCSV(t *testing.T) {
	repo := newMockJobRepository()
	repo.rows = []models.ResultRow{
		{HashHex: "1234567890abcdef1234567890abcdef", Phone: "050-7654321"},
		{HashHex: "a1b2c3d4e5f6789012345678901234ab", Phone: "NOT FOUND"},
	}
	service := newTestJobService(repo, &mockPublisher{}, events.NewHub(), nil, 1000)

	var buf bytes.Buffer
	if err := service.WriteResultsCSV(context.Background(), "job-1", &buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	want := "hash,phone\n" +
		"1234567890abcdef1234567890abcdef,050-7654321\n" +
		"a1b2c3d4e5f6789012345678901234ab,NOT FOUND\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
}

func TestJobService_GetJob_NotFound(t *testing.T) {
	service := newTestJobService(newMockJobRepository(), &mockPublisher{}, events.NewHub(), nil, 1000)

	_, err := service.GetJob(context.Background(), "non-existent")
	if err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
