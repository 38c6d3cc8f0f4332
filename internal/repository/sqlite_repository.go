package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"md5cracker/internal/models"
)

// insertChunkSize bounds multi-row inserts so they stay under SQLite's
// bound-variable limit (SQLITE_MAX_VARIABLE_NUMBER, 32766 by default).
const insertChunkSize = 500

// SQLiteRepository implements JobRepository and MappingRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database and initializes the schema
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; serializing all access through one
	// connection avoids SQLITE_BUSY under the aggregator consumer pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initSchema initializes the database schema. The mapping table is populated
// by the offline loader; everything else belongs to the job pipeline.
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'RUNNING',
		total_hashes INTEGER NOT NULL,
		batches_expected INTEGER NOT NULL,
		batches_completed INTEGER NOT NULL DEFAULT 0,
		found_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

	CREATE TABLE IF NOT EXISTS targets (
		job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		hash_hex TEXT NOT NULL,
		PRIMARY KEY (job_id, hash_hex)
	);

	CREATE TABLE IF NOT EXISTS results (
		job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		hash_hex TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		found_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, hash_hex)
	);

	CREATE TABLE IF NOT EXISTS processed_batches (
		job_id TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		batch_index INTEGER NOT NULL,
		PRIMARY KEY (job_id, batch_index)
	);

	CREATE TABLE IF NOT EXISTS md5_phone_map_bin (
		md5_hash BLOB PRIMARY KEY,
		phone_number TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_map_phone ON md5_phone_map_bin(phone_number);
	`

	_, err := r.db.Exec(schema)
	return err
}

// CreateJob persists the job row and all target rows in one transaction.
// The job row goes first to satisfy the foreign key on targets.
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.Job, targets []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (job_id, created_at, status, total_hashes, batches_expected, batches_completed, found_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.CreatedAt.UnixNano(),
		job.Status,
		job.TotalHashes,
		job.BatchesExpected,
		job.BatchesCompleted,
		job.FoundCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	// SQLite caps bound variables per statement, so large target sets are
	// inserted in chunks. The transaction keeps the job and all of its
	// targets atomic regardless of chunk count.
	for start := 0; start < len(targets); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(targets) {
			end = len(targets)
		}
		chunk := targets[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO targets (job_id, hash_hex) VALUES ")
		args := make([]interface{}, 0, len(chunk)*2)
		for i, hash := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?)")
			args = append(args, job.ID, hash)
		}
		sb.WriteString(" ON CONFLICT (job_id, hash_hex) DO NOTHING")

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to insert targets: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetJobByID retrieves a job by ID
func (r *SQLiteRepository) GetJobByID(ctx context.Context, id string) (*models.Job, error) {
	query := `
		SELECT job_id, created_at, status, total_hashes, batches_expected, batches_completed, found_count
		FROM jobs
		WHERE job_id = ?
	`

	var job models.Job
	var createdAt int64

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID,
		&createdAt,
		&job.Status,
		&job.TotalHashes,
		&job.BatchesExpected,
		&job.BatchesCompleted,
		&job.FoundCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.CreatedAt = time.Unix(0, createdAt)
	return &job, nil
}

// ListCompletedJobs retrieves all completed jobs, newest first
func (r *SQLiteRepository) ListCompletedJobs(ctx context.Context) ([]*models.Job, error) {
	query := `
		SELECT job_id, created_at, status, total_hashes, batches_expected, batches_completed, found_count
		FROM jobs
		WHERE status = 'COMPLETED'
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var job models.Job
		var createdAt int64

		if err := rows.Scan(
			&job.ID,
			&createdAt,
			&job.Status,
			&job.TotalHashes,
			&job.BatchesExpected,
			&job.BatchesCompleted,
			&job.FoundCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}

		job.CreatedAt = time.Unix(0, createdAt)
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

// ApplyResultBatch records one processed batch and advances the job counters
// inside a single transaction. The processed_batches primary key makes the
// whole operation a no-op under broker redelivery, and the conditional
// completion update fires exactly once when the last batch lands.
func (r *SQLiteRepository) ApplyResultBatch(ctx context.Context, jobID string, batchIndex, foundCount int) (*models.Progress, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_batches (job_id, batch_index) VALUES (?, ?)
		ON CONFLICT (job_id, batch_index) DO NOTHING
	`, jobID, batchIndex)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record processed batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, ErrBatchAlreadyProcessed
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET batches_completed = batches_completed + 1,
		    found_count = found_count + ?
		WHERE job_id = ? AND status = 'RUNNING'
	`, foundCount, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update job progress: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, ErrJobNotRunning
	}

	var progress models.Progress
	err = tx.QueryRowContext(ctx, `
		SELECT batches_completed, batches_expected, found_count
		FROM jobs
		WHERE job_id = ?
	`, jobID).Scan(&progress.BatchesCompleted, &progress.BatchesExpected, &progress.FoundCount)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read job progress: %w", err)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'COMPLETED'
		WHERE job_id = ? AND status = 'RUNNING' AND batches_completed >= batches_expected
	`, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark job complete: %w", err)
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &progress, affected == 1, nil
}

// ListResultRows returns one row per target with the recovered phone number,
// or "NOT FOUND" when the mapping had no entry, ordered by hash ascending.
func (r *SQLiteRepository) ListResultRows(ctx context.Context, jobID string) ([]models.ResultRow, error) {
	query := `
		SELECT t.hash_hex, COALESCE(res.phone_number, 'NOT FOUND') AS phone
		FROM targets t
		LEFT JOIN results res ON res.job_id = t.job_id AND res.hash_hex = t.hash_hex
		WHERE t.job_id = ?
		ORDER BY t.hash_hex ASC
	`

	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query result rows: %w", err)
	}
	defer rows.Close()

	var out []models.ResultRow
	for rows.Next() {
		var row models.ResultRow
		if err := rows.Scan(&row.HashHex, &row.Phone); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}

	return out, nil
}

// LookupHashes resolves a batch of hex fingerprints against the mapping table
// in a single indexed query. Fingerprints are decoded to their 16-byte binary
// form so the primary key index is used directly.
func (r *SQLiteRepository) LookupHashes(ctx context.Context, hashesHex []string) (map[string]string, error) {
	if len(hashesHex) == 0 {
		return map[string]string{}, nil
	}

	placeholders := make([]string, 0, len(hashesHex))
	args := make([]interface{}, 0, len(hashesHex))
	for _, h := range hashesHex {
		raw, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid hash %q: %w", h, err)
		}
		placeholders = append(placeholders, "?")
		args = append(args, raw)
	}

	query := fmt.Sprintf(`
		SELECT lower(hex(md5_hash)) AS md5_hex, phone_number
		FROM md5_phone_map_bin
		WHERE md5_hash IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping: %w", err)
	}
	defer rows.Close()

	found := make(map[string]string)
	for rows.Next() {
		var hashHex, phone string
		if err := rows.Scan(&hashHex, &phone); err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		found[hashHex] = phone
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mapping rows: %w", err)
	}

	return found, nil
}

// InsertResults stores discovered matches, ignoring duplicates so a replayed
// work unit leaves the relation unchanged.
func (r *SQLiteRepository) InsertResults(ctx context.Context, jobID string, items []models.ResultItem) error {
	now := time.Now().UnixNano()
	for start := 0; start < len(items); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO results (job_id, hash_hex, phone_number, found_at) VALUES ")
		args := make([]interface{}, 0, len(chunk)*4)
		for i, item := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?)")
			args = append(args, jobID, item.HashHex, item.Phone, now)
		}
		sb.WriteString(" ON CONFLICT (job_id, hash_hex) DO NOTHING")

		if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to insert results: %w", err)
		}
	}

	return nil
}
