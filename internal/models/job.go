package models

import "time"

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
)

// Job represents a reverse-lookup job in the system
type Job struct {
	ID               string    `json:"jobId"`
	CreatedAt        time.Time `json:"createdAt"`
	Status           JobStatus `json:"status"`
	TotalHashes      int       `json:"totalHashes"`
	BatchesExpected  int       `json:"batchesExpected"`
	BatchesCompleted int       `json:"batchesCompleted"`
	FoundCount       int       `json:"foundCount"`
}

// Progress is the aggregator's view of a job after applying one result batch.
type Progress struct {
	BatchesCompleted int `json:"batchesCompleted"`
	BatchesExpected  int `json:"batchesExpected"`
	FoundCount       int `json:"foundCount"`
}

// ResultRow is one line of the downloadable results artifact: a requested
// hash and its recovered phone number, or "NOT FOUND".
type ResultRow struct {
	HashHex string
	Phone   string
}
