package models

// HashBatch is one work unit: an ordered slice of hex fingerprints belonging
// to a single job, dispatched to the lookup queue.
type HashBatch struct {
	JobID      string   `json:"jobId"`
	BatchIndex int      `json:"batchIndex"`
	Hashes     []string `json:"hashes"`
}

// ResultItem is a single recovered match.
type ResultItem struct {
	HashHex string `json:"hashHex"`
	Phone   string `json:"phone"`
}

// ResultBatch is the envelope a worker publishes after fully processing a
// work unit. Results holds only the hashes that matched; it may be empty.
type ResultBatch struct {
	JobID      string       `json:"jobId"`
	BatchIndex int          `json:"batchIndex"`
	Results    []ResultItem `json:"results"`
}
