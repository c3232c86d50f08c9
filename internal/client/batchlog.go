package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/example/cat-wrangler/internal/record"
)

// BatchLog is the run-scoped local submission log: a JSON array of entries,
// rewritten to disk on every append so a crash mid-run loses at most the
// entry being written. Appends are serialized by a mutex; the uploader
// funnels all appends through a single goroutine anyway.
type BatchLog struct {
	path    string
	mu      sync.Mutex
	entries []record.SubmissionLogEntry
}

// BatchLogPath places a run's log under dir, named by client and batch.
func BatchLogPath(dir, clientID string, batchID int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s_batch-%d.json", clientID, batchID))
}

// NewBatchLog creates an empty log that will persist to path.
func NewBatchLog(path string) *BatchLog {
	return &BatchLog{path: path}
}

// Append records one entry and persists the whole log.
func (b *BatchLog) Append(entry record.SubmissionLogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	return b.persistLocked()
}

// Entries returns a copy of the appended entries.
func (b *BatchLog) Entries() []record.SubmissionLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]record.SubmissionLogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the number of appended entries.
func (b *BatchLog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Path returns the log's on-disk location.
func (b *BatchLog) Path() string { return b.path }

func (b *BatchLog) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	data, err := json.Marshal(b.entries)
	if err != nil {
		return fmt.Errorf("encode submission log: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("write submission log %s: %w", b.path, err)
	}
	return nil
}

// ReadBatchLog loads a previously written submission log.
func ReadBatchLog(path string) ([]record.SubmissionLogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read submission log %s: %w", path, err)
	}
	var entries []record.SubmissionLogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode submission log %s: %w", path, err)
	}
	return entries, nil
}
