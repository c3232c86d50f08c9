package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/record"
	"github.com/example/cat-wrangler/internal/store"
)

type stubResultStore struct {
	records  map[string]*record.ImageRecord
	getCalls int
}

func newStubResultStore() *stubResultStore {
	return &stubResultStore{records: make(map[string]*record.ImageRecord)}
}

func (s *stubResultStore) add(rec *record.ImageRecord) {
	s.records[recordKey(rec.BatchID, rec.ImgFprint)] = rec
}

func recordKey(batchID int64, imgFprint string) string {
	return fmt.Sprintf("%d/%s", batchID, imgFprint)
}

func (s *stubResultStore) PutPending(ctx context.Context, rec *record.ImageRecord) error { return nil }

func (s *stubResultStore) UpdateResult(ctx context.Context, batchID int64, imgFprint string, upd store.ResultUpdate) error {
	return nil
}

func (s *stubResultStore) Get(ctx context.Context, batchID int64, imgFprint string) (*record.ImageRecord, error) {
	s.getCalls++
	rec, ok := s.records[recordKey(batchID, imgFprint)]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *stubResultStore) QueryByBatch(ctx context.Context, batchID int64, tr *store.TimeRange) ([]record.ImageRecord, error) {
	return nil, nil
}

func (s *stubResultStore) QueryByClient(ctx context.Context, clientID string, tr *store.TimeRange) ([]record.ImageRecord, error) {
	return nil, nil
}

func (s *stubResultStore) QueryByBatchAndStatus(ctx context.Context, batchID int64, status record.Status) ([]record.ImageRecord, error) {
	return nil, nil
}

func (s *stubResultStore) QueryByCatFlag(ctx context.Context, isCat bool, tr *store.TimeRange) ([]record.ImageRecord, error) {
	return nil, nil
}

type stubResultCache struct {
	values map[string]string
	sets   []string
}

func newStubResultCache() *stubResultCache {
	return &stubResultCache{values: make(map[string]string)}
}

func (s *stubResultCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.sets = append(s.sets, key)
	s.values[key] = value.(string)
	return nil
}

func (s *stubResultCache) Get(ctx context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func successRecord(batchID int64, fprint string) *record.ImageRecord {
	isCat := true
	return &record.ImageRecord{
		BatchID:   batchID,
		ImgFprint: fprint,
		ClientID:  "client-1",
		OpStatus:  record.StatusSuccess,
		IsCat:     &isCat,
		UploadTS:  1756391400,
	}
}

func TestResultCachesTerminalOutcomes(t *testing.T) {
	st := newStubResultStore()
	st.add(successRecord(42, "abc"))
	cache := newStubResultCache()

	svc := NewResultService(st, cache, zap.NewNop())

	first, err := svc.Result(context.Background(), 42, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.OpStatus != record.StatusSuccess {
		t.Fatalf("unexpected status: %s", first.OpStatus)
	}
	if len(cache.sets) != 1 {
		t.Fatalf("expected terminal result cached, got %d sets", len(cache.sets))
	}

	// Second lookup is served from cache.
	second, err := svc.Result(context.Background(), 42, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ImgFprint != "abc" {
		t.Fatalf("unexpected record: %+v", second)
	}
	if st.getCalls != 1 {
		t.Fatalf("expected one store read, got %d", st.getCalls)
	}
}

func TestResultDoesNotCachePending(t *testing.T) {
	st := newStubResultStore()
	st.add(&record.ImageRecord{BatchID: 42, ImgFprint: "abc", OpStatus: record.StatusPending})
	cache := newStubResultCache()

	svc := NewResultService(st, cache, zap.NewNop())
	if _, err := svc.Result(context.Background(), 42, "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cache.sets) != 0 {
		t.Fatal("pending outcomes must not be cached")
	}
}

func TestResultWorksWithoutCache(t *testing.T) {
	st := newStubResultStore()
	st.add(successRecord(42, "abc"))

	svc := NewResultService(st, nil, zap.NewNop())
	rec, err := svc.Result(context.Background(), 42, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.OpStatus != record.StatusSuccess {
		t.Fatalf("unexpected status: %s", rec.OpStatus)
	}
}

func writeSubmissionLog(t *testing.T, entries []record.SubmissionLogEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client-1_batch-42.json")
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("failed to encode log: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	return path
}

func TestBulkResultsAggregatesStatuses(t *testing.T) {
	st := newStubResultStore()
	st.add(successRecord(42, "aaa"))
	st.add(&record.ImageRecord{BatchID: 42, ImgFprint: "bbb", OpStatus: record.StatusPending})
	st.add(&record.ImageRecord{BatchID: 42, ImgFprint: "ccc", OpStatus: record.StatusFail, ErrorDetail: "oracle exploded"})
	// "ddd" has no record at all.

	entries := []record.SubmissionLogEntry{
		{BatchID: 42, ImgFprint: "aaa", OriginalFileName: "a.jpg"},
		{BatchID: 42, ImgFprint: "bbb", OriginalFileName: "b.jpg"},
		{BatchID: 42, ImgFprint: "ccc", OriginalFileName: "c.jpg"},
		{BatchID: 42, ImgFprint: "ddd", OriginalFileName: "d.jpg"},
	}
	path := writeSubmissionLog(t, entries)

	svc := NewResultService(st, nil, zap.NewNop())
	summary, err := svc.BulkResults(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Success != 1 || summary.Pending != 1 || summary.Fail != 1 || summary.Missing != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if len(summary.Records) != 3 {
		t.Fatalf("expected 3 resolved records, got %d", len(summary.Records))
	}
	if summary.Records[0].OriginalFileName != "a.jpg" {
		t.Fatalf("expected original file name filled from the log, got %q",
			summary.Records[0].OriginalFileName)
	}
}

func TestBulkResultsCollectsDebugLogs(t *testing.T) {
	st := newStubResultStore()
	withLogs := successRecord(42, "aaa")
	withLogs.DebugLogs = `["line one","line two"]`
	st.add(withLogs)

	path := writeSubmissionLog(t, []record.SubmissionLogEntry{
		{BatchID: 42, ImgFprint: "aaa", OriginalFileName: "a.jpg"},
	})

	svc := NewResultService(st, nil, zap.NewNop())
	summary, err := svc.BulkResults(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.DebugLogs) != 1 {
		t.Fatalf("expected collected debug logs, got %d", len(summary.DebugLogs))
	}

	debugPath, err := WriteDebugLogs(path, summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(debugPath, "-debug-logs.json") {
		t.Fatalf("unexpected debug log path: %s", debugPath)
	}

	data, err := os.ReadFile(debugPath)
	if err != nil {
		t.Fatalf("failed to read debug logs: %v", err)
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		t.Fatalf("debug log file is not a JSON array: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected flattened lines, got %v", lines)
	}
}

func TestWriteDebugLogsNoopWhenEmpty(t *testing.T) {
	path, err := WriteDebugLogs("logs/client-1_batch-42.json", &BatchSummary{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Fatalf("expected no file written, got %s", path)
	}
}
