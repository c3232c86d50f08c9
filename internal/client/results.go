package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/record"
	"github.com/example/cat-wrangler/internal/store"
)

const defaultCacheTTL = 5 * time.Minute

// ResultService resolves processing outcomes for earlier submissions.
// Because processing is asynchronous, a lookup legitimately returns a
// pending record at any time after submission; only terminal outcomes are
// cached.
type ResultService struct {
	store    store.Store
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewResultService wires the query surface. cache may be nil.
func NewResultService(st store.Store, cache Cache, logger *zap.Logger) *ResultService {
	return &ResultService{
		store:    st,
		cache:    cache,
		cacheTTL: defaultCacheTTL,
		logger:   logger.Named("results"),
	}
}

// Result performs one point lookup by (batch_id, img_fprint).
func (s *ResultService) Result(ctx context.Context, batchID int64, imgFprint string) (*record.ImageRecord, error) {
	cacheKey := fmt.Sprintf("result:%d:%s", batchID, imgFprint)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			rec := &record.ImageRecord{}
			if decodeErr := json.Unmarshal([]byte(cached), rec); decodeErr == nil {
				return rec, nil
			}
			s.logger.Warn("failed to decode cached result", zap.String("key", cacheKey))
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read cache", zap.Error(err))
		}
	}

	rec, err := s.store.Get(ctx, batchID, imgFprint)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && rec.OpStatus.Terminal() {
		if data, encodeErr := json.Marshal(rec); encodeErr == nil {
			if err := s.cache.Set(ctx, cacheKey, string(data), s.cacheTTL); err != nil {
				s.logger.Warn("failed to cache result", zap.Error(err))
			}
		}
	}
	return rec, nil
}

// BatchSummary aggregates one replay of a submission log.
type BatchSummary struct {
	Pending int
	Success int
	Fail    int
	Missing int

	// Records holds every resolved record, in submission-log order.
	Records []record.ImageRecord

	// DebugLogs collects the debug_logs attributes found on records
	// whose uploads requested verbose diagnostics.
	DebugLogs []string
}

// BulkResults replays an entire submission log, issuing one point lookup
// per entry. A missing record (for example, already expired via TTL, or an
// upload whose trigger never fired) is counted, never fatal.
func (s *ResultService) BulkResults(ctx context.Context, logPath string) (*BatchSummary, error) {
	entries, err := ReadBatchLog(logPath)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{}
	for _, entry := range entries {
		rec, err := s.Result(ctx, entry.BatchID, entry.ImgFprint)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("no record for submission log entry",
					zap.Int64("batch_id", entry.BatchID),
					zap.String("img_fprint", entry.ImgFprint))
				summary.Missing++
				continue
			}
			return nil, err
		}

		// The client's log knows the original file name; the worker
		// never sees it.
		if rec.OriginalFileName == "" {
			rec.OriginalFileName = entry.OriginalFileName
		}

		switch rec.OpStatus {
		case record.StatusSuccess:
			summary.Success++
		case record.StatusFail:
			summary.Fail++
		default:
			summary.Pending++
		}
		if rec.DebugLogs != "" {
			summary.DebugLogs = append(summary.DebugLogs, rec.DebugLogs)
		}
		summary.Records = append(summary.Records, *rec)
	}
	return summary, nil
}

// WriteDebugLogs persists the collected debug logs next to the submission
// log, mirroring its name.
func WriteDebugLogs(logPath string, summary *BatchSummary) (string, error) {
	if len(summary.DebugLogs) == 0 {
		return "", nil
	}

	// Each element is itself a JSON array of log lines; flatten them.
	var lines []string
	for _, blob := range summary.DebugLogs {
		var chunk []string
		if err := json.Unmarshal([]byte(blob), &chunk); err != nil {
			lines = append(lines, blob)
			continue
		}
		lines = append(lines, chunk...)
	}

	data, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return "", err
	}

	debugPath := strings.TrimSuffix(logPath, ".json") + "-debug-logs.json"
	if err := os.WriteFile(debugPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write debug logs %s: %w", debugPath, err)
	}
	return debugPath, nil
}
