package client

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/fingerprint"
	"github.com/example/cat-wrangler/internal/record"
)

// UploadObjectStore is the slice of object storage the uploader needs.
type UploadObjectStore interface {
	UploadFile(ctx context.Context, bucket, key, path string) error
	BucketExists(ctx context.Context, bucket string) error
}

// BulkResult is the aggregate outcome of one submission run. A single
// file's failure never fails the batch as a whole; every walked image file
// appears in exactly one of the two lists.
type BulkResult struct {
	BatchID   int64
	LogPath   string
	Succeeded []string
	Failed    []string
}

// BulkUploader walks a local directory, uploads each image to the source
// store under a content-addressed key, and appends one submission log entry
// per uploaded file. Transfers run on a bounded pool; log appends are
// funneled through a single consumer so entries never interleave.
type BulkUploader struct {
	objects     UploadObjectStore
	bucket      string
	clientID    string
	concurrency int
	debug       bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewBulkUploader wires an uploader for one client.
func NewBulkUploader(objects UploadObjectStore, bucket, clientID string, concurrency int, debug bool, logger *zap.Logger) *BulkUploader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BulkUploader{
		objects:     objects,
		bucket:      bucket,
		clientID:    clientID,
		concurrency: concurrency,
		debug:       debug,
		logger:      logger.Named("uploader"),
		now:         time.Now,
	}
}

type uploadOutcome struct {
	path  string
	entry *record.SubmissionLogEntry
	err   error
}

// Run uploads every supported image under folder, persisting the submission
// log incrementally under logsDir. Cancelling ctx stops issuing new uploads;
// already uploaded objects continue server-side regardless.
func (u *BulkUploader) Run(ctx context.Context, folder, logsDir string) (*BulkResult, error) {
	if err := u.objects.BucketExists(ctx, u.bucket); err != nil {
		return nil, err
	}

	files, err := u.collectImageFiles(folder)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no supported images found under %s", folder)
	}

	batchID := u.now().Unix()
	batchLog := NewBatchLog(BatchLogPath(logsDir, u.clientID, batchID))

	jobs := make(chan string)
	outcomes := make(chan uploadOutcome)

	var wg sync.WaitGroup
	for i := 0; i < u.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				entry, err := u.uploadOne(ctx, path, batchID)
				outcomes <- uploadOutcome{path: path, entry: entry, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range files {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	result := &BulkResult{BatchID: batchID, LogPath: batchLog.Path()}
	for outcome := range outcomes {
		if outcome.err != nil {
			u.logger.Warn("upload failed",
				zap.String("file", outcome.path), zap.Error(outcome.err))
			result.Failed = append(result.Failed, outcome.path)
			continue
		}
		if err := batchLog.Append(*outcome.entry); err != nil {
			u.logger.Error("failed to persist submission log entry",
				zap.String("file", outcome.path), zap.Error(err))
			result.Failed = append(result.Failed, outcome.path)
			continue
		}
		result.Succeeded = append(result.Succeeded, outcome.path)
	}

	sort.Strings(result.Succeeded)
	sort.Strings(result.Failed)

	u.logger.Info("bulk upload finished",
		zap.Int64("batch_id", batchID),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.String("log", batchLog.Path()))
	return result, nil
}

func (u *BulkUploader) uploadOne(ctx context.Context, path string, batchID int64) (*record.SubmissionLogEntry, error) {
	ext, err := fingerprint.ValidateExtension(path)
	if err != nil {
		return nil, err
	}
	fprint, err := fingerprint.SumFile(path)
	if err != nil {
		return nil, err
	}

	parts := fingerprint.NewKeyParts(fprint, u.clientID, batchID, u.now(), ext, u.debug)
	key := fingerprint.BuildKey(parts)

	if err := u.objects.UploadFile(ctx, u.bucket, key, path); err != nil {
		return nil, err
	}

	return &record.SubmissionLogEntry{
		ClientID:         u.clientID,
		BatchID:          batchID,
		S3BucketSource:   u.bucket,
		S3Key:            key,
		OriginalFileName: filepath.Base(path),
		UploadTime:       parts.DateHour,
		ImgFprint:        fprint,
		EpochTimestamp:   parts.UploadTS,
	}, nil
}

func (u *BulkUploader) collectImageFiles(folder string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, extErr := fingerprint.ValidateExtension(path); extErr != nil {
			u.logger.Debug("skipping non-image file", zap.String("file", path))
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", folder, err)
	}
	sort.Strings(files)
	return files, nil
}
