// Package worker implements the event-driven state machine that moves an
// uploaded image through pending, success, or fail while calling the
// classification oracle and relocating the object between stores.
//
// Delivery of the triggering event is at-least-once; every step here is
// safe to re-execute for the same key. The state store's conditional
// writes are the only concurrency-control primitive in play.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/classifier"
	"github.com/example/cat-wrangler/internal/faults"
	"github.com/example/cat-wrangler/internal/fingerprint"
	"github.com/example/cat-wrangler/internal/logging"
	"github.com/example/cat-wrangler/internal/record"
	"github.com/example/cat-wrangler/internal/store"
)

// ObjectStore is the slice of object storage the worker needs.
type ObjectStore interface {
	GetBytes(ctx context.Context, bucket, key string) ([]byte, error)
	Move(ctx context.Context, sourceBucket, destBucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	BucketExists(ctx context.Context, bucket string) error
}

// Config holds the worker's bucket topology and tunables.
type Config struct {
	SourceBucket string
	DestBucket   string
	FailBucket   string

	// OracleTimeout bounds a single oracle invocation; expiry routes to
	// the failure path.
	OracleTimeout time.Duration

	// Retention controls the record's ttl attribute relative to upload.
	Retention time.Duration
}

// Handler processes one object-created event per invocation. Invocations
// share no mutable state, so concurrent handling of different keys is safe
// by construction.
type Handler struct {
	store   store.Store
	objects ObjectStore
	oracle  classifier.Client
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler wires the worker's collaborators.
func NewHandler(st store.Store, objects ObjectStore, oracle classifier.Client, cfg Config, logger *zap.Logger) *Handler {
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = record.DefaultRetention
	}
	return &Handler{
		store:   st,
		objects: objects,
		oracle:  oracle,
		cfg:     cfg,
		logger:  logger.Named("worker"),
		now:     time.Now,
	}
}

// ValidateBuckets fails fast when any of the three stores is unreachable.
func (h *Handler) ValidateBuckets(ctx context.Context) error {
	for _, bucket := range []string{h.cfg.SourceBucket, h.cfg.DestBucket, h.cfg.FailBucket} {
		if err := h.objects.BucketExists(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}

// Handle parses a raw trigger notification and processes the object it
// names. A non-nil return means the event must be redelivered.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	key, err := KeyFromEvent(raw)
	if err != nil {
		// Without a parseable key there is no record to anchor a
		// failure to; log loudly and drop.
		h.logger.Error("unusable trigger event", zap.Error(err))
		return nil
	}
	return h.HandleKey(ctx, key)
}

// HandleKey runs the full state machine for one object key.
func (h *Handler) HandleKey(ctx context.Context, key string) error {
	invocationID := uuid.NewString()
	logger := logging.WithOperation(h.logger, "worker.handle_key", invocationID).
		With(zap.String("s3_key", key))

	parts, err := fingerprint.ParseKey(key)
	if err != nil {
		// Malformed keys cannot be recorded either; they carry no
		// (batch_id, img_fprint) to write under.
		logger.Error("malformed object key", zap.Error(err))
		return nil
	}
	logger = logger.With(
		zap.Int64("batch_id", parts.BatchID),
		zap.String("img_fprint", parts.Fingerprint))

	var collector *logging.Collector
	if parts.Debug {
		collector = logging.NewCollector()
		logger = collector.Attach(logger)
		logger.Info("verbose diagnostics requested via key suffix")
	}

	// Durability first: the pending record lands before any external
	// call, so a crash right after the trigger leaves an observable
	// pending row rather than a silently dropped request.
	rec := &record.ImageRecord{
		BatchID:   parts.BatchID,
		ImgFprint: parts.Fingerprint,
		ClientID:  parts.ClientID,
		S3ImgKey:  h.cfg.SourceBucket + "/" + key,
		UploadTS:  parts.UploadTS,
		TTL:       parts.UploadTS + int64(h.cfg.Retention/time.Second),
		OpStatus:  record.StatusPending,
	}
	if err := h.store.PutPending(ctx, rec); err != nil {
		logger.Error("failed to write pending record", zap.Error(err))
		return err
	}
	logger.Info("pending record written")

	imageBytes, err := h.objects.GetBytes(ctx, h.cfg.SourceBucket, key)
	if err != nil {
		if faults.CategoryOf(err) == faults.CategoryIntegrity {
			// A redelivered event for an already relocated object
			// finds the source empty; the record tells us whether
			// that is history or a real loss.
			if existing, getErr := h.store.Get(ctx, parts.BatchID, parts.Fingerprint); getErr == nil && existing.OpStatus.Terminal() {
				logger.Info("object already processed",
					zap.String("op_status", string(existing.OpStatus)))
				return nil
			}
			// An earlier attempt may have died between the move and
			// the final update: the record is still pending but the
			// object already sits at the destination. The move only
			// ever runs after the classification fields landed, so
			// finalizing to success here loses nothing.
			atDest, headErr := h.objects.Exists(ctx, h.cfg.DestBucket, key)
			if headErr != nil {
				logger.Warn("could not check destination store", zap.Error(headErr))
				return headErr
			}
			if atDest {
				return h.finalize(ctx, logger, collector, parts, key)
			}
			return h.fail(ctx, logger, collector, parts, key, err)
		}
		logger.Warn("transient fetch failure, leaving record pending", zap.Error(err))
		return err
	}

	oracleCtx, cancel := context.WithTimeout(ctx, h.cfg.OracleTimeout)
	result, err := h.oracle.Classify(oracleCtx, imageBytes)
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(oracleCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		// Expiry of the bounded call is a terminal outcome; throttling
		// and server-side oracle trouble are not.
		if faults.IsTransient(err) && !timedOut {
			logger.Warn("transient oracle failure, leaving record pending", zap.Error(err))
			return err
		}
		return h.fail(ctx, logger, collector, parts, key, err)
	}
	logger.Info("oracle responded", zap.Bool("match", result.Match))

	classifyTS := h.now().Unix()
	isCat := result.Match
	if err := h.store.UpdateResult(ctx, parts.BatchID, parts.Fingerprint, store.ResultUpdate{
		ClassificationResponse: &result.Raw,
		IsCat:                  &isCat,
		ClassifyTS:             &classifyTS,
	}); err != nil {
		if faults.IsTransient(err) {
			return err
		}
		return h.fail(ctx, logger, collector, parts, key, err)
	}

	if err := h.objects.Move(ctx, h.cfg.SourceBucket, h.cfg.DestBucket, key); err != nil {
		if faults.IsTransient(err) {
			return err
		}
		return h.fail(ctx, logger, collector, parts, key, err)
	}

	if err := h.finalize(ctx, logger, collector, parts, key); err != nil {
		return err
	}

	logger.Info("image processed", zap.Bool("is_cat", isCat))
	return nil
}

// finalize marks the record successful and points it at the destination
// store. Shared by the main path and the recovery path that detects an
// earlier completed move.
func (h *Handler) finalize(ctx context.Context, logger *zap.Logger, collector *logging.Collector, parts fingerprint.KeyParts, key string) error {
	status := record.StatusSuccess
	destKey := h.cfg.DestBucket + "/" + key
	final := store.ResultUpdate{OpStatus: &status, S3ImgKey: &destKey}
	attachDebugLogs(&final, collector, logger)
	if err := h.store.UpdateResult(ctx, parts.BatchID, parts.Fingerprint, final); err != nil {
		logger.Error("failed to finalize record", zap.Error(err))
		return err
	}
	return nil
}

// fail records a terminal failure and relocates the object to the failure
// store when it is still around. Returning nil lets the event be committed:
// the outcome is durably recorded.
func (h *Handler) fail(ctx context.Context, logger *zap.Logger, collector *logging.Collector, parts fingerprint.KeyParts, key string, cause error) error {
	logger.Error("processing failed", zap.Error(cause))

	failKey := h.cfg.SourceBucket + "/" + key
	if err := h.objects.Move(ctx, h.cfg.SourceBucket, h.cfg.FailBucket, key); err != nil {
		logger.Warn("could not relocate object to failure store", zap.Error(err))
	} else {
		failKey = h.cfg.FailBucket + "/" + key
	}

	status := record.StatusFail
	detail := cause.Error()
	upd := store.ResultUpdate{OpStatus: &status, ErrorDetail: &detail, S3ImgKey: &failKey}
	attachDebugLogs(&upd, collector, logger)

	if err := h.store.UpdateResult(ctx, parts.BatchID, parts.Fingerprint, upd); err != nil {
		logger.Error("failed to record failure", zap.Error(err))
		return err
	}
	return nil
}

func attachDebugLogs(upd *store.ResultUpdate, collector *logging.Collector, logger *zap.Logger) {
	if collector == nil {
		return
	}
	logs, err := collector.JSON()
	if err != nil {
		logger.Warn("failed to serialize debug logs", zap.Error(err))
		return
	}
	upd.DebugLogs = &logs
}
