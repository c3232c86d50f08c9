// Package store persists image records and serves the query surface over
// them. The only concurrency-control primitive is the conditional write:
// records are created only if absent and updated only if present.
package store

import (
	"context"
	"errors"

	"github.com/example/cat-wrangler/internal/record"
)

// ErrNotFound is returned by point lookups and conditional updates when no
// record exists for the requested key.
var ErrNotFound = errors.New("record not found")

// TimeRange bounds a query on upload_ts (inclusive, epoch seconds).
type TimeRange struct {
	From int64
	To   int64
}

// ResultUpdate names the fields the worker may mutate after creation. Nil
// pointers leave the stored attribute untouched.
type ResultUpdate struct {
	OpStatus               *record.Status
	ClassificationResponse *string
	IsCat                  *bool
	ClassifyTS             *int64
	S3ImgKey               *string
	ErrorDetail            *string
	DebugLogs              *string
}

// Empty reports whether the update would touch nothing.
func (u ResultUpdate) Empty() bool {
	return u.OpStatus == nil && u.ClassificationResponse == nil && u.IsCat == nil &&
		u.ClassifyTS == nil && u.S3ImgKey == nil && u.ErrorDetail == nil && u.DebugLogs == nil
}

// Store is the durable state store contract.
type Store interface {
	// PutPending creates the record only if absent. When a record for
	// (batch_id, img_fprint) already exists it is left intact and no
	// error is returned, which is what makes event redelivery safe.
	PutPending(ctx context.Context, rec *record.ImageRecord) error

	// UpdateResult mutates an existing record; ErrNotFound if absent.
	UpdateResult(ctx context.Context, batchID int64, imgFprint string, upd ResultUpdate) error

	// Get is a strongly consistent point lookup.
	Get(ctx context.Context, batchID int64, imgFprint string) (*record.ImageRecord, error)

	QueryByBatch(ctx context.Context, batchID int64, tr *TimeRange) ([]record.ImageRecord, error)
	QueryByClient(ctx context.Context, clientID string, tr *TimeRange) ([]record.ImageRecord, error)
	QueryByBatchAndStatus(ctx context.Context, batchID int64, status record.Status) ([]record.ImageRecord, error)
	QueryByCatFlag(ctx context.Context, isCat bool, tr *TimeRange) ([]record.ImageRecord, error)
}
