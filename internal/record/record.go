// Package record defines the durable data model shared by the worker,
// the state store, and the submission client.
package record

import "time"

// Status is the processing state of an image record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFail:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFail
}

// DefaultRetention is how long a record survives after upload before the
// store's TTL mechanism expires it.
const DefaultRetention = 14 * 24 * time.Hour

// ImageRecord is one row per (batch, image). The worker creates it in
// pending state before any oracle call and is the exclusive mutator of
// op_status, classification_response, is_cat, classify_ts, and s3img_key
// after creation.
type ImageRecord struct {
	BatchID   int64  `dynamodbav:"batch_id" json:"batch_id"`
	ImgFprint string `dynamodbav:"img_fprint" json:"img_fprint"`

	ClientID         string `dynamodbav:"client_id" json:"client_id"`
	S3ImgKey         string `dynamodbav:"s3img_key" json:"s3img_key"`
	OriginalFileName string `dynamodbav:"original_file_name,omitempty" json:"original_file_name,omitempty"`

	UploadTS   int64 `dynamodbav:"upload_ts" json:"upload_ts"`
	ClassifyTS int64 `dynamodbav:"classify_ts,omitempty" json:"classify_ts,omitempty"`
	TTL        int64 `dynamodbav:"ttl" json:"ttl"`

	OpStatus               Status `dynamodbav:"op_status" json:"op_status"`
	ClassificationResponse string `dynamodbav:"classification_response,omitempty" json:"classification_response,omitempty"`
	IsCat                  *bool  `dynamodbav:"is_cat,omitempty" json:"is_cat,omitempty"`
	ErrorDetail            string `dynamodbav:"error_detail,omitempty" json:"error_detail,omitempty"`

	// DebugLogs is a sparse attribute, present only when the uploader
	// requested verbose diagnostics via the -debug key suffix.
	DebugLogs string `dynamodbav:"debug_logs,omitempty" json:"debug_logs,omitempty"`
}

// SubmissionLogEntry is one line of the client-local, append-only log for a
// single run. It is never persisted server-side; replaying the log is the
// sole mechanism for reconstructing query keys later.
type SubmissionLogEntry struct {
	ClientID         string `json:"client_id"`
	BatchID          int64  `json:"batch_id"`
	S3BucketSource   string `json:"s3bucket_source"`
	S3Key            string `json:"s3_key"`
	OriginalFileName string `json:"original_file_name"`
	UploadTime       string `json:"upload_time"`
	ImgFprint        string `json:"img_fprint"`
	EpochTimestamp   int64  `json:"epoch_timestamp"`
}
