// Package classifier abstracts the external image classification oracle.
package classifier

import "context"

// Label is one entry of the oracle's ordered response.
type Label struct {
	Name       string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Result contains the outcome of one oracle invocation.
type Result struct {
	// Labels is the oracle's response, ordered by confidence descending.
	Labels []Label
	// Raw is the serialized response, stored verbatim on the record.
	Raw string
	// Match reports whether the target label was detected at or above
	// the configured confidence threshold.
	Match bool
}

// Client exposes the subset of oracle functionality the worker uses.
type Client interface {
	Classify(ctx context.Context, imageBytes []byte) (*Result, error)
}
