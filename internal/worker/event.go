package worker

import (
	"encoding/json"
	"errors"
	"net/url"

	"github.com/example/cat-wrangler/internal/faults"
)

// s3Event is the object-created notification shape delivered on the trigger
// topic. Only the first record's object key is consumed.
type s3Event struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// KeyFromEvent extracts the object key from a raw notification payload.
// Keys arrive URL-encoded.
func KeyFromEvent(raw []byte) (string, error) {
	const op = "worker.key_from_event"

	var event s3Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return "", faults.Integrity(op, err)
	}
	if len(event.Records) == 0 {
		return "", faults.Integrity(op, errors.New("event carries no records"))
	}

	key := event.Records[0].S3.Object.Key
	if key == "" {
		return "", faults.Integrity(op, errors.New("event record has no object key"))
	}

	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", faults.Integrity(op, err)
	}
	return decoded, nil
}
