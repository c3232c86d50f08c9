package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/cat-wrangler/internal/record"
)

func testEntry(fprint string) record.SubmissionLogEntry {
	return record.SubmissionLogEntry{
		ClientID:         "client-1",
		BatchID:          1724855400,
		S3BucketSource:   "source",
		S3Key:            fprint + "/client-1/1724855400/2026-08-28-14/1756391400.jpg",
		OriginalFileName: "cat.jpg",
		UploadTime:       "2026-08-28-14",
		ImgFprint:        fprint,
		EpochTimestamp:   1756391400,
	}
}

func TestBatchLogPathNaming(t *testing.T) {
	path := BatchLogPath("logs", "client-1", 1724855400)
	want := filepath.Join("logs", "client-1_batch-1724855400.json")
	if path != want {
		t.Fatalf("expected %s, got %s", want, path)
	}
}

func TestBatchLogPersistsEveryAppend(t *testing.T) {
	path := BatchLogPath(t.TempDir(), "client-1", 42)
	log := NewBatchLog(path)

	if err := log.Append(testEntry("abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The log is durable after the first append, not only at run end.
	onDisk, err := ReadBatchLog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onDisk) != 1 {
		t.Fatalf("expected 1 entry on disk, got %d", len(onDisk))
	}

	if err := log.Append(testEntry("def")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	onDisk, err = ReadBatchLog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(onDisk) != 2 {
		t.Fatalf("expected 2 entries on disk, got %d", len(onDisk))
	}
	if onDisk[1].ImgFprint != "def" {
		t.Fatalf("unexpected second entry: %+v", onDisk[1])
	}
	if log.Len() != 2 {
		t.Fatalf("expected in-memory length 2, got %d", log.Len())
	}
}

func TestBatchLogCreatesMissingDirectory(t *testing.T) {
	path := BatchLogPath(filepath.Join(t.TempDir(), "nested", "logs"), "client-1", 42)
	log := NewBatchLog(path)

	if err := log.Append(testEntry("abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestReadBatchLogRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := ReadBatchLog(path); err == nil {
		t.Fatal("expected decode error")
	}
}
