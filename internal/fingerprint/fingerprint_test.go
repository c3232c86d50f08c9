package fingerprint

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/cat-wrangler/internal/faults"
)

func TestSumIsContentAddressed(t *testing.T) {
	const content = "catpic"
	const want = "8eba7377bc37eeda72d298b4ad640696b81656563d4c4a34428de9077e4cd82d"

	got, err := Sum(bytes.NewBufferString(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if SumBytes([]byte(content)) != want {
		t.Fatalf("SumBytes disagrees with Sum for identical content")
	}
}

func TestSumFileMatchesSumBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.jpg")
	payload := []byte("not really a jpeg")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	got, err := SumFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != SumBytes(payload) {
		t.Fatalf("expected %s, got %s", SumBytes(payload), got)
	}

	// Same bytes under a different name yield the same fingerprint.
	other := filepath.Join(dir, "renamed.png")
	if err := os.WriteFile(other, payload, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	again, err := SumFile(other)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != got {
		t.Fatalf("fingerprint changed with filename: %s vs %s", got, again)
	}
}

func TestValidateExtension(t *testing.T) {
	for name, want := range map[string]string{
		"cat.jpg":        "jpg",
		"CAT.JPG":        "jpg",
		"photos/cat.png": "png",
		"cat.jpeg":       "jpeg",
	} {
		got, err := ValidateExtension(name)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s: expected %s, got %s", name, want, got)
		}
	}

	for _, name := range []string{"cat.gif", "cat.txt", "cat", "cat."} {
		if _, err := ValidateExtension(name); err == nil {
			t.Fatalf("%s: expected rejection", name)
		} else if faults.CategoryOf(err) != faults.CategoryValidation {
			t.Fatalf("%s: expected validation fault, got %v", name, err)
		}
	}
}

func TestBuildKeyRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 28, 14, 30, 0, 0, time.UTC)
	parts := NewKeyParts(
		"8eba7377bc37eeda72d298b4ad640696b81656563d4c4a34428de9077e4cd82d",
		"client-9f2a", 1724855400, now, "jpg", false)

	key := BuildKey(parts)
	parsed, err := ParseKey(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != parts {
		t.Fatalf("round trip mismatch:\n built: %+v\nparsed: %+v", parts, parsed)
	}
	if parsed.UploadTS != now.Unix() {
		t.Fatalf("expected upload ts %d, got %d", now.Unix(), parsed.UploadTS)
	}
	if parsed.DateHour != "2026-08-28-14" {
		t.Fatalf("unexpected date segment %s", parsed.DateHour)
	}
}

func TestBuildKeyDebugSuffix(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	parts := NewKeyParts("abc123", "client-1", 42, now, "png", true)

	key := BuildKey(parts)
	parsed, err := ParseKey(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Debug {
		t.Fatalf("expected debug flag to survive round trip, key: %s", key)
	}
	if parsed.Ext != "png" {
		t.Fatalf("expected ext png, got %s", parsed.Ext)
	}
}

func TestParseKeyToleratesLegacyBatchPrefix(t *testing.T) {
	key := "abc123/client-1/batch-1724855400/2026-08-28-14/1787322600.jpg"
	parsed, err := ParseKey(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.BatchID != 1724855400 {
		t.Fatalf("expected batch id 1724855400, got %d", parsed.BatchID)
	}
}

func TestParseKeyRejectsMalformedKeys(t *testing.T) {
	for _, key := range []string{
		"",
		"abc123/client-1/42/2026-08-28-14",
		"abc123/client-1/notanumber/2026-08-28-14/1787322600.jpg",
		"abc123/client-1/42/2026-08-28-14/notanumber.jpg",
		"abc123/client-1/42/2026-08-28-14/1787322600",
		"/client-1/42/2026-08-28-14/1787322600.jpg",
	} {
		_, err := ParseKey(key)
		if err == nil {
			t.Fatalf("expected error for key %q", key)
		}
		var fault *faults.Fault
		if !errors.As(err, &fault) {
			t.Fatalf("expected fault for key %q, got %T", key, err)
		}
		if fault.Category != faults.CategoryIntegrity {
			t.Fatalf("expected integrity fault for key %q, got %s", key, fault.Category)
		}
	}
}
