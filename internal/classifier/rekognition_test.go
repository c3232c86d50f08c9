package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/faults"
)

type fakeRekognition struct {
	labels []rektypes.Label
	err    error
	inputs []*rekognition.DetectLabelsInput
}

func (f *fakeRekognition) DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &rekognition.DetectLabelsOutput{Labels: f.labels}, nil
}

func label(name string, confidence float32) rektypes.Label {
	return rektypes.Label{Name: aws.String(name), Confidence: aws.Float32(confidence)}
}

func TestClassifyMatchesTargetLabel(t *testing.T) {
	fake := &fakeRekognition{labels: []rektypes.Label{
		label("Animal", 99.1),
		label("Cat", 98.2),
		label("Pet", 97.5),
	}}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	result, err := r.Classify(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Match {
		t.Fatal("expected a match")
	}
	if len(result.Labels) != 3 {
		t.Fatalf("expected 3 labels, got %d", len(result.Labels))
	}

	var decoded []Label
	if err := json.Unmarshal([]byte(result.Raw), &decoded); err != nil {
		t.Fatalf("raw response is not JSON: %v", err)
	}
	if decoded[1].Name != "Cat" || decoded[1].Confidence != float64(float32(98.2)) {
		t.Fatalf("unexpected decoded label: %+v", decoded[1])
	}
}

func TestClassifyMatchIsCaseInsensitive(t *testing.T) {
	fake := &fakeRekognition{labels: []rektypes.Label{label("CAT", 80)}}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	result, err := r.Classify(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Match {
		t.Fatal("expected case-insensitive match")
	}
}

func TestClassifyBelowThresholdDoesNotMatch(t *testing.T) {
	fake := &fakeRekognition{labels: []rektypes.Label{label("Cat", 60)}}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	result, err := r.Classify(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Match {
		t.Fatal("expected no match below the confidence threshold")
	}
	if len(result.Labels) != 1 {
		t.Fatalf("expected the label still reported, got %d", len(result.Labels))
	}
}

func TestClassifyNoLabels(t *testing.T) {
	fake := &fakeRekognition{}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	result, err := r.Classify(context.Background(), []byte("image"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Match {
		t.Fatal("expected no match for an empty response")
	}
	if result.Raw != "[]" {
		t.Fatalf("expected empty JSON array, got %q", result.Raw)
	}
}

func TestClassifyRequestShape(t *testing.T) {
	fake := &fakeRekognition{}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	if _, err := r.Classify(context.Background(), []byte("image")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := fake.inputs[0]
	if *input.MaxLabels != 10 {
		t.Fatalf("unexpected max labels: %d", *input.MaxLabels)
	}
	if *input.MinConfidence != 75 {
		t.Fatalf("unexpected min confidence: %f", *input.MinConfidence)
	}
	if string(input.Image.Bytes) != "image" {
		t.Fatal("expected image bytes forwarded verbatim")
	}
}

func TestClassifyErrorIsClassificationFault(t *testing.T) {
	fake := &fakeRekognition{err: errors.New("oracle exploded")}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	_, err := r.Classify(context.Background(), []byte("image"))
	if faults.CategoryOf(err) != faults.CategoryClassification {
		t.Fatalf("expected classification fault, got %v", err)
	}
}

func TestClassifyThrottlingIsTransient(t *testing.T) {
	for _, apiErr := range []error{
		&rektypes.ThrottlingException{Message: aws.String("slow down")},
		&rektypes.ProvisionedThroughputExceededException{Message: aws.String("over budget")},
		&rektypes.InternalServerError{Message: aws.String("oops")},
	} {
		fake := &fakeRekognition{err: apiErr}
		r := NewRekognition(fake, "cat", 75, zap.NewNop())

		_, err := r.Classify(context.Background(), []byte("image"))
		if !faults.IsTransient(err) {
			t.Fatalf("expected %T to surface as transient, got %v", apiErr, err)
		}
	}
}

func TestClassifyRejectionIsNotTransient(t *testing.T) {
	fake := &fakeRekognition{err: &rektypes.InvalidImageFormatException{Message: aws.String("not an image")}}
	r := NewRekognition(fake, "cat", 75, zap.NewNop())

	_, err := r.Classify(context.Background(), []byte("image"))
	if faults.IsTransient(err) {
		t.Fatal("expected an explicit rejection to stay terminal")
	}
	if faults.CategoryOf(err) != faults.CategoryClassification {
		t.Fatalf("expected classification fault, got %v", err)
	}
}
