package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/faults"
)

const maxLabels = 10

// RekognitionAPI is the subset of the Rekognition client used here.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// Rekognition classifies images with the DetectLabels API.
type Rekognition struct {
	api           RekognitionAPI
	targetLabel   string
	minConfidence float64
	logger        *zap.Logger
}

// NewRekognition returns an oracle matching targetLabel at or above
// minConfidence percent.
func NewRekognition(api RekognitionAPI, targetLabel string, minConfidence float64, logger *zap.Logger) *Rekognition {
	return &Rekognition{
		api:           api,
		targetLabel:   targetLabel,
		minConfidence: minConfidence,
		logger:        logger.Named("classifier"),
	}
}

var _ Client = (*Rekognition)(nil)

// Classify submits imageBytes and derives the match flag from the response.
func (r *Rekognition) Classify(ctx context.Context, imageBytes []byte) (*Result, error) {
	const op = "classifier.detect_labels"

	out, err := r.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &rektypes.Image{Bytes: imageBytes},
		MaxLabels:     aws.Int32(maxLabels),
		MinConfidence: aws.Float32(float32(r.minConfidence)),
	})
	if err != nil {
		if isRetryable(err) {
			return nil, faults.Transient(op, err)
		}
		return nil, faults.Classification(op, err)
	}

	labels := make([]Label, 0, len(out.Labels))
	match := false
	for _, l := range out.Labels {
		label := Label{
			Name:       aws.ToString(l.Name),
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		}
		labels = append(labels, label)
		if strings.EqualFold(label.Name, r.targetLabel) && label.Confidence >= r.minConfidence {
			match = true
		}
	}

	raw, err := json.Marshal(labels)
	if err != nil {
		return nil, faults.Classification(op, err)
	}

	r.logger.Info("classified image",
		zap.Int("labels", len(labels)),
		zap.Bool("match", match))

	return &Result{Labels: labels, Raw: string(raw), Match: match}, nil
}

// isRetryable separates throttling and server-side failures, which a later
// redelivery can resolve, from explicit oracle rejections, which cannot.
func isRetryable(err error) bool {
	var throttled *rektypes.ThrottlingException
	var exceeded *rektypes.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) || errors.As(err, &exceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer {
		return true
	}
	return false
}
