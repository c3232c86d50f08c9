// The worker consumes object-created notifications and runs each image
// through the classification state machine.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/classifier"
	"github.com/example/cat-wrangler/internal/config"
	"github.com/example/cat-wrangler/internal/logging"
	"github.com/example/cat-wrangler/internal/objectstore"
	"github.com/example/cat-wrangler/internal/store"
	"github.com/example/cat-wrangler/internal/worker"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(getEnv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.Worker.Validate(); err != nil {
		logger.Fatal("invalid worker config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Worker.Region))
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}

	objects := objectstore.NewFromAPI(s3.NewFromConfig(awsCfg), logger)
	stateStore := store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Worker.TableName, logger)
	oracle := classifier.NewRekognition(
		rekognition.NewFromConfig(awsCfg),
		cfg.Worker.TargetLabel,
		cfg.Worker.MinConfidence,
		logger,
	)

	handler := worker.NewHandler(stateStore, objects, oracle, worker.Config{
		SourceBucket:  cfg.Worker.SourceBucket,
		DestBucket:    cfg.Worker.DestBucket,
		FailBucket:    cfg.Worker.FailBucket,
		OracleTimeout: cfg.Worker.OracleTimeout(),
		Retention:     cfg.Worker.Retention(),
	}, logger)

	validateCtx, validateCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := handler.ValidateBuckets(validateCtx); err != nil {
		validateCancel()
		logger.Fatal("bucket validation failed", zap.Error(err))
	}
	validateCancel()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Worker.KafkaBrokers,
		Topic:   cfg.Worker.KafkaTopic,
		GroupID: cfg.Worker.KafkaGroup,
	})
	defer reader.Close()

	logger.Info("worker consuming",
		zap.Strings("brokers", cfg.Worker.KafkaBrokers),
		zap.String("topic", cfg.Worker.KafkaTopic))

	consume(ctx, reader, handler, logger)
	logger.Info("worker stopped")
}

// consume fetches one notification at a time and commits the offset only
// once the handler has durably recorded an outcome. An error from Handle
// means the event stays uncommitted, so the broker redelivers it.
func consume(ctx context.Context, reader *kafka.Reader, handler *worker.Handler, logger *zap.Logger) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		if err := handler.Handle(ctx, msg.Value); err != nil {
			logger.Warn("event left uncommitted for redelivery", zap.Error(err))
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			// Redelivery after a failed commit is safe: the handler
			// is idempotent per key.
			logger.Error("failed to commit offset", zap.Error(err))
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
