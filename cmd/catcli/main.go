// catcli submits image batches and queries their classification outcomes.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/client"
	"github.com/example/cat-wrangler/internal/config"
	"github.com/example/cat-wrangler/internal/objectstore"
	"github.com/example/cat-wrangler/internal/record"
	"github.com/example/cat-wrangler/internal/store"
)

var (
	configPath string
	debugMode  bool
)

func main() {
	root := &cobra.Command{
		Use:           "catcli",
		Short:         "Submit image batches and query classification results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "request per-image diagnostics from the worker")

	root.AddCommand(newBulkAnalyseCmd(), newResultCmd(), newBulkResultsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newBulkAnalyseCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "bulkanalyse",
		Short: "Upload every image under a folder as one batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			identity := client.NewFileIdentity(cfg.Client.IdentityFile, logger)
			clientID, err := identity.ClientID()
			if err != nil {
				return err
			}

			objects, err := objectstore.NewClient(ctx, cfg.Client.Region,
				os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"), logger)
			if err != nil {
				return err
			}

			uploader := client.NewBulkUploader(objects, cfg.Client.SourceBucket,
				clientID, cfg.Client.Concurrency, debugMode, logger)

			result, err := uploader.Run(ctx, folder, cfg.Client.LogsDir)
			if err != nil {
				return err
			}

			fmt.Printf("Batch %d: %d uploaded, %d failed\n",
				result.BatchID, len(result.Succeeded), len(result.Failed))
			for _, path := range result.Failed {
				fmt.Printf("  failed: %s\n", path)
			}
			fmt.Printf("Submission log: %s\n", result.LogPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "folder containing the images to upload")
	cmd.MarkFlagRequired("folder") //nolint:errcheck
	return cmd
}

func newResultCmd() *cobra.Command {
	var (
		batchID   int64
		imgFprint string
	)

	cmd := &cobra.Command{
		Use:   "result",
		Short: "Look up one image's classification outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			results, err := newResultService(ctx, cfg, logger)
			if err != nil {
				return err
			}

			rec, err := results.Result(ctx, batchID, imgFprint)
			if err != nil {
				return err
			}
			printRecord(rec)
			return nil
		},
	}

	cmd.Flags().Int64Var(&batchID, "batchid", 0, "batch identifier of the submission")
	cmd.Flags().StringVar(&imgFprint, "imgfprint", "", "content fingerprint of the image")
	cmd.MarkFlagRequired("batchid")   //nolint:errcheck
	cmd.MarkFlagRequired("imgfprint") //nolint:errcheck
	return cmd
}

func newBulkResultsCmd() *cobra.Command {
	var batchFile string

	cmd := &cobra.Command{
		Use:   "bulkresults",
		Short: "Replay a submission log and summarize the batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			results, err := newResultService(ctx, cfg, logger)
			if err != nil {
				return err
			}

			summary, err := results.BulkResults(ctx, batchFile)
			if err != nil {
				return err
			}

			printSummary(summary)

			if debugMode {
				path, err := client.WriteDebugLogs(batchFile, summary)
				if err != nil {
					return err
				}
				if path != "" {
					fmt.Printf("Debug logs written to %s\n", path)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchFile, "batchfile", "", "path to the submission log to replay")
	cmd.MarkFlagRequired("batchfile") //nolint:errcheck
	return cmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := zap.InfoLevel
	if debugMode {
		level = zap.DebugLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newResultService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*client.ResultService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Client.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	stateStore := store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Client.TableName, logger)

	var cache client.Cache
	if cfg.Client.RedisAddr != "" {
		cache = client.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.Client.RedisAddr}))
	}
	return client.NewResultService(stateStore, cache, logger), nil
}

func printRecord(rec *record.ImageRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "batch_id:\t%d\n", rec.BatchID)
	fmt.Fprintf(w, "img_fprint:\t%s\n", rec.ImgFprint)
	fmt.Fprintf(w, "op_status:\t%s\n", rec.OpStatus)
	if rec.IsCat != nil {
		fmt.Fprintf(w, "is_cat:\t%t\n", *rec.IsCat)
	}
	if rec.S3ImgKey != "" {
		fmt.Fprintf(w, "s3_img_key:\t%s\n", rec.S3ImgKey)
	}
	if rec.ErrorDetail != "" {
		fmt.Fprintf(w, "error:\t%s\n", rec.ErrorDetail)
	}
	w.Flush() //nolint:errcheck
}

func printSummary(summary *client.BatchSummary) {
	fmt.Printf("pending=%d success=%d fail=%d missing=%d\n",
		summary.Pending, summary.Success, summary.Fail, summary.Missing)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSTATUS\tIS_CAT\tFPRINT")
	for _, rec := range summary.Records {
		isCat := "-"
		if rec.IsCat != nil {
			isCat = fmt.Sprintf("%t", *rec.IsCat)
		}
		fprint := rec.ImgFprint
		if len(fprint) > 12 {
			fprint = fprint[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.OriginalFileName, rec.OpStatus, isCat, fprint)
	}
	w.Flush() //nolint:errcheck
}
