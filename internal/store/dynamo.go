package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/example/cat-wrangler/internal/logging"
	"github.com/example/cat-wrangler/internal/record"
)

// Secondary indexes backing the multi-item queries. Each query in the
// contract maps onto exactly one of these, so nothing ever scans.
const (
	indexBatchUploadTS  = "batch_upload_ts-index"
	indexClientUploadTS = "client_upload_ts-index"
	indexBatchClient    = "batch_client-index"
	indexBatchStatus    = "batch_op_status-index"
	indexCatUploadTS    = "is_cat_upload_ts-index"
)

// attrIsCatIdx mirrors is_cat as a string attribute because index keys
// cannot be boolean.
const attrIsCatIdx = "is_cat_str"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo is the DynamoDB-backed state store.
type Dynamo struct {
	api    DynamoAPI
	table  string
	logger *zap.Logger
}

// NewDynamo constructs a store over the given table.
func NewDynamo(api DynamoAPI, table string, logger *zap.Logger) *Dynamo {
	return &Dynamo{api: api, table: table, logger: logger.Named("store")}
}

var _ Store = (*Dynamo)(nil)

// PutPending writes the initial record, conditional on no record existing
// yet for the key. A lost race or a redelivered event leaves the existing
// record untouched.
func (d *Dynamo) PutPending(ctx context.Context, rec *record.ImageRecord) error {
	const op = "store.put_pending"

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}

	cond := expression.AttributeNotExists(expression.Name("img_fprint"))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}

	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			d.logger.Debug("record already exists, leaving intact",
				zap.Int64("batch_id", rec.BatchID),
				zap.String("img_fprint", rec.ImgFprint))
			return nil
		}
		return logging.NewOperationError(op, "", err)
	}
	return nil
}

// UpdateResult applies upd to an existing record. ErrNotFound when the
// record is absent.
func (d *Dynamo) UpdateResult(ctx context.Context, batchID int64, imgFprint string, upd ResultUpdate) error {
	const op = "store.update_result"

	if upd.Empty() {
		return nil
	}

	update := expression.UpdateBuilder{}
	if upd.OpStatus != nil {
		update = update.Set(expression.Name("op_status"), expression.Value(string(*upd.OpStatus)))
	}
	if upd.ClassificationResponse != nil {
		update = update.Set(expression.Name("classification_response"), expression.Value(*upd.ClassificationResponse))
	}
	if upd.IsCat != nil {
		update = update.Set(expression.Name("is_cat"), expression.Value(*upd.IsCat))
		update = update.Set(expression.Name(attrIsCatIdx), expression.Value(strconv.FormatBool(*upd.IsCat)))
	}
	if upd.ClassifyTS != nil {
		update = update.Set(expression.Name("classify_ts"), expression.Value(*upd.ClassifyTS))
	}
	if upd.S3ImgKey != nil {
		update = update.Set(expression.Name("s3img_key"), expression.Value(*upd.S3ImgKey))
	}
	if upd.ErrorDetail != nil {
		update = update.Set(expression.Name("error_detail"), expression.Value(*upd.ErrorDetail))
	}
	if upd.DebugLogs != nil {
		update = update.Set(expression.Name("debug_logs"), expression.Value(*upd.DebugLogs))
	}

	cond := expression.AttributeExists(expression.Name("img_fprint"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return logging.NewOperationError(op, "", err)
	}

	_, err = d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       keyFor(batchID, imgFprint),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrNotFound
		}
		return logging.NewOperationError(op, "", err)
	}
	return nil
}

// Get performs a strongly consistent point lookup.
func (d *Dynamo) Get(ctx context.Context, batchID int64, imgFprint string) (*record.ImageRecord, error) {
	const op = "store.get"

	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            keyFor(batchID, imgFprint),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, logging.NewOperationError(op, "", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	rec := &record.ImageRecord{}
	if err := attributevalue.UnmarshalMap(out.Item, rec); err != nil {
		return nil, logging.NewOperationError(op, "", err)
	}
	return rec, nil
}

// QueryByBatch returns every record for a batch ordered by upload_ts
// ascending, optionally bounded by tr.
func (d *Dynamo) QueryByBatch(ctx context.Context, batchID int64, tr *TimeRange) ([]record.ImageRecord, error) {
	keyCond := expression.Key("batch_id").Equal(expression.Value(batchID))
	keyCond = withUploadRange(keyCond, tr)
	return d.query(ctx, "store.query_by_batch", indexBatchUploadTS, keyCond)
}

// QueryByClient returns every record a client has submitted, ordered by
// upload_ts ascending, optionally bounded by tr.
func (d *Dynamo) QueryByClient(ctx context.Context, clientID string, tr *TimeRange) ([]record.ImageRecord, error) {
	keyCond := expression.Key("client_id").Equal(expression.Value(clientID))
	keyCond = withUploadRange(keyCond, tr)
	return d.query(ctx, "store.query_by_client", indexClientUploadTS, keyCond)
}

// QueryByBatchAndStatus returns the subset of a batch in a given state.
func (d *Dynamo) QueryByBatchAndStatus(ctx context.Context, batchID int64, status record.Status) ([]record.ImageRecord, error) {
	keyCond := expression.Key("batch_id").Equal(expression.Value(batchID)).
		And(expression.Key("op_status").Equal(expression.Value(string(status))))
	return d.query(ctx, "store.query_by_batch_and_status", indexBatchStatus, keyCond)
}

// QueryByCatFlag returns records by classification outcome across batches.
func (d *Dynamo) QueryByCatFlag(ctx context.Context, isCat bool, tr *TimeRange) ([]record.ImageRecord, error) {
	keyCond := expression.Key(attrIsCatIdx).Equal(expression.Value(strconv.FormatBool(isCat)))
	keyCond = withUploadRange(keyCond, tr)
	return d.query(ctx, "store.query_by_cat_flag", indexCatUploadTS, keyCond)
}

func (d *Dynamo) query(ctx context.Context, op, index string, keyCond expression.KeyConditionBuilder) ([]record.ImageRecord, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, logging.NewOperationError(op, "", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	var records []record.ImageRecord
	for {
		out, err := d.api.Query(ctx, input)
		if err != nil {
			return nil, logging.NewOperationError(op, "", err)
		}

		var page []record.ImageRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, logging.NewOperationError(op, "", err)
		}
		records = append(records, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return records, nil
}

func withUploadRange(keyCond expression.KeyConditionBuilder, tr *TimeRange) expression.KeyConditionBuilder {
	if tr == nil {
		return keyCond
	}
	return keyCond.And(expression.Key("upload_ts").
		Between(expression.Value(tr.From), expression.Value(tr.To)))
}

func keyFor(batchID int64, imgFprint string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"batch_id":   &types.AttributeValueMemberN{Value: strconv.FormatInt(batchID, 10)},
		"img_fprint": &types.AttributeValueMemberS{Value: imgFprint},
	}
}
