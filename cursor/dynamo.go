// Package cursor persists federation progress: the download cursor and the
// upload watermark. Production uses a DynamoDB table; tests use MemoryStore.
package cursor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/expnotify/key-distribution-backend/interfaces"
)

const (
	recordKeyAttribute = "id"
	downloadRecordKey  = "lastDownloadState"
	uploadRecordKey    = "lastUploadState"

	batchTagAttribute        = "batchTag"
	batchDateAttribute       = "batchDate"
	uploadTimestampAttribute = "uploadTimestamp"

	batchDateLayout = "2006-01-02"
)

// dynamoAPI is the subset of the DynamoDB client the store uses.
type dynamoAPI interface {
	GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error)
	PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error)
}

// DynamoStore persists cursor records in a single DynamoDB table keyed by
// record id.
type DynamoStore struct {
	client dynamoAPI
	table  string
}

// NewDynamoStore creates a store over the given table in the given region.
func NewDynamoStore(table, region string) (*DynamoStore, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &DynamoStore{client: dynamodb.New(sess), table: table}, nil
}

// NewDynamoStoreWithClient creates a store over an existing client. Tests.
func NewDynamoStoreWithClient(client dynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// DownloadCursor reads the persisted download cursor. Absence is a valid
// initial state; a present but undecodable record is fatal.
func (s *DynamoStore) DownloadCursor(ctx context.Context) (interfaces.FederationBatch, bool, error) {
	item, err := s.getRecord(ctx, downloadRecordKey)
	if err != nil {
		return interfaces.FederationBatch{}, false, err
	}
	if item == nil {
		return interfaces.FederationBatch{}, false, nil
	}

	tag := stringAttribute(item, batchTagAttribute)
	rawDate := stringAttribute(item, batchDateAttribute)
	if tag == "" || rawDate == "" {
		return interfaces.FederationBatch{}, false, fmt.Errorf("%w: download cursor record missing %s or %s", interfaces.ErrStateCorrupted, batchTagAttribute, batchDateAttribute)
	}
	date, err := time.ParseInLocation(batchDateLayout, rawDate, time.UTC)
	if err != nil {
		return interfaces.FederationBatch{}, false, fmt.Errorf("%w: invalid download cursor date %q", interfaces.ErrStateCorrupted, rawDate)
	}
	return interfaces.FederationBatch{BatchTag: tag, Date: date}, true, nil
}

// SetDownloadCursor persists the download cursor.
func (s *DynamoStore) SetDownloadCursor(ctx context.Context, batch interfaces.FederationBatch) error {
	_, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]*dynamodb.AttributeValue{
			recordKeyAttribute: {S: aws.String(downloadRecordKey)},
			batchTagAttribute:  {S: aws.String(batch.BatchTag)},
			batchDateAttribute: {S: aws.String(batch.Date.UTC().Format(batchDateLayout))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to persist download cursor: %w", err)
	}
	return nil
}

// UploadWatermark reads the persisted upload watermark.
func (s *DynamoStore) UploadWatermark(ctx context.Context) (time.Time, bool, error) {
	item, err := s.getRecord(ctx, uploadRecordKey)
	if err != nil {
		return time.Time{}, false, err
	}
	if item == nil {
		return time.Time{}, false, nil
	}

	attr, ok := item[uploadTimestampAttribute]
	if !ok || attr.N == nil {
		return time.Time{}, false, fmt.Errorf("%w: upload watermark record missing %s", interfaces.ErrStateCorrupted, uploadTimestampAttribute)
	}
	seconds, err := strconv.ParseInt(aws.StringValue(attr.N), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid upload watermark %q", interfaces.ErrStateCorrupted, aws.StringValue(attr.N))
	}
	return time.Unix(seconds, 0).UTC(), true, nil
}

// SetUploadWatermark persists the upload watermark.
func (s *DynamoStore) SetUploadWatermark(ctx context.Context, t time.Time) error {
	_, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]*dynamodb.AttributeValue{
			recordKeyAttribute:       {S: aws.String(uploadRecordKey)},
			uploadTimestampAttribute: {N: aws.String(strconv.FormatInt(t.UTC().Unix(), 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to persist upload watermark: %w", err)
	}
	return nil
}

func (s *DynamoStore) getRecord(ctx context.Context, id string) (map[string]*dynamodb.AttributeValue, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			recordKeyAttribute: {S: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor record %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func stringAttribute(item map[string]*dynamodb.AttributeValue, name string) string {
	attr, ok := item[name]
	if !ok || attr.S == nil {
		return ""
	}
	return aws.StringValue(attr.S)
}
