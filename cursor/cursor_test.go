package cursor

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items keyed by record id, mimicking a single-table layout.
type fakeDynamo struct {
	items map[string]map[string]*dynamodb.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]*dynamodb.AttributeValue)}
}

func (f *fakeDynamo) GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error) {
	id := aws.StringValue(input.Key[recordKeyAttribute].S)
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func (f *fakeDynamo) PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error) {
	id := aws.StringValue(input.Item[recordKeyAttribute].S)
	f.items[id] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoStoreEmptyIsValidInitialState(t *testing.T) {
	store := NewDynamoStoreWithClient(newFakeDynamo(), "cursor-table")
	ctx := context.Background()

	_, ok, err := store.DownloadCursor(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.UploadWatermark(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDynamoStoreDownloadCursorRoundtrip(t *testing.T) {
	store := NewDynamoStoreWithClient(newFakeDynamo(), "cursor-table")
	ctx := context.Background()

	batch := interfaces.FederationBatch{
		BatchTag: "abc-123",
		Date:     time.Date(2021, 1, 19, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SetDownloadCursor(ctx, batch))

	got, ok, err := store.DownloadCursor(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, batch, got)
}

func TestDynamoStoreUploadWatermarkRoundtrip(t *testing.T) {
	store := NewDynamoStoreWithClient(newFakeDynamo(), "cursor-table")
	ctx := context.Background()

	watermark := time.Date(2021, 1, 20, 1, 30, 0, 0, time.UTC)
	require.NoError(t, store.SetUploadWatermark(ctx, watermark))

	got, ok, err := store.UploadWatermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, watermark, got)
}

func TestDynamoStoreCorruptRecordsAreFatal(t *testing.T) {
	fake := newFakeDynamo()
	fake.items[downloadRecordKey] = map[string]*dynamodb.AttributeValue{
		recordKeyAttribute: {S: aws.String(downloadRecordKey)},
		batchTagAttribute:  {S: aws.String("abc-123")},
		batchDateAttribute: {S: aws.String("not a date")},
	}
	fake.items[uploadRecordKey] = map[string]*dynamodb.AttributeValue{
		recordKeyAttribute:       {S: aws.String(uploadRecordKey)},
		uploadTimestampAttribute: {N: aws.String("not a number")},
	}
	store := NewDynamoStoreWithClient(fake, "cursor-table")
	ctx := context.Background()

	_, _, err := store.DownloadCursor(ctx)
	assert.ErrorIs(t, err, interfaces.ErrStateCorrupted)

	_, _, err = store.UploadWatermark(ctx)
	assert.ErrorIs(t, err, interfaces.ErrStateCorrupted)
}

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.DownloadCursor(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	batch := interfaces.FederationBatch{BatchTag: "xyz", Date: time.Date(2021, 1, 18, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.SetDownloadCursor(ctx, batch))
	got, ok, err := store.DownloadCursor(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, batch, got)

	watermark := time.Date(2021, 1, 20, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetUploadWatermark(ctx, watermark))
	gotWatermark, ok, err := store.UploadWatermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, watermark, gotWatermark)
}
