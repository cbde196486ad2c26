package submission

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func summaryAt(key string, age time.Duration, now time.Time) interfaces.ObjectSummary {
	return interfaces.ObjectSummary{Key: key, LastModified: now.Add(-age)}
}

func TestLimitInvalidArguments(t *testing.T) {
	now := time.Now()

	_, err := Limit(nil, now, 0, 10)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLimit)

	_, err = Limit(nil, now, -1, 10)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLimit)
}

func TestLimitOldestBucketFirst(t *testing.T) {
	now := time.Date(2021, 1, 20, 12, 0, 0, 0, time.UTC)

	summaries := []interfaces.ObjectSummary{
		summaryAt("recent-a", 10*time.Second, now),
		summaryAt("old-a", 500*time.Second, now),
		summaryAt("recent-b", 20*time.Second, now),
		summaryAt("old-b", 510*time.Second, now),
		summaryAt("middle", 200*time.Second, now),
	}

	limited, err := Limit(summaries, now, 60, 10)
	require.NoError(t, err)

	keys := make([]string, len(limited))
	for i, s := range limited {
		keys[i] = s.Key
	}
	// Oldest bucket first; original order preserved within each bucket.
	assert.Equal(t, []string{"old-a", "old-b", "middle", "recent-a", "recent-b"}, keys)
}

func TestLimitCapsResults(t *testing.T) {
	now := time.Date(2021, 1, 20, 12, 0, 0, 0, time.UTC)

	summaries := []interfaces.ObjectSummary{
		summaryAt("old-a", 500*time.Second, now),
		summaryAt("old-b", 510*time.Second, now),
		summaryAt("recent", 10*time.Second, now),
	}

	limited, err := Limit(summaries, now, 60, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "old-a", limited[0].Key)
	assert.Equal(t, "old-b", limited[1].Key)
}

func TestLimitBucketOrderingProperty(t *testing.T) {
	now := time.Date(2021, 1, 20, 12, 0, 0, 0, time.UTC)

	var summaries []interfaces.ObjectSummary
	for age := time.Duration(1); age < 1000*time.Second; age += 97 * time.Second {
		summaries = append(summaries, summaryAt("key", age, now))
	}

	limited, err := Limit(summaries, now, 30, len(summaries))
	require.NoError(t, err)

	bucket := func(s interfaces.ObjectSummary) int64 {
		return int64(now.Sub(s.LastModified).Seconds()) / 30
	}
	for i := 1; i < len(limited); i++ {
		assert.GreaterOrEqual(t, bucket(limited[i-1]), bucket(limited[i]))
	}
}

func TestListAppliesKeyFilter(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "mobile/LAB/one.json", []byte(`{}`)))
	require.NoError(t, store.Put(context.Background(), "mobile/RAPID/two.json", []byte(`{}`)))

	repo := NewRepository(store, "mobile/", testLogger(), WithKeyFilter(func(key string) bool {
		return strings.HasPrefix(key, "mobile/LAB/")
	}))

	summaries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "mobile/LAB/one.json", summaries[0].Key)
}

func TestLoadDecodesPayloads(t *testing.T) {
	store := storage.NewMemoryStore()
	submitted := time.Date(2021, 1, 20, 10, 30, 0, 0, time.UTC)
	require.NoError(t, store.PutAt("mobile/one.json",
		[]byte(`{"temporaryExposureKeys":[{"key":"kzQ1dCJ0dHqNzSYLMMFLZQ==","rollingStartNumber":2686464,"rollingPeriod":144,"transmissionRisk":7}]}`),
		submitted))

	repo := NewRepository(store, "mobile/", testLogger())

	summaries, err := repo.List(context.Background())
	require.NoError(t, err)

	payloads, err := repo.Load(context.Background(), summaries)
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	assert.Equal(t, "mobile/one.json", payloads[0].ObjectKey)
	assert.Equal(t, submitted, payloads[0].SubmissionTime)
	require.Len(t, payloads[0].Keys, 1)
	assert.Equal(t, int64(2686464), payloads[0].Keys[0].RollingStartNumber)
	assert.Equal(t, int32(144), payloads[0].Keys[0].RollingPeriod)
	assert.Equal(t, int32(7), payloads[0].Keys[0].TransmissionRisk)
}

func TestLoadSkipsMalformedObjects(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "mobile/bad.json", []byte("not json")))
	require.NoError(t, store.Put(ctx, "mobile/good.json", []byte(`{"temporaryExposureKeys":[]}`)))

	repo := NewRepository(store, "mobile/", testLogger())

	summaries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	payloads, err := repo.Load(ctx, summaries)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "mobile/good.json", payloads[0].ObjectKey)
}

func TestLoadSkipsMissingObjects(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "mobile/present.json", []byte(`{"temporaryExposureKeys":[]}`)))

	repo := NewRepository(store, "mobile/", testLogger())

	summaries := []interfaces.ObjectSummary{
		{Key: "mobile/vanished.json"},
		{Key: "mobile/present.json"},
	}

	payloads, err := repo.Load(ctx, summaries)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "mobile/present.json", payloads[0].ObjectKey)
}
