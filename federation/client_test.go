package federation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// keyData returns base64 key material of the given decoded length.
func keyData(seed byte, length int) string {
	data := make([]byte, length)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func rollingStartAt(t time.Time) int64 {
	return t.Unix() / int64(interfaces.RollingInterval.Seconds())
}

func wireKey(origin string, start time.Time) interfaces.FederationExposureKey {
	return interfaces.FederationExposureKey{
		KeyData:            keyData(1, interfaces.KeyDataLength),
		RollingStartNumber: rollingStartAt(start),
		RollingPeriod:      144,
		TransmissionRisk:   4,
		Origin:             origin,
		Regions:            []string{origin},
		TestType:           interfaces.TestTypeLabResult,
		ReportType:         interfaces.ReportTypeConfirmedTest,
	}
}

func TestClientDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/diagnosiskeys/download/2021-01-19", r.URL.Path)

		switch r.URL.Query().Get("batchTag") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"batchTag":  "batch-1",
				"exposures": []any{wireKey("IE", time.Date(2021, 1, 19, 0, 0, 0, 0, time.UTC))},
				"ignored":   "forward compatible extra field",
			})
		case "batch-1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	ctx := context.Background()
	date := time.Date(2021, 1, 19, 0, 0, 0, 0, time.UTC)

	batch, err := client.Download(ctx, date, "")
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, "batch-1", batch.BatchTag)
	require.Len(t, batch.Exposures, 1)
	assert.Equal(t, "IE", batch.Exposures[0].Origin)

	batch, err = client.Download(ctx, date, "batch-1")
	require.NoError(t, err)
	assert.Nil(t, batch)

	_, err = client.Download(ctx, date, "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClientUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/diagnosiskeys/upload", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))

		var req UploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Payload == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(UploadResponse{BatchTag: req.BatchTag, InsertedExposures: 3})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	ctx := context.Background()

	result, err := client.Upload(ctx, "tag-1", "signed-payload")
	require.NoError(t, err)
	assert.Equal(t, "tag-1", result.BatchTag)
	assert.Equal(t, 3, result.InsertedExposures)

	_, err = client.Upload(ctx, "tag-2", "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
