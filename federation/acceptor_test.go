package federation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/expnotify/key-distribution-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var acceptNow = time.Date(2021, 1, 20, 2, 0, 0, 0, time.UTC)

func newTestAcceptor(store interfaces.ObjectStore) *Acceptor {
	return NewAcceptor(store, AcceptorConfig{
		AllowedOrigins: []string{"IE", "DE"},
		Prefix:         "federation/inbound",
	}, testLogger())
}

func TestAcceptanceFilters(t *testing.T) {
	dayOld := acceptNow.AddDate(0, 0, -1)

	tests := []struct {
		name     string
		mutate   func(*interfaces.FederationExposureKey)
		accepted bool
	}{
		{"valid key kept", func(k *interfaces.FederationExposureKey) {}, true},
		{"unknown origin dropped", func(k *interfaces.FederationExposureKey) {
			k.Origin = "FR"
		}, false},
		{"oversized key data dropped", func(k *interfaces.FederationExposureKey) {
			k.KeyData = keyData(1, 36)
		}, false},
		{"future rolling start dropped", func(k *interfaces.FederationExposureKey) {
			k.RollingStartNumber = rollingStartAt(acceptNow.Add(time.Hour))
		}, false},
		{"key beyond retention dropped", func(k *interfaces.FederationExposureKey) {
			k.RollingStartNumber = rollingStartAt(acceptNow.AddDate(0, 0, -20))
		}, false},
		{"rapid test type dropped", func(k *interfaces.FederationExposureKey) {
			k.TestType = interfaces.TestTypeRapidResult
		}, false},
		{"self report dropped", func(k *interfaces.FederationExposureKey) {
			k.ReportType = interfaces.ReportTypeSelfReport
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			acceptor := newTestAcceptor(store)

			key := wireKey("IE", dayOld)
			tt.mutate(&key)

			accepted, err := acceptor.Accept(context.Background(), acceptNow, "batch-1", []interfaces.FederationExposureKey{key})
			require.NoError(t, err)

			if tt.accepted {
				assert.Equal(t, 1, accepted)
			} else {
				assert.Zero(t, accepted)
				summaries, err := store.List(context.Background(), "")
				require.NoError(t, err)
				assert.Empty(t, summaries, "rejected keys must not produce a write")
			}
		})
	}
}

func TestAcceptGroupsByOriginInStorageShape(t *testing.T) {
	store := storage.NewMemoryStore()
	acceptor := newTestAcceptor(store)
	ctx := context.Background()
	dayOld := acceptNow.AddDate(0, 0, -1)

	batch := []interfaces.FederationExposureKey{
		wireKey("IE", dayOld),
		wireKey("DE", dayOld),
		wireKey("IE", dayOld),
		wireKey("FR", dayOld),
	}
	accepted, err := acceptor.Accept(ctx, acceptNow, "batch-9", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, accepted)

	irish, err := store.Get(ctx, "federation/inbound/IE/20210120/batch-9.json")
	require.NoError(t, err)
	var doc struct {
		TemporaryExposureKeys []map[string]any `json:"temporaryExposureKeys"`
	}
	require.NoError(t, json.Unmarshal(irish, &doc))
	require.Len(t, doc.TemporaryExposureKeys, 2)
	// Storage shape drops the federation-only fields.
	assert.NotContains(t, doc.TemporaryExposureKeys[0], "origin")
	assert.NotContains(t, doc.TemporaryExposureKeys[0], "regions")
	assert.Contains(t, doc.TemporaryExposureKeys[0], "rollingStartNumber")

	german, err := store.Get(ctx, "federation/inbound/DE/20210120/batch-9.json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(german, &doc))
	assert.Len(t, doc.TemporaryExposureKeys, 1)

	_, err = store.Get(ctx, "federation/inbound/FR/20210120/batch-9.json")
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
}

func TestAcceptEmptyBatchWritesNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	acceptor := newTestAcceptor(store)

	accepted, err := acceptor.Accept(context.Background(), acceptNow, "batch-0", nil)
	require.NoError(t, err)
	assert.Zero(t, accepted)

	summaries, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestAcceptedKeysFlowIntoDistribution(t *testing.T) {
	// Accepted payloads use the same document shape as mobile submissions,
	// so a repository over the inbound prefix can load them directly.
	store := storage.NewMemoryStore()
	acceptor := newTestAcceptor(store)
	ctx := context.Background()

	_, err := acceptor.Accept(ctx, acceptNow, "batch-2", []interfaces.FederationExposureKey{
		wireKey("IE", acceptNow.AddDate(0, 0, -1)),
	})
	require.NoError(t, err)

	data, err := store.Get(ctx, "federation/inbound/IE/20210120/batch-2.json")
	require.NoError(t, err)

	var doc struct {
		TemporaryExposureKeys []interfaces.ExposureKey `json:"temporaryExposureKeys"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.TemporaryExposureKeys, 1)
	require.NoError(t, doc.TemporaryExposureKeys[0].Validate())
}
