package exportfile

import (
	"bytes"
	"testing"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = SignatureInfo{
	AppBundleID:            "uk.nhs.covid19.internal",
	AndroidPackage:         "uk.nhs.covid19.internal",
	VerificationKeyVersion: "v1",
	VerificationKeyID:      "234",
	SignatureAlgorithm:     "1.2.840.10045.4.3.2",
}

func testKey(t *testing.T) interfaces.ExposureKey {
	t.Helper()
	return interfaces.ExposureKey{
		KeyData:            "kzQ1dCJ0dHqNzSYLMMFLZQ==",
		RollingStartNumber: 2686464,
		RollingPeriod:      144,
		TransmissionRisk:   7,
	}
}

func TestBuildOffsetShift(t *testing.T) {
	start := time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	tests := []struct {
		name   string
		offset time.Duration
	}{
		{"default negative offset", -15 * time.Minute},
		{"zero offset", 0},
		{"positive offset", 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Build(nil, start, end, tt.offset, testInfo)
			require.NoError(t, err)
			assert.Equal(t, uint64(start.Unix()+int64(tt.offset.Seconds())), e.StartTimestamp)
			assert.Equal(t, uint64(end.Unix()+int64(tt.offset.Seconds())), e.EndTimestamp)
		})
	}
}

func TestBuildExactShiftedTimestamp(t *testing.T) {
	// 1611100800 is 2021-01-20T00:00:00Z; shifted by -15 minutes.
	start := time.Unix(1611100800, 0).UTC()
	e, err := Build(nil, start, start.Add(2*time.Hour), -15*time.Minute, testInfo)
	require.NoError(t, err)
	assert.Equal(t, uint64(1611099900), e.StartTimestamp)
}

func TestBuildMapsKeys(t *testing.T) {
	start := time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC)
	onset := int32(2)
	keys := []interfaces.ExposureKey{
		testKey(t),
		{
			KeyData:                  "B3xb3BeMWt6Xr2u0ABG32Q==",
			RollingStartNumber:       2686608,
			RollingPeriod:            144,
			TransmissionRisk:         4,
			DaysSinceOnsetOfSymptoms: &onset,
		},
	}

	e, err := Build(keys, start, start.Add(2*time.Hour), 0, testInfo)
	require.NoError(t, err)
	require.Len(t, e.Keys, 2)

	assert.Equal(t, int32(1), e.BatchNum)
	assert.Equal(t, int32(1), e.BatchSize)
	assert.Equal(t, "", e.Region)
	require.Len(t, e.SignatureInfos, 1)
	assert.Equal(t, testInfo, e.SignatureInfos[0])

	assert.Equal(t, int32(0), e.Keys[0].DaysSinceOnsetOfSymptoms)
	assert.Equal(t, int32(2), e.Keys[1].DaysSinceOnsetOfSymptoms)
	assert.Equal(t, int32(2686464), e.Keys[0].RollingStartIntervalNumber)
	assert.Len(t, e.Keys[0].KeyData, 16)
}

func TestBuildRejectsInvalidKeyData(t *testing.T) {
	start := time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC)
	_, err := Build([]interfaces.ExposureKey{{KeyData: "dG9vc2hvcnQ="}}, start, start.Add(2*time.Hour), 0, testInfo)
	assert.Error(t, err)
}

func TestMarshalExportRoundTrip(t *testing.T) {
	start := time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC)
	e, err := Build([]interfaces.ExposureKey{testKey(t)}, start, start.Add(2*time.Hour), -15*time.Minute, testInfo)
	require.NoError(t, err)

	data := MarshalExport(e)
	assert.True(t, bytes.HasPrefix(data, []byte(Header)))
	assert.Len(t, Header, 16)

	parsed, err := ParseExport(data)
	require.NoError(t, err)
	assert.Equal(t, e, parsed)
}

func TestMarshalSignatureListRoundTrip(t *testing.T) {
	l := BuildSignatureList(interfaces.Signature{
		KeyID:     "234",
		Algorithm: "1.2.840.10045.4.3.2",
		Bytes:     []byte{0x30, 0x45, 0x02, 0x20},
	}, testInfo)

	parsed, err := ParseSignatureList(MarshalSignatureList(l))
	require.NoError(t, err)
	require.Len(t, parsed.Signatures, 1)
	assert.Equal(t, l.Signatures[0], parsed.Signatures[0])
	assert.Equal(t, int32(1), parsed.Signatures[0].BatchNum)
}

func TestParseExportRejectsMissingHeader(t *testing.T) {
	_, err := ParseExport([]byte("not an export"))
	assert.Error(t, err)
}

func TestArchiveRoundTrip(t *testing.T) {
	start := time.Date(2021, 1, 20, 0, 0, 0, 0, time.UTC)
	e, err := Build([]interfaces.ExposureKey{testKey(t)}, start, start.Add(2*time.Hour), 0, testInfo)
	require.NoError(t, err)

	exportBin := MarshalExport(e)
	exportSig := MarshalSignatureList(BuildSignatureList(interfaces.Signature{Bytes: []byte("sig")}, testInfo))

	archive, err := WriteArchive(exportBin, exportSig)
	require.NoError(t, err)

	gotBin, gotSig, err := ReadArchive(archive)
	require.NoError(t, err)
	assert.Equal(t, exportBin, gotBin)
	assert.Equal(t, exportSig, gotSig)

	count, err := KeyCount(archive)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestArchiveDeterministic(t *testing.T) {
	a1, err := WriteArchive([]byte("bin"), []byte("sig"))
	require.NoError(t, err)
	a2, err := WriteArchive([]byte("bin"), []byte("sig"))
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestReadArchiveMissingEntry(t *testing.T) {
	_, _, err := ReadArchive([]byte("not a zip"))
	assert.Error(t, err)
}
