package exportfile

import (
	"fmt"
	"time"

	"github.com/expnotify/key-distribution-backend/interfaces"
)

// Build assembles an export for the period [start, end). The declared
// timestamps are the period bounds shifted by offset; keys are mapped 1:1
// into export shape with days-since-onset defaulting to zero when absent.
func Build(keys []interfaces.ExposureKey, start, end time.Time, offset time.Duration, info SignatureInfo) (*Export, error) {
	exported := make([]Key, 0, len(keys))
	for _, k := range keys {
		data, err := k.DecodeKeyData()
		if err != nil {
			return nil, fmt.Errorf("cannot export key: %w", err)
		}

		var daysSinceOnset int32
		if k.DaysSinceOnsetOfSymptoms != nil {
			daysSinceOnset = *k.DaysSinceOnsetOfSymptoms
		}

		exported = append(exported, Key{
			KeyData:                    data,
			TransmissionRiskLevel:      k.TransmissionRisk,
			RollingStartIntervalNumber: int32(k.RollingStartNumber),
			RollingPeriod:              k.RollingPeriod,
			DaysSinceOnsetOfSymptoms:   daysSinceOnset,
		})
	}

	return &Export{
		StartTimestamp: uint64(start.Add(offset).Unix()),
		EndTimestamp:   uint64(end.Add(offset).Unix()),
		Region:         "",
		BatchNum:       1,
		BatchSize:      1,
		SignatureInfos: []SignatureInfo{info},
		Keys:           exported,
	}, nil
}

// BuildSignatureList wraps a single signature with the same SignatureInfo the
// export carries.
func BuildSignatureList(sig interfaces.Signature, info SignatureInfo) *SignatureList {
	return &SignatureList{
		Signatures: []TEKSignature{{
			SignatureInfo: info,
			BatchNum:      1,
			BatchSize:     1,
			Signature:     sig.Bytes,
		}},
	}
}
