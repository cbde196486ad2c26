package interfaces

import (
	"encoding/base64"
	"fmt"
	"time"
)

// KeyDataLength is the exact decoded length of temporary exposure key material.
const KeyDataLength = 16

// RollingInterval is the duration of one rolling interval index step.
const RollingInterval = 10 * time.Minute

// TestType identifies the kind of test that produced a diagnosis key.
type TestType string

const (
	// TestTypeLabResult is a PCR/laboratory test result.
	TestTypeLabResult TestType = "LAB_RESULT"
	// TestTypeRapidResult is a self-administered rapid antigen test result.
	TestTypeRapidResult TestType = "RAPID_RESULT"
)

// ReportType classifies how a diagnosis was reported.
type ReportType string

const (
	ReportTypeConfirmedTest              ReportType = "CONFIRMED_TEST"
	ReportTypeConfirmedClinicalDiagnosis ReportType = "CONFIRMED_CLINICAL_DIAGNOSIS"
	ReportTypeSelfReport                 ReportType = "SELF_REPORT"
	ReportTypeRecursive                  ReportType = "RECURSIVE"
	ReportTypeRevoked                    ReportType = "REVOKED"
)

// ExposureKey is the storage and export shape of a temporary exposure key.
// KeyData carries the 16-byte key material base64-encoded.
type ExposureKey struct {
	KeyData                  string `json:"key"`
	RollingStartNumber       int64  `json:"rollingStartNumber"`
	RollingPeriod            int32  `json:"rollingPeriod"`
	TransmissionRisk         int32  `json:"transmissionRisk"`
	DaysSinceOnsetOfSymptoms *int32 `json:"daysSinceOnsetOfSymptoms,omitempty"`
}

// DecodeKeyData decodes the base64 key material and validates its length.
func (k ExposureKey) DecodeKeyData() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(k.KeyData)
	if err != nil {
		return nil, fmt.Errorf("invalid key data encoding: %w", err)
	}
	if len(data) != KeyDataLength {
		return nil, fmt.Errorf("invalid key data length: expected %d bytes, got %d", KeyDataLength, len(data))
	}
	return data, nil
}

// RollingStartTime converts the rolling start number to the instant the key
// became active.
func (k ExposureKey) RollingStartTime() time.Time {
	return time.Unix(k.RollingStartNumber*int64(RollingInterval.Seconds()), 0).UTC()
}

// Validate checks the key invariants: decodable 16-byte key material and a
// positive rolling period.
func (k ExposureKey) Validate() error {
	if _, err := k.DecodeKeyData(); err != nil {
		return err
	}
	if k.RollingPeriod <= 0 {
		return fmt.Errorf("invalid rolling period: %d", k.RollingPeriod)
	}
	return nil
}

// FederationExposureKey is the federation wire shape of a temporary exposure
// key. It adds the issuing origin, the regions the key applies to, the test
// type and the report type to the storage shape.
type FederationExposureKey struct {
	KeyData            string     `json:"keyData"`
	RollingStartNumber int64      `json:"rollingStartNumber"`
	TransmissionRisk   int32      `json:"transmissionRiskLevel"`
	RollingPeriod      int32      `json:"rollingPeriod"`
	Origin             string     `json:"origin"`
	ReportType         ReportType `json:"reportType"`
	DaysSinceOnset     *int32     `json:"daysSinceOnset,omitempty"`
	TestType           TestType   `json:"testType"`
	Regions            []string   `json:"regions"`
}

// DecodeKeyData decodes the base64 key material and validates its length.
func (k FederationExposureKey) DecodeKeyData() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(k.KeyData)
	if err != nil {
		return nil, fmt.Errorf("invalid key data encoding: %w", err)
	}
	if len(data) != KeyDataLength {
		return nil, fmt.Errorf("invalid key data length: expected %d bytes, got %d", KeyDataLength, len(data))
	}
	return data, nil
}

// RollingStartTime converts the rolling start number to the instant the key
// became active.
func (k FederationExposureKey) RollingStartTime() time.Time {
	return time.Unix(k.RollingStartNumber*int64(RollingInterval.Seconds()), 0).UTC()
}

// StorageShape translates the federation wire shape into the storage shape,
// dropping origin and regions.
func (k FederationExposureKey) StorageShape() ExposureKey {
	return ExposureKey{
		KeyData:                  k.KeyData,
		RollingStartNumber:       k.RollingStartNumber,
		RollingPeriod:            k.RollingPeriod,
		TransmissionRisk:         k.TransmissionRisk,
		DaysSinceOnsetOfSymptoms: k.DaysSinceOnset,
	}
}
