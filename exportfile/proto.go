// Package exportfile serializes exposure keys into the binary export format
// mobile clients consume: a TemporaryExposureKeyExport message behind a fixed
// 16-byte header, a detached TEKSignatureList, and the two-entry zip archive
// carrying both.
package exportfile

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Header is the fixed 16-byte prefix of every export.bin.
const Header = "EK Export v1    "

// SignatureInfo identifies the verification key for an export, as embedded in
// both the export and its signature list.
type SignatureInfo struct {
	AppBundleID            string
	AndroidPackage         string
	VerificationKeyVersion string
	VerificationKeyID      string
	SignatureAlgorithm     string
}

// Key is one exposure key in export shape.
type Key struct {
	KeyData                    []byte
	TransmissionRiskLevel      int32
	RollingStartIntervalNumber int32
	RollingPeriod              int32
	DaysSinceOnsetOfSymptoms   int32
}

// Export mirrors the TemporaryExposureKeyExport message.
type Export struct {
	StartTimestamp uint64
	EndTimestamp   uint64
	Region         string
	BatchNum       int32
	BatchSize      int32
	SignatureInfos []SignatureInfo
	Keys           []Key
}

// TEKSignature is one entry of a TEKSignatureList.
type TEKSignature struct {
	SignatureInfo SignatureInfo
	BatchNum      int32
	BatchSize     int32
	Signature     []byte
}

// SignatureList mirrors the TEKSignatureList message.
type SignatureList struct {
	Signatures []TEKSignature
}

// Wire field numbers of the export format messages.
const (
	exportFieldStartTimestamp = 1
	exportFieldEndTimestamp   = 2
	exportFieldRegion         = 3
	exportFieldBatchNum       = 4
	exportFieldBatchSize      = 5
	exportFieldSignatureInfos = 6
	exportFieldKeys           = 7

	sigInfoFieldAppBundleID        = 1
	sigInfoFieldAndroidPackage     = 2
	sigInfoFieldKeyVersion         = 3
	sigInfoFieldKeyID              = 4
	sigInfoFieldSignatureAlgorithm = 5

	keyFieldKeyData          = 1
	keyFieldTransmissionRisk = 2
	keyFieldRollingStart     = 3
	keyFieldRollingPeriod    = 4
	keyFieldDaysSinceOnset   = 6

	sigListFieldSignatures = 1

	sigFieldSignatureInfo = 1
	sigFieldBatchNum      = 2
	sigFieldBatchSize     = 3
	sigFieldSignature     = 4
)

func marshalSignatureInfo(b []byte, info SignatureInfo) []byte {
	b = protowire.AppendTag(b, sigInfoFieldAppBundleID, protowire.BytesType)
	b = protowire.AppendString(b, info.AppBundleID)
	b = protowire.AppendTag(b, sigInfoFieldAndroidPackage, protowire.BytesType)
	b = protowire.AppendString(b, info.AndroidPackage)
	b = protowire.AppendTag(b, sigInfoFieldKeyVersion, protowire.BytesType)
	b = protowire.AppendString(b, info.VerificationKeyVersion)
	b = protowire.AppendTag(b, sigInfoFieldKeyID, protowire.BytesType)
	b = protowire.AppendString(b, info.VerificationKeyID)
	b = protowire.AppendTag(b, sigInfoFieldSignatureAlgorithm, protowire.BytesType)
	b = protowire.AppendString(b, info.SignatureAlgorithm)
	return b
}

func marshalKey(b []byte, key Key) []byte {
	b = protowire.AppendTag(b, keyFieldKeyData, protowire.BytesType)
	b = protowire.AppendBytes(b, key.KeyData)
	b = protowire.AppendTag(b, keyFieldTransmissionRisk, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(key.TransmissionRiskLevel))
	b = protowire.AppendTag(b, keyFieldRollingStart, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(key.RollingStartIntervalNumber))
	b = protowire.AppendTag(b, keyFieldRollingPeriod, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(key.RollingPeriod))
	b = protowire.AppendTag(b, keyFieldDaysSinceOnset, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(key.DaysSinceOnsetOfSymptoms)))
	return b
}

// MarshalExport serializes the export to export.bin bytes, header included.
func MarshalExport(e *Export) []byte {
	b := []byte(Header)
	b = protowire.AppendTag(b, exportFieldStartTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.StartTimestamp)
	b = protowire.AppendTag(b, exportFieldEndTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.EndTimestamp)
	b = protowire.AppendTag(b, exportFieldRegion, protowire.BytesType)
	b = protowire.AppendString(b, e.Region)
	b = protowire.AppendTag(b, exportFieldBatchNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.BatchNum))
	b = protowire.AppendTag(b, exportFieldBatchSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.BatchSize))
	for _, info := range e.SignatureInfos {
		b = protowire.AppendTag(b, exportFieldSignatureInfos, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSignatureInfo(nil, info))
	}
	for _, key := range e.Keys {
		b = protowire.AppendTag(b, exportFieldKeys, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalKey(nil, key))
	}
	return b
}

// MarshalSignatureList serializes the signature list to export.sig bytes.
func MarshalSignatureList(l *SignatureList) []byte {
	var b []byte
	for _, sig := range l.Signatures {
		var entry []byte
		entry = protowire.AppendTag(entry, sigFieldSignatureInfo, protowire.BytesType)
		entry = protowire.AppendBytes(entry, marshalSignatureInfo(nil, sig.SignatureInfo))
		entry = protowire.AppendTag(entry, sigFieldBatchNum, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(sig.BatchNum))
		entry = protowire.AppendTag(entry, sigFieldBatchSize, protowire.VarintType)
		entry = protowire.AppendVarint(entry, uint64(sig.BatchSize))
		entry = protowire.AppendTag(entry, sigFieldSignature, protowire.BytesType)
		entry = protowire.AppendBytes(entry, sig.Signature)

		b = protowire.AppendTag(b, sigListFieldSignatures, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

type fieldHandler func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error)

// walkMessage consumes every field of a message body, delegating known fields
// to handle and skipping unknown ones, which keeps decoding forward
// compatible.
func walkMessage(b []byte, handle fieldHandler) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		consumed, handled, err := handle(num, typ, b)
		if err != nil {
			return err
		}
		if !handled {
			consumed = protowire.ConsumeFieldValue(num, typ, b)
			if consumed < 0 {
				return protowire.ParseError(consumed)
			}
		}
		b = b[consumed:]
	}
	return nil
}

func parseSignatureInfo(b []byte) (SignatureInfo, error) {
	var info SignatureInfo
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		if typ != protowire.BytesType {
			return 0, false, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, false, protowire.ParseError(n)
		}
		switch num {
		case sigInfoFieldAppBundleID:
			info.AppBundleID = string(v)
		case sigInfoFieldAndroidPackage:
			info.AndroidPackage = string(v)
		case sigInfoFieldKeyVersion:
			info.VerificationKeyVersion = string(v)
		case sigInfoFieldKeyID:
			info.VerificationKeyID = string(v)
		case sigInfoFieldSignatureAlgorithm:
			info.SignatureAlgorithm = string(v)
		default:
			return 0, false, nil
		}
		return n, true, nil
	})
	return info, err
}

func parseKey(b []byte) (Key, error) {
	var key Key
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch {
		case num == keyFieldKeyData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			key.KeyData = append([]byte(nil), v...)
			return n, true, nil
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			switch num {
			case keyFieldTransmissionRisk:
				key.TransmissionRiskLevel = int32(v)
			case keyFieldRollingStart:
				key.RollingStartIntervalNumber = int32(v)
			case keyFieldRollingPeriod:
				key.RollingPeriod = int32(v)
			case keyFieldDaysSinceOnset:
				key.DaysSinceOnsetOfSymptoms = int32(protowire.DecodeZigZag(v))
			default:
				return 0, false, nil
			}
			return n, true, nil
		}
		return 0, false, nil
	})
	return key, err
}

// ParseExport decodes export.bin bytes, header included. Unknown fields are
// ignored.
func ParseExport(data []byte) (*Export, error) {
	if len(data) < len(Header) || string(data[:len(Header)]) != Header {
		return nil, fmt.Errorf("missing export header")
	}

	var e Export
	err := walkMessage(data[len(Header):], func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch {
		case (num == exportFieldStartTimestamp || num == exportFieldEndTimestamp) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			if num == exportFieldStartTimestamp {
				e.StartTimestamp = v
			} else {
				e.EndTimestamp = v
			}
			return n, true, nil
		case num == exportFieldRegion && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			e.Region = string(v)
			return n, true, nil
		case (num == exportFieldBatchNum || num == exportFieldBatchSize) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			if num == exportFieldBatchNum {
				e.BatchNum = int32(v)
			} else {
				e.BatchSize = int32(v)
			}
			return n, true, nil
		case num == exportFieldSignatureInfos && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			info, err := parseSignatureInfo(v)
			if err != nil {
				return 0, false, err
			}
			e.SignatureInfos = append(e.SignatureInfos, info)
			return n, true, nil
		case num == exportFieldKeys && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			key, err := parseKey(v)
			if err != nil {
				return 0, false, err
			}
			e.Keys = append(e.Keys, key)
			return n, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed export: %w", err)
	}
	return &e, nil
}

// ParseSignatureList decodes export.sig bytes.
func ParseSignatureList(data []byte) (*SignatureList, error) {
	var l SignatureList
	err := walkMessage(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		if num != sigListFieldSignatures || typ != protowire.BytesType {
			return 0, false, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, false, protowire.ParseError(n)
		}

		var sig TEKSignature
		err := walkMessage(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
			switch {
			case num == sigFieldSignatureInfo && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return 0, false, protowire.ParseError(n)
				}
				info, err := parseSignatureInfo(v)
				if err != nil {
					return 0, false, err
				}
				sig.SignatureInfo = info
				return n, true, nil
			case (num == sigFieldBatchNum || num == sigFieldBatchSize) && typ == protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return 0, false, protowire.ParseError(n)
				}
				if num == sigFieldBatchNum {
					sig.BatchNum = int32(v)
				} else {
					sig.BatchSize = int32(v)
				}
				return n, true, nil
			case num == sigFieldSignature && typ == protowire.BytesType:
				v, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return 0, false, protowire.ParseError(n)
				}
				sig.Signature = append([]byte(nil), v...)
				return n, true, nil
			}
			return 0, false, nil
		})
		if err != nil {
			return 0, false, err
		}
		l.Signatures = append(l.Signatures, sig)
		return n, true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed signature list: %w", err)
	}
	return &l, nil
}
