package meshcop

import (
	"errors"
	"fmt"
)

// Type identifies a MeshCoP TLV.
type Type uint8

// TLV type codes.
const (
	TypeChannel               Type = 0
	TypePanID                 Type = 1
	TypeExtendedPanID         Type = 2
	TypeNetworkName           Type = 3
	TypePSKc                  Type = 4
	TypeNetworkMasterKey      Type = 5
	TypeNetworkKeySequence    Type = 6
	TypeMeshLocalPrefix       Type = 7
	TypeSteeringData          Type = 8
	TypeBorderAgentLocator    Type = 9
	TypeCommissionerID        Type = 10
	TypeCommissionerSessionID Type = 11
	TypeSecurityPolicy        Type = 12
	TypeGet                   Type = 13
	TypeActiveTimestamp       Type = 14
	TypeState                 Type = 16
	TypeJoinerUDPPort         Type = 18
	TypeJoinerIID             Type = 19
	TypeJoinerRouterLocator   Type = 20
	TypeJoinerRouterKEK       Type = 21
	TypeProvisioningURL       Type = 32
)

// String returns the TLV type name.
func (t Type) String() string {
	switch t {
	case TypeChannel:
		return "CHANNEL"
	case TypePanID:
		return "PAN_ID"
	case TypeExtendedPanID:
		return "EXTENDED_PAN_ID"
	case TypeNetworkName:
		return "NETWORK_NAME"
	case TypeNetworkMasterKey:
		return "NETWORK_MASTER_KEY"
	case TypeMeshLocalPrefix:
		return "MESH_LOCAL_PREFIX"
	case TypeSteeringData:
		return "STEERING_DATA"
	case TypeActiveTimestamp:
		return "ACTIVE_TIMESTAMP"
	case TypeState:
		return "STATE"
	case TypeJoinerUDPPort:
		return "JOINER_UDP_PORT"
	case TypeProvisioningURL:
		return "PROVISIONING_URL"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

// TLV parsing errors.
var (
	// ErrTLVTruncated indicates a TLV header or value extends past the payload.
	ErrTLVTruncated = errors.New("truncated TLV")

	// ErrTLVNotFound indicates the requested TLV type is absent.
	ErrTLVNotFound = errors.New("TLV not found")

	// ErrTLVInvalid indicates a TLV failed its type-specific validity check.
	ErrTLVInvalid = errors.New("invalid TLV value")

	// ErrValueTooLong indicates a value exceeds the one-byte length field.
	ErrValueTooLong = errors.New("TLV value too long")
)

// headerSize is the type byte plus the length byte.
const headerSize = 2

// maxValueSize is the largest value a one-byte length field can carry.
const maxValueSize = 255

// TLV is a single decoded type-length-value field. Value aliases the
// payload it was parsed from; callers that retain it must copy.
type TLV struct {
	Type  Type
	Value []byte
}

// Append encodes one TLV onto dst and returns the extended slice.
func Append(dst []byte, t Type, value []byte) ([]byte, error) {
	if len(value) > maxValueSize {
		return dst, fmt.Errorf("%w: %s is %d bytes", ErrValueTooLong, t, len(value))
	}
	dst = append(dst, byte(t), byte(len(value)))
	return append(dst, value...), nil
}

// Parse decodes all TLVs in payload. It fails on the first truncated field.
func Parse(payload []byte) ([]TLV, error) {
	var tlvs []TLV
	for off := 0; off < len(payload); {
		if off+headerSize > len(payload) {
			return nil, ErrTLVTruncated
		}
		t := Type(payload[off])
		length := int(payload[off+1])
		off += headerSize
		if off+length > len(payload) {
			return nil, fmt.Errorf("%w: %s claims %d bytes, %d remain", ErrTLVTruncated, t, length, len(payload)-off)
		}
		tlvs = append(tlvs, TLV{Type: t, Value: payload[off : off+length]})
		off += length
	}
	return tlvs, nil
}

// Find returns the value of the first TLV of type t in payload.
// The returned slice aliases payload.
func Find(payload []byte, t Type) ([]byte, error) {
	for off := 0; off < len(payload); {
		if off+headerSize > len(payload) {
			return nil, ErrTLVTruncated
		}
		cur := Type(payload[off])
		length := int(payload[off+1])
		off += headerSize
		if off+length > len(payload) {
			return nil, ErrTLVTruncated
		}
		if cur == t {
			return payload[off : off+length], nil
		}
		off += length
	}
	return nil, fmt.Errorf("%w: %s", ErrTLVNotFound, t)
}
