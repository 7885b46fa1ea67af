package meshcop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Fixed value sizes and bounds.
const (
	// MasterKeySize is the size of the network master key in bytes.
	MasterKeySize = 16

	// MeshLocalPrefixSize is the size of the mesh-local prefix in bytes.
	MeshLocalPrefixSize = 8

	// ExtendedPanIDSize is the size of the extended PAN id in bytes.
	ExtendedPanIDSize = 8

	// MaxNetworkNameLength is the maximum network name length in bytes.
	MaxNetworkNameLength = 16

	// TimestampSize is the size of the active timestamp value in bytes.
	TimestampSize = 8

	// MaxProvisioningURLLength is the maximum provisioning URL length.
	MaxProvisioningURLLength = 64

	// MinPSKdLength and MaxPSKdLength bound the joining device credential.
	MinPSKdLength = 6
	MaxPSKdLength = 32
)

// Well-known URI paths for the joining exchanges.
const (
	// URIJoinerFinalize is the joiner finalize path (joiner to commissioner).
	URIJoinerFinalize = "c/jf"

	// URIJoinerEntrust is the joiner entrust path (commissioner push to joiner).
	URIJoinerEntrust = "c/je"
)

// StateValue is the value of a State TLV.
type StateValue int8

// State TLV values.
const (
	StateReject  StateValue = -1
	StatePending StateValue = 0
	StateAccept  StateValue = 1
)

// String returns the state value name.
func (s StateValue) String() string {
	switch s {
	case StateReject:
		return "REJECT"
	case StatePending:
		return "PENDING"
	case StateAccept:
		return "ACCEPT"
	default:
		return "UNKNOWN"
	}
}

// valid reports whether s is one of the defined state values.
func (s StateValue) valid() bool {
	return s == StateReject || s == StatePending || s == StateAccept
}

// AppendState encodes a State TLV onto dst.
func AppendState(dst []byte, s StateValue) []byte {
	out, _ := Append(dst, TypeState, []byte{byte(s)})
	return out
}

// FindState fetches and validates the State TLV.
func FindState(payload []byte) (StateValue, error) {
	value, err := Find(payload, TypeState)
	if err != nil {
		return 0, err
	}
	if len(value) != 1 {
		return 0, fmt.Errorf("%w: state length %d", ErrTLVInvalid, len(value))
	}
	s := StateValue(value[0])
	if !s.valid() {
		return 0, fmt.Errorf("%w: state %d", ErrTLVInvalid, int8(s))
	}
	return s, nil
}

// FindMasterKey fetches and validates the NetworkMasterKey TLV.
func FindMasterKey(payload []byte) ([MasterKeySize]byte, error) {
	var key [MasterKeySize]byte
	value, err := Find(payload, TypeNetworkMasterKey)
	if err != nil {
		return key, err
	}
	if len(value) != MasterKeySize {
		return key, fmt.Errorf("%w: master key length %d", ErrTLVInvalid, len(value))
	}
	copy(key[:], value)
	return key, nil
}

// FindMeshLocalPrefix fetches and validates the MeshLocalPrefix TLV.
func FindMeshLocalPrefix(payload []byte) ([MeshLocalPrefixSize]byte, error) {
	var prefix [MeshLocalPrefixSize]byte
	value, err := Find(payload, TypeMeshLocalPrefix)
	if err != nil {
		return prefix, err
	}
	if len(value) != MeshLocalPrefixSize {
		return prefix, fmt.Errorf("%w: mesh-local prefix length %d", ErrTLVInvalid, len(value))
	}
	copy(prefix[:], value)
	return prefix, nil
}

// FindExtendedPanID fetches and validates the ExtendedPanID TLV.
func FindExtendedPanID(payload []byte) ([ExtendedPanIDSize]byte, error) {
	var xpan [ExtendedPanIDSize]byte
	value, err := Find(payload, TypeExtendedPanID)
	if err != nil {
		return xpan, err
	}
	if len(value) != ExtendedPanIDSize {
		return xpan, fmt.Errorf("%w: extended PAN id length %d", ErrTLVInvalid, len(value))
	}
	copy(xpan[:], value)
	return xpan, nil
}

// FindNetworkName fetches and validates the NetworkName TLV.
func FindNetworkName(payload []byte) (string, error) {
	value, err := Find(payload, TypeNetworkName)
	if err != nil {
		return "", err
	}
	if len(value) == 0 || len(value) > MaxNetworkNameLength {
		return "", fmt.Errorf("%w: network name length %d", ErrTLVInvalid, len(value))
	}
	return string(value), nil
}

// ActiveTimestamp is the decoded value of an ActiveTimestamp TLV:
// a 48-bit seconds value, a 15-bit sub-second tick count, and the
// authoritative flag in the lowest bit.
type ActiveTimestamp struct {
	Seconds       uint64
	Ticks         uint16
	Authoritative bool
}

// Encode returns the 8-byte wire value.
func (ts ActiveTimestamp) Encode() [TimestampSize]byte {
	var out [TimestampSize]byte
	binary.BigEndian.PutUint64(out[:], ts.Seconds<<16)
	tail := ts.Ticks << 1
	if ts.Authoritative {
		tail |= 1
	}
	binary.BigEndian.PutUint16(out[6:], tail)
	return out
}

// FindActiveTimestamp fetches and validates the ActiveTimestamp TLV.
func FindActiveTimestamp(payload []byte) (ActiveTimestamp, error) {
	value, err := Find(payload, TypeActiveTimestamp)
	if err != nil {
		return ActiveTimestamp{}, err
	}
	if len(value) != TimestampSize {
		return ActiveTimestamp{}, fmt.Errorf("%w: timestamp length %d", ErrTLVInvalid, len(value))
	}
	raw := binary.BigEndian.Uint64(value)
	tail := binary.BigEndian.Uint16(value[6:])
	return ActiveTimestamp{
		Seconds:       raw >> 16,
		Ticks:         tail >> 1,
		Authoritative: tail&1 != 0,
	}, nil
}

// pskdAlphabet is the commissioning credential character set:
// uppercase alphanumeric excluding the easily confused I, O, Q and Z.
const pskdAlphabet = "0123456789ABCDEFGHJKLMNPRSTUVWXY"

// Credential validation errors.
var (
	// ErrInvalidPSKd indicates a joining credential outside the length
	// or character-set rules.
	ErrInvalidPSKd = errors.New("invalid PSKd")

	// ErrInvalidProvisioningURL indicates an oversized provisioning URL.
	ErrInvalidProvisioningURL = errors.New("invalid provisioning URL")
)

// ValidatePSKd checks the joining device credential against the
// commissioning length and character-set rules.
func ValidatePSKd(pskd string) error {
	if len(pskd) < MinPSKdLength || len(pskd) > MaxPSKdLength {
		return fmt.Errorf("%w: must be %d-%d characters, got %d", ErrInvalidPSKd, MinPSKdLength, MaxPSKdLength, len(pskd))
	}
	for i := 0; i < len(pskd); i++ {
		if !strings.ContainsRune(pskdAlphabet, rune(pskd[i])) {
			return fmt.Errorf("%w: character %q at position %d", ErrInvalidPSKd, pskd[i], i)
		}
	}
	return nil
}

// ValidateProvisioningURL checks the provisioning URL length bound.
// An empty URL is valid and means "not configured".
func ValidateProvisioningURL(url string) error {
	if len(url) > MaxProvisioningURLLength {
		return fmt.Errorf("%w: exceeds %d bytes: %d", ErrInvalidProvisioningURL, MaxProvisioningURLLength, len(url))
	}
	return nil
}
