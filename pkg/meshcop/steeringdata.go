package meshcop

import (
	"errors"
	"fmt"
)

// MaxSteeringDataLength is the maximum steering bitmap length in bytes.
const MaxSteeringDataLength = 16

// ErrEmptySteeringData indicates a zero-length bitmap, which can never
// be indexed.
var ErrEmptySteeringData = errors.New("empty steering data")

// SteeringData is the steering bitmap carried in a discovery result.
// Bit i addresses the bitmap from its final byte, least-significant bit
// first, matching the commissioner-side construction.
type SteeringData []byte

// Validate checks the bitmap length bounds.
func (s SteeringData) Validate() error {
	if len(s) == 0 {
		return ErrEmptySteeringData
	}
	if len(s) > MaxSteeringDataLength {
		return fmt.Errorf("%w: steering data length %d", ErrTLVInvalid, len(s))
	}
	return nil
}

// NumBits returns the bitmap length in bits.
func (s SteeringData) NumBits() int {
	return len(s) * 8
}

// Bit reports whether bit i is set. The index must already be reduced
// modulo NumBits.
func (s SteeringData) Bit(i int) bool {
	return s[len(s)-1-i/8]&(1<<(i%8)) != 0
}

// SetBit sets bit i. The index must already be reduced modulo NumBits.
func (s SteeringData) SetBit(i int) {
	s[len(s)-1-i/8] |= 1 << (i % 8)
}

// Clone returns an owned copy of the bitmap.
func (s SteeringData) Clone() SteeringData {
	out := make(SteeringData, len(s))
	copy(out, s)
	return out
}

// FindSteeringData fetches and validates the SteeringData TLV, returning
// an owned copy of the bitmap.
func FindSteeringData(payload []byte) (SteeringData, error) {
	value, err := Find(payload, TypeSteeringData)
	if err != nil {
		return nil, err
	}
	s := SteeringData(value)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}
