package steering

import (
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
)

// Indexes returns the two bit positions a hardware identity addresses in
// a bitmap of numBits bits. numBits must be positive.
func Indexes(ext [8]byte, numBits int) (ccitt, ansi int) {
	ccitt = int(Checksum(PolyCCITT, ext[:])) % numBits
	ansi = int(Checksum(PolyANSI, ext[:])) % numBits
	return ccitt, ansi
}

// Matches reports whether the hardware identity is eligible under the
// steering bitmap: both derived bit positions must be set. An empty or
// oversized bitmap is rejected before any index computation.
func Matches(ext [8]byte, bitmap meshcop.SteeringData) (bool, error) {
	if err := bitmap.Validate(); err != nil {
		return false, err
	}
	ccitt, ansi := Indexes(ext, bitmap.NumBits())
	return bitmap.Bit(ccitt) && bitmap.Bit(ansi), nil
}

// Cover sets both bit positions for the hardware identity, so that
// Matches reports true for it. This is the commissioner-side half of
// the filter, used by simulators and tests.
func Cover(ext [8]byte, bitmap meshcop.SteeringData) error {
	if err := bitmap.Validate(); err != nil {
		return err
	}
	ccitt, ansi := Indexes(ext, bitmap.NumBits())
	bitmap.SetBit(ccitt)
	bitmap.SetBit(ansi)
	return nil
}
