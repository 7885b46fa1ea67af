package steering

// CRC16 polynomials used by the steering filter. Both checksums run
// MSB-first with a zero initial value and no reflection or final XOR.
const (
	// PolyCCITT is the CCITT polynomial (x^16 + x^12 + x^5 + 1).
	PolyCCITT uint16 = 0x1021

	// PolyANSI is the ANSI polynomial (x^16 + x^15 + x^2 + 1).
	PolyANSI uint16 = 0x8005
)

// CRC16 is a bitwise CRC16 accumulator.
type CRC16 struct {
	poly uint16
	crc  uint16
}

// NewCRC16 creates an accumulator for the given polynomial.
func NewCRC16(poly uint16) *CRC16 {
	return &CRC16{poly: poly}
}

// Update feeds one byte into the checksum.
func (c *CRC16) Update(b byte) {
	c.crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if c.crc&0x8000 != 0 {
			c.crc = c.crc<<1 ^ c.poly
		} else {
			c.crc <<= 1
		}
	}
}

// Sum returns the current checksum value.
func (c *CRC16) Sum() uint16 {
	return c.crc
}

// Checksum returns the CRC16 of data under the given polynomial.
func Checksum(poly uint16, data []byte) uint16 {
	c := NewCRC16(poly)
	for _, b := range data {
		c.Update(b)
	}
	return c.Sum()
}
