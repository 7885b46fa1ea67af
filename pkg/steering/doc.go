// Package steering implements the probabilistic eligibility filter used
// during mesh commissioning discovery.
//
// The commissioner broadcasts a steering bitmap instead of exact device
// identities. A joining device computes two independent CRC16 checksums
// over its 8-byte hardware identity, reduces each modulo the bitmap
// length, and is eligible only when both addressed bits are set. This is
// a two-hash Bloom-filter membership test: false positives are possible
// and bounded by bitmap density, false negatives cannot occur for
// identities the commissioner covered with Cover.
package steering
