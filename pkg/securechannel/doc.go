// Package securechannel provides the pre-shared-key secured transport
// the joiner finalize exchange rides on.
//
// The channel runs over UDP. A two-message handshake exchanges client
// and server randoms and derives independent per-direction keys from
// the PSK with HKDF-SHA256; the server proves key knowledge by sealing
// a confirmation in its hello. Application records are protected with
// ChaCha20-Poly1305 under explicit per-direction counters, which double
// as replay protection.
//
// Client implements the joiner's SecureChannel interface; Server is the
// commissioner-side counterpart used by the simulator and tests.
package securechannel
