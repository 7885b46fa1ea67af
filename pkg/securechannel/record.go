package securechannel

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Channel limits.
const (
	// MaxPSKLength bounds the pre-shared key.
	MaxPSKLength = 32

	// randomSize is the size of each handshake random.
	randomSize = 32

	// counterSize is the explicit record counter size.
	counterSize = 8

	// MaxRecordSize bounds one protected datagram.
	MaxRecordSize = 2048
)

// Record type bytes.
const (
	recClientHello byte = 0x01
	recServerHello byte = 0x02
	recData        byte = 0x03
)

// Channel errors.
var (
	// ErrPSKLength indicates an empty or oversized pre-shared key.
	ErrPSKLength = errors.New("invalid PSK length")

	// ErrNoPSK indicates no pre-shared key has been installed.
	ErrNoPSK = errors.New("no PSK installed")

	// ErrNotConnected indicates the channel is not established.
	ErrNotConnected = errors.New("channel not connected")

	// ErrConnectInProgress indicates Connect was called twice.
	ErrConnectInProgress = errors.New("connect already in progress")

	// ErrChannelClosed indicates the channel was torn down.
	ErrChannelClosed = errors.New("channel closed")

	// ErrHandshakeTimeout indicates the server hello never arrived.
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrBadRecord indicates a record that failed parsing or
	// authentication. Such records are dropped.
	ErrBadRecord = errors.New("bad record")

	// ErrReplay indicates a record counter that did not advance.
	ErrReplay = errors.New("replayed record")
)

// hkdfInfo binds the derived keys to this protocol.
const hkdfInfo = "meshcop secured channel v1"

// deriveKeys derives the two direction keys from the PSK and the
// handshake randoms.
func deriveKeys(psk, clientRandom, serverRandom []byte) (clientToServer, serverToClient cipher.AEAD, err error) {
	salt := make([]byte, 0, 2*randomSize)
	salt = append(salt, clientRandom...)
	salt = append(salt, serverRandom...)

	material := make([]byte, 2*chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, psk, salt, []byte(hkdfInfo)), material); err != nil {
		return nil, nil, fmt.Errorf("key derivation failed: %w", err)
	}

	clientToServer, err = chacha20poly1305.New(material[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, nil, err
	}
	serverToClient, err = chacha20poly1305.New(material[chacha20poly1305.KeySize:])
	if err != nil {
		return nil, nil, err
	}
	return clientToServer, serverToClient, nil
}

// recordNonce builds the 12-byte nonce for a record counter.
func recordNonce(counter uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// sealRecord protects plaintext into a data record under the given key
// and counter. An empty plaintext is the close signal.
func sealRecord(key cipher.AEAD, counter uint64, plaintext []byte) []byte {
	nonce := recordNonce(counter)
	out := make([]byte, 1+counterSize, 1+counterSize+len(plaintext)+key.Overhead())
	out[0] = recData
	binary.BigEndian.PutUint64(out[1:], counter)
	return key.Seal(out, nonce[:], plaintext, out[:1+counterSize])
}

// openRecord authenticates and decrypts a data record, enforcing that
// the counter advances past lastCounter.
func openRecord(key cipher.AEAD, lastCounter uint64, record []byte) (plaintext []byte, counter uint64, err error) {
	if len(record) < 1+counterSize+key.Overhead() || record[0] != recData {
		return nil, 0, ErrBadRecord
	}
	counter = binary.BigEndian.Uint64(record[1:])
	if counter <= lastCounter {
		return nil, 0, ErrReplay
	}
	nonce := recordNonce(counter)
	plaintext, err = key.Open(nil, nonce[:], record[1+counterSize:], record[:1+counterSize])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return plaintext, counter, nil
}
