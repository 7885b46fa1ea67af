package joiner

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
)

// PanIDBroadcast is the PAN id sentinel meaning "no PAN selected".
const PanIDBroadcast uint16 = 0xffff

// DefaultRotationDelay is how long after a successful entrust the
// device waits before rotating its hardware identity, allowing the
// secured channel teardown to settle first.
const DefaultRotationDelay = 8 * time.Second

// Joiner errors.
var (
	// ErrBusy indicates a join attempt is already in flight.
	ErrBusy = errors.New("join attempt already in progress")

	// ErrNoCandidate indicates discovery completed without an eligible router.
	ErrNoCandidate = errors.New("no eligible commissioning router found")

	// ErrConnectFailed indicates the secured channel could not be established.
	ErrConnectFailed = errors.New("secured channel connect failed")

	// ErrFinalizeFailed indicates the finalize exchange failed at the
	// transport or produced an invalid response.
	ErrFinalizeFailed = errors.New("finalize exchange failed")

	// ErrFinalizeRejected indicates the commissioner rejected the joiner.
	ErrFinalizeRejected = errors.New("finalize rejected by commissioner")

	// ErrStopped indicates the attempt was stopped locally.
	ErrStopped = errors.New("join attempt stopped")
)

// ExtAddress is an 8-byte extended (hardware) link-layer identity.
type ExtAddress [8]byte

// String returns the address as colon-separated hex.
func (a ExtAddress) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

// ParseExtAddress parses 16 hex characters (colons optional) into an
// extended address.
func ParseExtAddress(s string) (ExtAddress, error) {
	var addr ExtAddress
	s = strings.ReplaceAll(s, ":", "")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("invalid extended address %q: %w", s, err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("invalid extended address length %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// LinkLocalAddress derives the IPv6 link-local address that uses the
// extended address as its interface identifier.
func LinkLocalAddress(ext ExtAddress) netip.Addr {
	var raw [16]byte
	raw[0] = 0xfe
	raw[1] = 0x80
	copy(raw[8:], ext[:])
	return netip.AddrFrom16(raw)
}

// DiscoveryResult is one observation from the discovery scan.
type DiscoveryResult struct {
	// ExtAddress is the responding router's hardware identity.
	ExtAddress ExtAddress

	// PanID is the router's PAN identifier.
	PanID uint16

	// Channel is the radio channel the router was heard on.
	Channel uint8

	// JoinerUDPPort is the router's joining UDP port.
	JoinerUDPPort uint16

	// SteeringData is the router's steering bitmap.
	SteeringData meshcop.SteeringData

	// Addr optionally carries the router's concrete IP address (set by
	// IP-bearing discoverers such as mDNS). When zero, the link-local
	// address derived from ExtAddress is used.
	Addr netip.Addr
}

// CandidateRouter is the selected join target.
type CandidateRouter struct {
	ExtAddress ExtAddress
	PanID      uint16
	Channel    uint8
	UDPPort    uint16
	Addr       netip.Addr
}

// peer returns the address and port to connect the secured channel to.
func (c *CandidateRouter) peer() netip.AddrPort {
	addr := c.Addr
	if !addr.IsValid() {
		addr = LinkLocalAddress(c.ExtAddress)
	}
	return netip.AddrPortFrom(addr, c.UDPPort)
}

// Credentials is the network join material delivered by the entrust
// push. All five fields are validated before any of them is applied.
type Credentials struct {
	MasterKey       [meshcop.MasterKeySize]byte
	MeshLocalPrefix [meshcop.MeshLocalPrefixSize]byte
	ExtendedPanID   [meshcop.ExtendedPanIDSize]byte
	NetworkName     string
	ActiveTimestamp meshcop.ActiveTimestamp
}

// State is the session lifecycle position.
type State uint8

const (
	// StateIdle - no join attempt has been started.
	StateIdle State = iota

	// StateDiscovering - waiting for discovery results.
	StateDiscovering

	// StateConnecting - secured channel connect in progress.
	StateConnecting

	// StateFinalizing - finalize request sent, awaiting the response.
	StateFinalizing

	// StateEntrusted - credentials received and installed.
	StateEntrusted

	// StateClosed - attempt finished; reachable from every state.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateConnecting:
		return "CONNECTING"
	case StateFinalizing:
		return "FINALIZING"
	case StateEntrusted:
		return "ENTRUSTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
