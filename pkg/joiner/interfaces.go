package joiner

import (
	"errors"
	"net/netip"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

// LinkLayer exposes the radio identity and addressing parameters the
// joiner programs during an attempt.
type LinkLayer interface {
	// FactoryAddress returns the factory-assigned hardware identity the
	// attempt starts from.
	FactoryAddress() ExtAddress

	// SetExtAddress installs the active hardware identity.
	SetExtAddress(addr ExtAddress)

	// PanID returns the currently configured PAN id.
	PanID() uint16

	// SetPanID programs the radio PAN id.
	SetPanID(panID uint16)

	// SetChannel programs the radio channel.
	SetChannel(channel uint8)

	// SetExtendedPanID installs the provisioned extended PAN id.
	SetExtendedPanID(xpan [8]byte)

	// SetNetworkName installs the provisioned network name. The name is
	// validated against the protocol length bound before this is called.
	SetNetworkName(name string)
}

// MeshAddressing exposes the mesh address configuration the joiner
// updates when credentials arrive or the identity rotates.
type MeshAddressing interface {
	// SetMeshLocalPrefix installs the provisioned mesh-local prefix.
	SetMeshLocalPrefix(prefix [8]byte)

	// RefreshLinkLocalAddress re-derives the link-local address after an
	// identity change.
	RefreshLinkLocalAddress()
}

// KeyManager stores the provisioned network master key.
type KeyManager interface {
	SetMasterKey(key [16]byte)
}

// Discoverer runs the network discovery scan. Implementations deliver
// zero or more results followed by one terminal nil result, each as a
// separate asynchronous event; onResult must not be invoked from within
// Discover itself.
type Discoverer interface {
	Discover(panID uint16, onResult func(*DiscoveryResult)) error
}

// SecureChannel is the encrypted, authenticated transport the finalize
// exchange rides on. The joiner drives its lifecycle but does not
// implement it; completion callbacks may arrive on any goroutine.
type SecureChannel interface {
	// SetPSK installs the pre-shared key, enforcing length bounds.
	SetPSK(psk []byte) error

	// Connect starts connecting to the peer and reports completion
	// through onConnect. A nil error means the channel is established.
	Connect(peer netip.AddrPort, onConnect func(error)) error

	// Disconnect tears the channel down. Safe to call in any state.
	Disconnect()

	// LocalPort returns the channel's local UDP port, used for the
	// unsecured-port firewall exception.
	LocalPort() uint16

	// SendRequest sends a confirmable request over the established
	// channel and registers onResponse for the acknowledgment.
	SendRequest(msg *transfer.Message, onResponse transfer.ResponseHandler) error
}

// Messaging is the plain (unsecured) request/response endpoint that
// delivers the entrust push and carries its acknowledgment.
type Messaging interface {
	AddResource(uri string, handler transfer.Handler)
	SendTo(msg *transfer.Message, to netip.AddrPort) error
}

// Compile-time check: the UDP endpoint satisfies Messaging.
var _ Messaging = (*transfer.UDPServer)(nil)

// PortFilter opens and closes the firewall exception that lets the
// secured channel's unsecured handshake datagrams through.
type PortFilter interface {
	AddUnsecurePort(port uint16)
	RemoveUnsecurePort(port uint16)
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports false if the callback already
	// fired or was stopped before.
	Stop() bool
}

// Scheduler arms one-shot timers. The joiner's only core-owned timer is
// the identity-rotation delay.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Timer
}

// SystemScheduler schedules timers on the Go runtime.
type SystemScheduler struct{}

// Schedule arms fn to run once after d.
func (SystemScheduler) Schedule(d time.Duration, fn func()) Timer {
	return systemTimer{time.AfterFunc(d, fn)}
}

type systemTimer struct {
	t *time.Timer
}

func (t systemTimer) Stop() bool {
	return t.t.Stop()
}

// Compile-time interface satisfaction check.
var _ Scheduler = SystemScheduler{}

// errMissingDep reports an incomplete Deps value.
var errMissingDep = errors.New("missing joiner dependency")
