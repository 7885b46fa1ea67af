// Package softdevice is a software stand-in for the radio platform the
// joiner drives: it stores the link identity, addressing parameters and
// credentials in memory instead of programming hardware. The daemon and
// the test harness both run on it.
package softdevice

import (
	"net/netip"
	"sync"

	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
)

// Device implements the joiner's platform interfaces in memory.
type Device struct {
	mu sync.Mutex

	factory    joiner.ExtAddress
	ext        joiner.ExtAddress
	panID      uint16
	channel    uint8
	xpan       [8]byte
	name       string
	masterKey  [16]byte
	hasKey     bool
	meshPrefix [8]byte
	linkLocal  netip.Addr

	unsecurePorts map[uint16]struct{}
}

// Compile-time checks: Device is a complete platform.
var (
	_ joiner.LinkLayer      = (*Device)(nil)
	_ joiner.MeshAddressing = (*Device)(nil)
	_ joiner.KeyManager     = (*Device)(nil)
	_ joiner.PortFilter     = (*Device)(nil)
)

// New creates a device with the given factory identity. The PAN id
// starts at the broadcast sentinel, meaning no PAN is configured.
func New(factory joiner.ExtAddress) *Device {
	d := &Device{
		factory:       factory,
		ext:           factory,
		panID:         joiner.PanIDBroadcast,
		unsecurePorts: make(map[uint16]struct{}),
	}
	d.linkLocal = joiner.LinkLocalAddress(factory)
	return d
}

func (d *Device) FactoryAddress() joiner.ExtAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.factory
}

func (d *Device) SetExtAddress(addr joiner.ExtAddress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ext = addr
}

// ExtAddress returns the active hardware identity.
func (d *Device) ExtAddress() joiner.ExtAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ext
}

func (d *Device) PanID() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.panID
}

func (d *Device) SetPanID(panID uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panID = panID
}

func (d *Device) SetChannel(channel uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channel = channel
}

// Channel returns the configured radio channel.
func (d *Device) Channel() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel
}

func (d *Device) SetExtendedPanID(xpan [8]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.xpan = xpan
}

// ExtendedPanID returns the provisioned extended PAN id.
func (d *Device) ExtendedPanID() [8]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.xpan
}

func (d *Device) SetNetworkName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.name = name
}

// NetworkName returns the provisioned network name.
func (d *Device) NetworkName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Device) SetMasterKey(key [16]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.masterKey = key
	d.hasKey = true
}

// MasterKey returns the provisioned master key and whether one is set.
func (d *Device) MasterKey() ([16]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.masterKey, d.hasKey
}

func (d *Device) SetMeshLocalPrefix(prefix [8]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.meshPrefix = prefix
}

// MeshLocalPrefix returns the provisioned mesh-local prefix.
func (d *Device) MeshLocalPrefix() [8]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.meshPrefix
}

func (d *Device) RefreshLinkLocalAddress() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linkLocal = joiner.LinkLocalAddress(d.ext)
}

// LinkLocalAddr returns the derived link-local address.
func (d *Device) LinkLocalAddr() netip.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.linkLocal
}

func (d *Device) AddUnsecurePort(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unsecurePorts[port] = struct{}{}
}

func (d *Device) RemoveUnsecurePort(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.unsecurePorts, port)
}

// UnsecurePorts returns the currently open firewall exceptions.
func (d *Device) UnsecurePorts() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ports := make([]uint16, 0, len(d.unsecurePorts))
	for p := range d.unsecurePorts {
		ports = append(ports, p)
	}
	return ports
}
