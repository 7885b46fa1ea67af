package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Service identity for joining announcements.
const (
	// ServiceType is the mDNS service routers accepting joining traffic
	// announce.
	ServiceType = "_meshcop._udp"

	// Domain is the mDNS domain.
	Domain = "local."
)

// AdvertiserConfig configures joining service announcements.
type AdvertiserConfig struct {
	// InstanceName is the mDNS instance name. Empty derives one from the
	// announced hardware identity.
	InstanceName string

	// Interface restricts announcements to one network interface. Empty
	// means all interfaces.
	Interface string

	// TTL overrides the record time-to-live. Zero keeps the library default.
	TTL time.Duration
}

// Advertiser publishes the commissioner-side joining service over mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser. Nothing is announced until
// Advertise is called.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise starts announcing the joining service, replacing any
// previous announcement.
func (a *Advertiser) Advertise(info *AgentInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	instanceName := a.config.InstanceName
	if instanceName == "" {
		instanceName = fmt.Sprintf("meshcop-%s", info.ExtAddress)
	}

	txtStrings := TXTRecordsToStrings(EncodeAgentTXT(info))

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		int(info.JoinerUDPPort),
		txtStrings,
		a.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register joining service: %w", err)
	}

	a.server = server
	return nil
}

// Update replaces the announced TXT records, typically after a steering
// bitmap change.
func (a *Advertiser) Update(info *AgentInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return fmt.Errorf("no active announcement")
	}
	a.server.SetText(TXTRecordsToStrings(EncodeAgentTXT(info)))
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns the interfaces to announce on, nil for all.
func (a *Advertiser) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
