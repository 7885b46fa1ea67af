package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// DefaultBrowseWindow bounds one discovery scan.
const DefaultBrowseWindow = 5 * time.Second

// AgentService is one joining service announcement heard on the network.
type AgentService struct {
	AgentInfo

	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the announced hostname.
	Host string

	// Addr is the router's first usable IP address. Invalid when the
	// announcement carried no address records.
	Addr netip.Addr
}

// BrowserConfig configures discovery scans.
type BrowserConfig struct {
	// Window bounds one scan (default: DefaultBrowseWindow).
	Window time.Duration

	// Interface restricts browsing to one network interface. Empty
	// means all interfaces.
	Interface string
}

// Browser collects joining service announcements.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Window == 0 {
		config.Window = DefaultBrowseWindow
	}
	return &Browser{config: config}
}

// Browse scans for joining services until the window elapses or ctx is
// cancelled. The returned channel is closed when the scan ends.
// Announcements with malformed TXT records are dropped.
func (b *Browser) Browse(ctx context.Context) (<-chan *AgentService, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Window)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	out := make(chan *AgentService)

	// Browse owns the entries channel and closes it when the window
	// elapses or ctx is cancelled.
	go func() {
		defer cancel()
		defer close(out)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc, err := entryToAgentService(entry)
				if err != nil {
					continue
				}
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			case <-removed:
				// A withdrawn announcement does not retract an already
				// delivered result; the scan is observe-only.
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...)
	}()

	return out, nil
}

// browserOptions returns zeroconf client options based on config.
func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToAgentService decodes one mDNS entry into an announcement.
func entryToAgentService(entry *zeroconf.ServiceEntry) (*AgentService, error) {
	info, err := DecodeAgentTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil, fmt.Errorf("entry %q: %w", entry.Instance, err)
	}

	svc := &AgentService{
		AgentInfo:    *info,
		InstanceName: entry.Instance,
		Host:         entry.HostName,
	}

	// Prefer IPv6; joining traffic is IPv6-native.
	for _, ip := range entry.AddrIPv6 {
		if addr, ok := netip.AddrFromSlice(ip); ok {
			svc.Addr = addr.Unmap()
			break
		}
	}
	if !svc.Addr.IsValid() {
		for _, ip := range entry.AddrIPv4 {
			if addr, ok := netip.AddrFromSlice(ip); ok {
				svc.Addr = addr.Unmap()
				break
			}
		}
	}
	return svc, nil
}
