package discovery

import (
	"context"

	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
)

// MDNSDiscoverer runs the joiner's discovery scan over mDNS. Each
// announcement heard during the browse window becomes one discovery
// result; the end of the window is reported as a terminal nil result.
type MDNSDiscoverer struct {
	browser *Browser
}

// Compile-time check: the adapter drives the joiner's scan.
var _ joiner.Discoverer = (*MDNSDiscoverer)(nil)

// NewMDNSDiscoverer creates a discoverer browsing with the given config.
func NewMDNSDiscoverer(config BrowserConfig) *MDNSDiscoverer {
	return &MDNSDiscoverer{browser: NewBrowser(config)}
}

// Discover starts one scan. Results are delivered asynchronously;
// announcements for a different PAN are dropped unless panID is the
// broadcast sentinel.
func (d *MDNSDiscoverer) Discover(panID uint16, onResult func(*joiner.DiscoveryResult)) error {
	out, err := d.browser.Browse(context.Background())
	if err != nil {
		return err
	}

	go func() {
		for svc := range out {
			if panID != joiner.PanIDBroadcast && svc.PanID != panID {
				continue
			}
			onResult(&joiner.DiscoveryResult{
				ExtAddress:    svc.ExtAddress,
				PanID:         svc.PanID,
				Channel:       svc.Channel,
				JoinerUDPPort: svc.JoinerUDPPort,
				SteeringData:  svc.SteeringData.Clone(),
				Addr:          svc.Addr,
			})
		}
		onResult(nil)
	}()
	return nil
}
