// Package simulator is an in-process commissioning router: it answers
// the secured finalize exchange and pushes the credential entrust the
// way a real commissioner would, over real UDP sockets. The daemon's
// --sim mode and the integration tests run against it.
package simulator

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/discovery"
	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
	"github.com/meshcop-protocol/joiner-go/pkg/log"
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
	"github.com/meshcop-protocol/joiner-go/pkg/securechannel"
	"github.com/meshcop-protocol/joiner-go/pkg/steering"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

// Config configures the simulated commissioning router.
type Config struct {
	// PSK is the joining credential the router expects.
	PSK []byte

	// ExtAddress is the router's announced hardware identity.
	ExtAddress joiner.ExtAddress

	// PanID and Channel are the announced link parameters.
	PanID   uint16
	Channel uint8

	// AllowedJoiners are the identities admitted through the steering
	// bitmap. Empty admits everyone (an all-ones bitmap).
	AllowedJoiners []joiner.ExtAddress

	// SteeringLength is the bitmap size in bytes when AllowedJoiners is
	// set (default 16).
	SteeringLength int

	// Credentials is the network material pushed in the entrust.
	Credentials joiner.Credentials

	// EntrustPort is the joiner's plain UDP port the entrust push is
	// sent to, combined with the finalize peer's IP address.
	EntrustPort uint16

	// EntrustDelay is the wait between answering the finalize and
	// pushing the entrust (default 50ms).
	EntrustDelay time.Duration

	// RejectFinalize makes the router answer finalize with a reject
	// state and skip the entrust.
	RejectFinalize bool

	// Advertise publishes the router over mDNS so external joiners can
	// discover it, in addition to the in-process Discoverer.
	Advertise bool

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// Simulator is a commissioning router running over loopback-grade UDP.
type Simulator struct {
	config     Config
	server     *securechannel.Server
	messaging  *transfer.UDPServer
	bitmap     meshcop.SteeringData
	advertiser *discovery.Advertiser

	mu        sync.Mutex
	finalized int
	acked     chan struct{}
}

// New starts the simulated router. Close releases its sockets.
func New(config Config) (*Simulator, error) {
	if config.SteeringLength == 0 {
		config.SteeringLength = meshcop.MaxSteeringDataLength
	}
	if config.EntrustDelay == 0 {
		config.EntrustDelay = 50 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	bitmap, err := buildSteering(config)
	if err != nil {
		return nil, err
	}

	server, err := securechannel.NewServer(securechannel.ServerConfig{
		Addr:   "127.0.0.1:0",
		PSK:    config.PSK,
		Logger: config.Logger,
	})
	if err != nil {
		return nil, err
	}

	messaging, err := transfer.NewUDPServer("127.0.0.1:0")
	if err != nil {
		server.Close()
		return nil, err
	}
	messaging.SetLogger(config.Logger, "")

	s := &Simulator{
		config:    config,
		server:    server,
		messaging: messaging,
		bitmap:    bitmap,
		acked:     make(chan struct{}, 1),
	}
	server.AddResource(meshcop.URIJoinerFinalize, s.handleFinalize)

	if config.Advertise {
		s.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{})
		if err := s.advertiser.Advertise(s.AgentInfo()); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// buildSteering computes the announced steering bitmap.
func buildSteering(config Config) (meshcop.SteeringData, error) {
	bitmap := make(meshcop.SteeringData, config.SteeringLength)
	if len(config.AllowedJoiners) == 0 {
		for i := range bitmap {
			bitmap[i] = 0xff
		}
		return bitmap, nil
	}
	for _, ext := range config.AllowedJoiners {
		if err := steering.Cover([8]byte(ext), bitmap); err != nil {
			return nil, fmt.Errorf("failed to build steering bitmap: %w", err)
		}
	}
	return bitmap, nil
}

// Close shuts the router down and withdraws its announcement.
func (s *Simulator) Close() {
	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	s.server.Close()
	s.messaging.Close()
}

// JoinerUDPPort is the announced secured joining port.
func (s *Simulator) JoinerUDPPort() uint16 {
	return s.server.LocalPort()
}

// AgentInfo returns the announcement a real router would publish over
// mDNS for this configuration.
func (s *Simulator) AgentInfo() *discovery.AgentInfo {
	return &discovery.AgentInfo{
		ExtAddress:    s.config.ExtAddress,
		PanID:         s.config.PanID,
		Channel:       s.config.Channel,
		JoinerUDPPort: s.server.LocalPort(),
		SteeringData:  s.bitmap.Clone(),
	}
}

// Discoverer returns an in-process discovery scan that announces this
// router once and then completes.
func (s *Simulator) Discoverer() joiner.Discoverer {
	return &simDiscoverer{sim: s}
}

// FinalizeCount reports how many finalize requests were answered.
func (s *Simulator) FinalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// EntrustAcked signals when the joiner acknowledges the entrust push.
func (s *Simulator) EntrustAcked() <-chan struct{} {
	return s.acked
}

// handleFinalize answers the joiner finalize request and, when the
// joiner is accepted, schedules the entrust push to its plain UDP port.
func (s *Simulator) handleFinalize(req *transfer.Message, from netip.AddrPort, reply func(*transfer.Message) error) {
	resp := transfer.NewAck(req)

	state, err := meshcop.FindState(req.Payload)
	if err != nil || state != meshcop.StateAccept {
		resp.Code = transfer.CodeBadRequest
		_ = reply(resp)
		return
	}

	outcome := meshcop.StateAccept
	if s.config.RejectFinalize {
		outcome = meshcop.StateReject
	}
	resp.Payload = meshcop.AppendState(nil, outcome)
	if err := reply(resp); err != nil {
		return
	}

	s.mu.Lock()
	s.finalized++
	s.mu.Unlock()

	if outcome != meshcop.StateAccept {
		return
	}

	// The joiner tears the secured channel down right after the
	// finalize response; the entrust follows on the plain port.
	target := netip.AddrPortFrom(from.Addr(), s.config.EntrustPort)
	time.AfterFunc(s.config.EntrustDelay, func() { s.sendEntrust(target) })
}

// sendEntrust pushes the credential TLVs to the joiner.
func (s *Simulator) sendEntrust(to netip.AddrPort) {
	creds := s.config.Credentials

	msg := transfer.NewConfirmablePost(meshcop.URIJoinerEntrust)
	payload, err := meshcop.Append(nil, meshcop.TypeNetworkMasterKey, creds.MasterKey[:])
	if err == nil {
		payload, err = meshcop.Append(payload, meshcop.TypeMeshLocalPrefix, creds.MeshLocalPrefix[:])
	}
	if err == nil {
		payload, err = meshcop.Append(payload, meshcop.TypeExtendedPanID, creds.ExtendedPanID[:])
	}
	if err == nil {
		payload, err = meshcop.Append(payload, meshcop.TypeNetworkName, []byte(creds.NetworkName))
	}
	if err == nil {
		ts := creds.ActiveTimestamp.Encode()
		payload, err = meshcop.Append(payload, meshcop.TypeActiveTimestamp, ts[:])
	}
	if err != nil {
		return
	}
	msg.Payload = payload

	_ = s.messaging.SendRequest(msg, to, func(resp *transfer.Message, err error) {
		if err != nil || resp.Code != transfer.CodeChanged {
			return
		}
		select {
		case s.acked <- struct{}{}:
		default:
		}
	})
}

// simDiscoverer delivers the simulator's announcement as one discovery
// result followed by the terminal nil.
type simDiscoverer struct {
	sim *Simulator
}

func (d *simDiscoverer) Discover(panID uint16, onResult func(*joiner.DiscoveryResult)) error {
	if panID != joiner.PanIDBroadcast && panID != d.sim.config.PanID {
		go onResult(nil)
		return nil
	}
	go func() {
		onResult(&joiner.DiscoveryResult{
			ExtAddress:    d.sim.config.ExtAddress,
			PanID:         d.sim.config.PanID,
			Channel:       d.sim.config.Channel,
			JoinerUDPPort: d.sim.server.LocalPort(),
			SteeringData:  d.sim.bitmap.Clone(),
			Addr:          netip.MustParseAddr("127.0.0.1"),
		})
		onResult(nil)
	}()
	return nil
}
