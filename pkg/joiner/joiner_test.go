package joiner

import (
	"bytes"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
	"github.com/meshcop-protocol/joiner-go/pkg/steering"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

const testTimeout = 5 * time.Second

var testFactory = ExtAddress{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11}

// fakeLink records the link-layer programming the joiner performs.
type fakeLink struct {
	mu      sync.Mutex
	factory ExtAddress
	ext     ExtAddress
	panID   uint16
	channel uint8
	xpan    [8]byte
	name    string
}

func newFakeLink() *fakeLink {
	return &fakeLink{factory: testFactory, panID: PanIDBroadcast}
}

func (l *fakeLink) FactoryAddress() ExtAddress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.factory
}

func (l *fakeLink) SetExtAddress(addr ExtAddress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ext = addr
}

func (l *fakeLink) extAddress() ExtAddress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ext
}

func (l *fakeLink) PanID() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.panID
}

func (l *fakeLink) SetPanID(panID uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.panID = panID
}

func (l *fakeLink) SetChannel(channel uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channel = channel
}

func (l *fakeLink) SetExtendedPanID(xpan [8]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.xpan = xpan
}

func (l *fakeLink) SetNetworkName(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = name
}

// fakeMesh records mesh addressing updates.
type fakeMesh struct {
	mu        sync.Mutex
	prefix    [8]byte
	refreshes int
}

func (m *fakeMesh) SetMeshLocalPrefix(prefix [8]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefix = prefix
}

func (m *fakeMesh) RefreshLinkLocalAddress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
}

// fakeKeys records the provisioned master key.
type fakeKeys struct {
	mu  sync.Mutex
	key [16]byte
	set bool
}

func (k *fakeKeys) SetMasterKey(key [16]byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = key
	k.set = true
}

// fakeDiscoverer hands the delivery callback to the test.
type fakeDiscoverer struct {
	mu       sync.Mutex
	panID    uint16
	onResult func(*DiscoveryResult)
	err      error
}

func (d *fakeDiscoverer) Discover(panID uint16, onResult func(*DiscoveryResult)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.panID = panID
	d.onResult = onResult
	return nil
}

// deliver feeds one result (or the terminal nil) into the joiner, the
// way a real scan would: from outside the Discover call.
func (d *fakeDiscoverer) deliver(result *DiscoveryResult) {
	d.mu.Lock()
	onResult := d.onResult
	d.mu.Unlock()
	onResult(result)
}

// fakeChannel hands the connect and response callbacks to the test.
type fakeChannel struct {
	mu          sync.Mutex
	psk         []byte
	pskErr      error
	peer        netip.AddrPort
	onConnect   func(error)
	connectErr  error
	sendErr     error
	disconnects int
	sent        []*transfer.Message
	onResponse  transfer.ResponseHandler
}

func (c *fakeChannel) SetPSK(psk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pskErr != nil {
		return c.pskErr
	}
	c.psk = append([]byte(nil), psk...)
	return nil
}

func (c *fakeChannel) Connect(peer netip.AddrPort, onConnect func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.peer = peer
	c.onConnect = onConnect
	return nil
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeChannel) LocalPort() uint16 { return 49152 }

func (c *fakeChannel) SendRequest(msg *transfer.Message, onResponse transfer.ResponseHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	c.onResponse = onResponse
	return nil
}

func (c *fakeChannel) connectDone(err error) {
	c.mu.Lock()
	onConnect := c.onConnect
	c.mu.Unlock()
	onConnect(err)
}

func (c *fakeChannel) respond(resp *transfer.Message, err error) {
	c.mu.Lock()
	onResponse := c.onResponse
	c.mu.Unlock()
	onResponse(resp, err)
}

func (c *fakeChannel) lastSent() *transfer.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// fakeMessaging captures resource registrations and outbound messages.
type fakeMessaging struct {
	mu        sync.Mutex
	resources map[string]transfer.Handler
	sent      []*transfer.Message
}

func newFakeMessaging() *fakeMessaging {
	return &fakeMessaging{resources: make(map[string]transfer.Handler)}
}

func (m *fakeMessaging) AddResource(uri string, handler transfer.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[uri] = handler
}

func (m *fakeMessaging) SendTo(msg *transfer.Message, to netip.AddrPort) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMessaging) handler(uri string) transfer.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resources[uri]
}

func (m *fakeMessaging) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakeFilter records firewall exceptions.
type fakeFilter struct {
	mu      sync.Mutex
	added   []uint16
	removed []uint16
}

func (f *fakeFilter) AddUnsecurePort(port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, port)
}

func (f *fakeFilter) RemoveUnsecurePort(port uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, port)
}

func (f *fakeFilter) counts() (added, removed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added), len(f.removed)
}

// fakeScheduler collects timers and lets the test fire them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

func (s *fakeScheduler) Schedule(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) fireLast(t *testing.T) {
	t.Helper()
	s.mu.Lock()
	if len(s.timers) == 0 {
		s.mu.Unlock()
		t.Fatal("no timer armed")
	}
	timer := s.timers[len(s.timers)-1]
	s.mu.Unlock()
	timer.fn()
}

// harness bundles a joiner with its fakes and callback channels.
type harness struct {
	j          *Joiner
	link       *fakeLink
	mesh       *fakeMesh
	keys       *fakeKeys
	discoverer *fakeDiscoverer
	channel    *fakeChannel
	messaging  *fakeMessaging
	filter     *fakeFilter
	scheduler  *fakeScheduler

	closed chan error
	states chan State
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		link:       newFakeLink(),
		mesh:       &fakeMesh{},
		keys:       &fakeKeys{},
		discoverer: &fakeDiscoverer{},
		channel:    &fakeChannel{},
		messaging:  newFakeMessaging(),
		filter:     &fakeFilter{},
		scheduler:  &fakeScheduler{},
		closed:     make(chan error, 4),
		states:     make(chan State, 16),
	}

	j, err := New(Deps{
		Link:       h.link,
		Mesh:       h.mesh,
		Keys:       h.keys,
		Discoverer: h.discoverer,
		Channel:    h.channel,
		Messaging:  h.messaging,
		Filter:     h.filter,
		Scheduler:  h.scheduler,
		Rand:       bytes.NewReader(bytes.Repeat([]byte{0x5a}, 64)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.OnClosed(func(err error) { h.closed <- err })
	j.OnStateChange(func(_, new State) { h.states <- new })
	h.j = j
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.j.Start("J01NME", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) awaitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.closed:
		return err
	case <-time.After(testTimeout):
		t.Fatal("OnClosed never fired")
		return nil
	}
}

// coveredResult builds a discovery result whose steering bitmap admits
// the factory identity.
func coveredResult(t *testing.T) *DiscoveryResult {
	t.Helper()
	bitmap := make(meshcop.SteeringData, 16)
	if err := steering.Cover([8]byte(testFactory), bitmap); err != nil {
		t.Fatal(err)
	}
	return &DiscoveryResult{
		ExtAddress:    ExtAddress{1, 1, 1, 1, 1, 1, 1, 1},
		PanID:         0x1234,
		Channel:       15,
		JoinerUDPPort: 1000,
		SteeringData:  bitmap,
	}
}

func TestNewRequiresAllDeps(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, errMissingDep) {
		t.Fatalf("got %v, want errMissingDep", err)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t)

	if err := h.j.Start("bad", ""); !errors.Is(err, meshcop.ErrInvalidPSKd) {
		t.Errorf("short PSKd: got %v, want ErrInvalidPSKd", err)
	}
	longURL := string(make([]byte, meshcop.MaxProvisioningURLLength+1))
	if err := h.j.Start("J01NME", longURL); !errors.Is(err, meshcop.ErrInvalidProvisioningURL) {
		t.Errorf("long URL: got %v, want ErrInvalidProvisioningURL", err)
	}
	if h.j.State() != StateIdle {
		t.Fatalf("validation failure changed state to %s", h.j.State())
	}
}

func TestStartBusyWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.j.Start("J01NME", ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v, want ErrBusy", err)
	}
}

func TestStartInstallsFactoryIdentity(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if h.link.extAddress() != testFactory {
		t.Errorf("ext address: got %s, want factory", h.link.extAddress())
	}
	if h.j.ExtAddress() != testFactory {
		t.Errorf("joiner identity: got %s", h.j.ExtAddress())
	}
	if string(h.channel.psk) != "J01NME" {
		t.Errorf("PSK: got %q", h.channel.psk)
	}
	if h.j.SessionID() == "" {
		t.Error("no session id assigned")
	}
	if h.j.State() != StateDiscovering {
		t.Errorf("state: got %s, want DISCOVERING", h.j.State())
	}
	if h.discoverer.panID != PanIDBroadcast {
		t.Errorf("scan PAN: got %#04x, want broadcast", h.discoverer.panID)
	}
}

func TestDiscoveryNoCandidate(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.discoverer.deliver(nil)

	if err := h.awaitClosed(t); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("got %v, want ErrNoCandidate", err)
	}
	if h.j.State() != StateClosed {
		t.Fatalf("state: got %s", h.j.State())
	}
}

func TestDiscoverySteeringMismatchIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	// An all-zero bitmap admits nobody.
	result := coveredResult(t)
	result.SteeringData = make(meshcop.SteeringData, 16)
	h.discoverer.deliver(result)
	h.discoverer.deliver(nil)

	if err := h.awaitClosed(t); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("got %v, want ErrNoCandidate", err)
	}
}

func TestDiscoveryLastMatchWins(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	first := coveredResult(t)
	second := coveredResult(t)
	second.ExtAddress = ExtAddress{2, 2, 2, 2, 2, 2, 2, 2}
	second.PanID = 0x5678
	second.Channel = 20
	second.JoinerUDPPort = 2000

	h.discoverer.deliver(first)
	h.discoverer.deliver(second)
	h.discoverer.deliver(nil)

	c := h.j.Candidate()
	if c == nil {
		t.Fatal("no candidate selected")
	}
	if c.ExtAddress != second.ExtAddress || c.PanID != 0x5678 || c.Channel != 20 || c.UDPPort != 2000 {
		t.Fatalf("candidate: got %+v, want the later match", c)
	}

	// The radio was programmed for the selected router and the channel
	// port opened before connecting.
	if h.link.PanID() != 0x5678 || h.link.channel != 20 {
		t.Fatalf("radio: pan=%#04x channel=%d", h.link.PanID(), h.link.channel)
	}
	added, _ := h.filter.counts()
	if added != 1 {
		t.Fatalf("unsecure ports added: %d", added)
	}
	if h.j.State() != StateConnecting {
		t.Fatalf("state: got %s", h.j.State())
	}

	// The connect target derives from the selected router's identity.
	wantPeer := netip.AddrPortFrom(LinkLocalAddress(second.ExtAddress), 2000)
	if h.channel.peer != wantPeer {
		t.Fatalf("peer: got %s, want %s", h.channel.peer, wantPeer)
	}
}

func TestResultsAfterScanEndIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.discoverer.deliver(coveredResult(t))
	h.discoverer.deliver(nil)

	// A straggler after the terminal result must not disturb the attempt.
	late := coveredResult(t)
	late.PanID = 0x9999
	h.discoverer.deliver(late)

	if c := h.j.Candidate(); c.PanID != 0x1234 {
		t.Fatalf("late result replaced the candidate: %+v", c)
	}
}

func TestConnectFailureCloses(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.discoverer.deliver(coveredResult(t))
	h.discoverer.deliver(nil)

	h.channel.connectDone(errors.New("timeout"))

	if err := h.awaitClosed(t); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("got %v, want ErrConnectFailed", err)
	}
	added, removed := h.filter.counts()
	if added != 1 || removed != 1 {
		t.Fatalf("firewall exception not withdrawn: added=%d removed=%d", added, removed)
	}
}

// connectAndFinalize drives the harness to the point where the finalize
// request has been sent.
func connectAndFinalize(t *testing.T, h *harness) *transfer.Message {
	t.Helper()
	h.start(t)
	h.discoverer.deliver(coveredResult(t))
	h.discoverer.deliver(nil)
	h.channel.connectDone(nil)

	if h.j.State() != StateFinalizing {
		t.Fatalf("state: got %s, want FINALIZING", h.j.State())
	}
	msg := h.channel.lastSent()
	if msg == nil {
		t.Fatal("no finalize request sent")
	}
	return msg
}

func TestFinalizeRequestShape(t *testing.T) {
	h := newHarness(t)
	if err := h.j.Start("J01NME", "https://vendor.example/p"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.discoverer.deliver(coveredResult(t))
	h.discoverer.deliver(nil)
	h.channel.connectDone(nil)

	msg := h.channel.lastSent()
	if msg.Type != transfer.Confirmable || msg.Code != transfer.CodePost || msg.URI != meshcop.URIJoinerFinalize {
		t.Fatalf("request: %+v", msg)
	}
	state, err := meshcop.FindState(msg.Payload)
	if err != nil || state != meshcop.StateAccept {
		t.Fatalf("state TLV: %v %v", state, err)
	}
	url, err := meshcop.Find(msg.Payload, meshcop.TypeProvisioningURL)
	if err != nil {
		t.Fatalf("provisioning URL TLV: %v", err)
	}
	if string(url) != "https://vendor.example/p" {
		t.Fatalf("URL: got %q", url)
	}
}

func TestFinalizeWithoutURLOmitsTLV(t *testing.T) {
	h := newHarness(t)
	msg := connectAndFinalize(t, h)

	if _, err := meshcop.Find(msg.Payload, meshcop.TypeProvisioningURL); !errors.Is(err, meshcop.ErrTLVNotFound) {
		t.Fatalf("got %v, want ErrTLVNotFound", err)
	}
}

func TestFinalizeAcceptClosesCleanly(t *testing.T) {
	h := newHarness(t)
	req := connectAndFinalize(t, h)

	resp := transfer.NewAck(req)
	resp.Payload = meshcop.AppendState(nil, meshcop.StateAccept)
	h.channel.respond(resp, nil)

	if err := h.awaitClosed(t); err != nil {
		t.Fatalf("got %v, want nil (accepted)", err)
	}
	if h.j.State() != StateClosed {
		t.Fatalf("state: got %s", h.j.State())
	}
	if h.channel.disconnects == 0 {
		t.Fatal("channel not disconnected after accept")
	}
}

func TestFinalizeRejectCloses(t *testing.T) {
	h := newHarness(t)
	req := connectAndFinalize(t, h)

	resp := transfer.NewAck(req)
	resp.Payload = meshcop.AppendState(nil, meshcop.StateReject)
	h.channel.respond(resp, nil)

	if err := h.awaitClosed(t); !errors.Is(err, ErrFinalizeRejected) {
		t.Fatalf("got %v, want ErrFinalizeRejected", err)
	}
}

func TestFinalizeTransportErrorCloses(t *testing.T) {
	h := newHarness(t)
	connectAndFinalize(t, h)

	h.channel.respond(nil, errors.New("channel torn down"))

	if err := h.awaitClosed(t); !errors.Is(err, ErrFinalizeFailed) {
		t.Fatalf("got %v, want ErrFinalizeFailed", err)
	}
}

func TestFinalizeMissingStateCloses(t *testing.T) {
	h := newHarness(t)
	req := connectAndFinalize(t, h)

	h.channel.respond(transfer.NewAck(req), nil)

	if err := h.awaitClosed(t); !errors.Is(err, ErrFinalizeFailed) {
		t.Fatalf("got %v, want ErrFinalizeFailed", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.j.Stop()
	if err := h.awaitClosed(t); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}

	// Stopping again must not report a second close.
	h.j.Stop()
	select {
	case err := <-h.closed:
		t.Fatalf("second close reported: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.j.Stop()
	if h.j.State() != StateIdle {
		t.Fatalf("state: got %s", h.j.State())
	}
}

func TestRestartAfterClose(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	first := h.j.SessionID()
	h.j.Stop()
	h.awaitClosed(t)

	h.start(t)
	if h.j.SessionID() == first {
		t.Fatal("session id not refreshed")
	}
	if h.j.State() != StateDiscovering {
		t.Fatalf("state: got %s", h.j.State())
	}
}
