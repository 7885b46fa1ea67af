package joiner

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshcop-protocol/joiner-go/pkg/log"
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
	"github.com/meshcop-protocol/joiner-go/pkg/steering"
)

// Deps bundles the capability interfaces the joiner needs from its
// platform. Link, Mesh, Keys, Discoverer, Channel, Messaging and Filter
// are required; Scheduler, Rand and Logger default to the system
// scheduler, crypto/rand and a no-op logger.
type Deps struct {
	Link       LinkLayer
	Mesh       MeshAddressing
	Keys       KeyManager
	Discoverer Discoverer
	Channel    SecureChannel
	Messaging  Messaging
	Filter     PortFilter

	Scheduler Scheduler
	Rand      io.Reader
	Logger    log.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Link == nil:
		return fmt.Errorf("%w: Link", errMissingDep)
	case d.Mesh == nil:
		return fmt.Errorf("%w: Mesh", errMissingDep)
	case d.Keys == nil:
		return fmt.Errorf("%w: Keys", errMissingDep)
	case d.Discoverer == nil:
		return fmt.Errorf("%w: Discoverer", errMissingDep)
	case d.Channel == nil:
		return fmt.Errorf("%w: Channel", errMissingDep)
	case d.Messaging == nil:
		return fmt.Errorf("%w: Messaging", errMissingDep)
	case d.Filter == nil:
		return fmt.Errorf("%w: Filter", errMissingDep)
	}
	if d.Scheduler == nil {
		d.Scheduler = SystemScheduler{}
	}
	if d.Rand == nil {
		d.Rand = rand.Reader
	}
	if d.Logger == nil {
		d.Logger = log.NoopLogger{}
	}
	return nil
}

// Joiner runs one join attempt at a time against the injected platform.
type Joiner struct {
	deps Deps

	mu              sync.Mutex
	state           State
	sessionID       string
	extAddress      ExtAddress
	provisioningURL string
	candidate       *CandidateRouter
	rotationTimer   Timer
	rotationDelay   time.Duration
	closedReported  bool

	onStateChange func(old, new State)
	onClosed      func(err error)
}

// New creates a joiner and registers its entrust resource handler on
// the plain messaging endpoint. The handler stays registered for the
// joiner's lifetime, independent of individual attempts.
func New(deps Deps) (*Joiner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	j := &Joiner{
		deps:          deps,
		state:         StateIdle,
		rotationDelay: DefaultRotationDelay,
	}
	deps.Messaging.AddResource(meshcop.URIJoinerEntrust, j.handleEntrust)
	return j, nil
}

// OnStateChange registers a callback for session state transitions.
// It is invoked asynchronously. Register before Start.
func (j *Joiner) OnStateChange(fn func(old, new State)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onStateChange = fn
}

// OnClosed registers a callback that fires once per attempt when the
// session reaches Closed: nil for an accepted finalize exchange, a
// sentinel error otherwise. It is invoked asynchronously. Register
// before Start.
func (j *Joiner) OnClosed(fn func(err error)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onClosed = fn
}

// SetRotationDelay overrides the identity-rotation delay. Call before
// the entrust arrives.
func (j *Joiner) SetRotationDelay(d time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rotationDelay = d
}

// State returns the current session state.
func (j *Joiner) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// SessionID returns the id of the current (or last) attempt.
func (j *Joiner) SessionID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sessionID
}

// ExtAddress returns the active hardware identity.
func (j *Joiner) ExtAddress() ExtAddress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.extAddress
}

// Candidate returns a copy of the selected router, or nil if none was
// selected yet.
func (j *Joiner) Candidate() *CandidateRouter {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.candidate == nil {
		return nil
	}
	c := *j.candidate
	return &c
}

// Start begins a join attempt with the given pre-shared device
// credential and optional provisioning URL. It fails fast, without a
// state transition, if an attempt is in flight, the credential is
// invalid, the channel rejects the key, or discovery cannot be
// requested. Asynchronous failures are reported through OnClosed.
func (j *Joiner) Start(pskd, provisioningURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateIdle && j.state != StateClosed {
		return fmt.Errorf("%w: state %s", ErrBusy, j.state)
	}

	if err := meshcop.ValidatePSKd(pskd); err != nil {
		return err
	}
	if err := meshcop.ValidateProvisioningURL(provisioningURL); err != nil {
		return err
	}

	// Join with the factory-assigned identity; a fresh random one
	// replaces it after a successful entrust. The PAN id resets to the
	// broadcast sentinel so a repeat attempt scans all networks again.
	ext := j.deps.Link.FactoryAddress()
	j.deps.Link.SetExtAddress(ext)
	j.deps.Link.SetPanID(PanIDBroadcast)
	j.deps.Mesh.RefreshLinkLocalAddress()
	j.extAddress = ext

	if err := j.deps.Channel.SetPSK([]byte(pskd)); err != nil {
		return fmt.Errorf("failed to install PSK: %w", err)
	}
	j.provisioningURL = provisioningURL
	j.sessionID = uuid.NewString()
	j.candidate = nil
	j.closedReported = false

	if err := j.deps.Discoverer.Discover(j.deps.Link.PanID(), j.handleDiscoverResult); err != nil {
		return fmt.Errorf("failed to request discovery: %w", err)
	}

	j.setStateLocked(StateDiscovering, "start")
	return nil
}

// Stop forces the session to Closed from any state, cancelling a
// pending identity rotation. Stopping an already closed or idle joiner
// is a no-op.
func (j *Joiner) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.rotationTimer != nil {
		j.rotationTimer.Stop()
		j.rotationTimer = nil
	}
	if j.state == StateClosed || j.state == StateIdle {
		return
	}
	j.closeLocked(ErrStopped)
}

// handleDiscoverResult consumes one discovery result, or the terminal
// nil result marking scan completion.
func (j *Joiner) handleDiscoverResult(result *DiscoveryResult) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateDiscovering {
		return
	}

	if result != nil {
		match, err := steering.Matches([8]byte(j.extAddress), result.SteeringData)
		if err != nil {
			j.logErrorLocked(err, "steering filter")
			return
		}
		if !match {
			return
		}
		// Last match wins: a later response typically comes from a
		// closer router.
		j.candidate = &CandidateRouter{
			ExtAddress: result.ExtAddress,
			PanID:      result.PanID,
			Channel:    result.Channel,
			UDPPort:    result.JoinerUDPPort,
			Addr:       result.Addr,
		}
		return
	}

	// Terminal result: scan complete.
	if j.candidate == nil {
		j.closeLocked(ErrNoCandidate)
		return
	}

	j.deps.Link.SetPanID(j.candidate.PanID)
	j.deps.Link.SetChannel(j.candidate.Channel)
	j.deps.Filter.AddUnsecurePort(j.deps.Channel.LocalPort())
	j.setStateLocked(StateConnecting, "candidate "+j.candidate.ExtAddress.String())

	if err := j.deps.Channel.Connect(j.candidate.peer(), j.handleConnect); err != nil {
		j.closeLocked(fmt.Errorf("%w: %v", ErrConnectFailed, err))
	}
}

// handleConnect is the secured channel's connect-completion callback.
func (j *Joiner) handleConnect(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateConnecting {
		return
	}
	if err != nil {
		j.closeLocked(fmt.Errorf("%w: %v", ErrConnectFailed, err))
		return
	}
	j.setStateLocked(StateFinalizing, "channel connected")
	j.sendFinalizeLocked()
}

// closeLocked tears down the attempt's secured half and reports the
// outcome. Idempotent per attempt.
func (j *Joiner) closeLocked(reason error) {
	if j.state == StateClosed {
		return
	}

	j.deps.Channel.Disconnect()
	j.deps.Filter.RemoveUnsecurePort(j.deps.Channel.LocalPort())

	why := "finalize complete"
	if reason != nil {
		why = reason.Error()
	}
	j.setStateLocked(StateClosed, why)

	if j.onClosed != nil && !j.closedReported {
		j.closedReported = true
		fn := j.onClosed
		go fn(reason)
	}
}

// setStateLocked records a transition, logs it, and notifies the
// registered callback.
func (j *Joiner) setStateLocked(state State, reason string) {
	old := j.state
	j.state = state

	j.deps.Logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: j.sessionID,
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryStateChange,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})

	if j.onStateChange != nil {
		fn := j.onStateChange
		go fn(old, state)
	}
}

func (j *Joiner) logErrorLocked(err error, context string) {
	j.deps.Logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: j.sessionID,
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: err.Error(), Context: context},
	})
}
