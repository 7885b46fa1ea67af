package joiner

import (
	"io"
	"net/netip"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/log"
	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

// handleEntrust processes the credential-provisioning push. It is
// registered once at construction and does not assume any particular
// session state: the commissioner may deliver the entrust before or
// after the finalize response lands, so only "never started" traffic is
// rejected outright.
//
// Validation is fail-fast over all five required TLVs; the first
// missing or malformed one aborts with no side effect and no response,
// so partial credential application cannot occur. Malformed or
// unexpected requests are dropped without acknowledgment.
func (j *Joiner) handleEntrust(req *transfer.Message, from netip.AddrPort) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateIdle {
		return
	}
	if req.Type != transfer.Confirmable || req.Code != transfer.CodePost {
		return
	}

	creds, err := decodeEntrust(req.Payload)
	if err != nil {
		j.logErrorLocked(err, "entrust validation")
		return
	}

	j.deps.Keys.SetMasterKey(creds.MasterKey)
	j.deps.Mesh.SetMeshLocalPrefix(creds.MeshLocalPrefix)
	j.deps.Link.SetExtendedPanID(creds.ExtendedPanID)
	j.deps.Link.SetNetworkName(creds.NetworkName)

	if err := j.deps.Messaging.SendTo(transfer.NewAck(req), from); err != nil {
		j.logErrorLocked(err, "entrust response")
	}

	j.setStateLocked(StateEntrusted, "credentials installed")

	// Rotate the hardware identity once the secured channel teardown
	// has had time to settle.
	if j.rotationTimer != nil {
		j.rotationTimer.Stop()
	}
	j.rotationTimer = j.deps.Scheduler.Schedule(j.rotationDelay, j.handleRotationTimer)
}

// decodeEntrust validates and decodes the five required credential
// TLVs, in a fixed order, failing on the first bad one.
func decodeEntrust(payload []byte) (Credentials, error) {
	var creds Credentials
	var err error

	if creds.MasterKey, err = meshcop.FindMasterKey(payload); err != nil {
		return Credentials{}, err
	}
	if creds.MeshLocalPrefix, err = meshcop.FindMeshLocalPrefix(payload); err != nil {
		return Credentials{}, err
	}
	if creds.ExtendedPanID, err = meshcop.FindExtendedPanID(payload); err != nil {
		return Credentials{}, err
	}
	if creds.NetworkName, err = meshcop.FindNetworkName(payload); err != nil {
		return Credentials{}, err
	}
	if creds.ActiveTimestamp, err = meshcop.FindActiveTimestamp(payload); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// handleRotationTimer replaces the commissioning-time hardware identity
// with a fresh random one, so later network activity cannot be linked
// back to the provisioning session.
func (j *Joiner) handleRotationTimer() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.rotationTimer = nil

	var ext ExtAddress
	if _, err := io.ReadFull(j.deps.Rand, ext[:]); err != nil {
		j.logErrorLocked(err, "identity rotation randomness")
		return
	}

	j.deps.Link.SetExtAddress(ext)
	j.extAddress = ext
	j.deps.Mesh.RefreshLinkLocalAddress()

	j.deps.Logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: j.sessionID,
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryStateChange,
		StateChange: &log.StateChangeEvent{
			OldState: j.state.String(),
			NewState: j.state.String(),
			Reason:   "identity rotated",
		},
	})
}
