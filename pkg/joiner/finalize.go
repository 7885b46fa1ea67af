package joiner

import (
	"fmt"

	"github.com/meshcop-protocol/joiner-go/pkg/meshcop"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

// sendFinalizeLocked builds and sends the joiner finalize request over
// the established secured channel: a confirmable POST carrying a State
// TLV set to accept and, when configured, the provisioning URL TLV.
// Any construction or send failure closes the attempt; the finalize
// send is never retried.
func (j *Joiner) sendFinalizeLocked() {
	msg := transfer.NewConfirmablePost(meshcop.URIJoinerFinalize)
	msg.Payload = meshcop.AppendState(nil, meshcop.StateAccept)

	if j.provisioningURL != "" {
		payload, err := meshcop.Append(msg.Payload, meshcop.TypeProvisioningURL, []byte(j.provisioningURL))
		if err != nil {
			j.closeLocked(fmt.Errorf("%w: %v", ErrFinalizeFailed, err))
			return
		}
		msg.Payload = payload
	}

	if err := j.deps.Channel.SendRequest(msg, j.handleFinalizeResponse); err != nil {
		j.closeLocked(fmt.Errorf("%w: %v", ErrFinalizeFailed, err))
	}
}

// handleFinalizeResponse interprets the finalize response. Acceptance
// requires no transport error, an acknowledgment with code Changed, and
// a valid State TLV set to accept. Every outcome - accept, reject, or
// failure - proceeds to the same unconditional close; they differ only
// in the reported reason.
func (j *Joiner) handleFinalizeResponse(resp *transfer.Message, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateFinalizing {
		return
	}

	reason := finalizeOutcome(resp, err)
	if reason != nil {
		j.logErrorLocked(reason, "finalize response")
	}
	j.closeLocked(reason)
}

// finalizeOutcome maps a finalize response to the attempt outcome:
// nil for an accepted join.
func finalizeOutcome(resp *transfer.Message, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFinalizeFailed, err)
	}
	if resp.Type != transfer.Acknowledgment || resp.Code != transfer.CodeChanged {
		return fmt.Errorf("%w: unexpected %s/%s response", ErrFinalizeFailed, resp.Type, resp.Code)
	}

	state, err := meshcop.FindState(resp.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFinalizeFailed, err)
	}
	if state != meshcop.StateAccept {
		return fmt.Errorf("%w: state %s", ErrFinalizeRejected, state)
	}
	return nil
}
