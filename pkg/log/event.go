package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID uniquely identifies the join attempt (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port), when known.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Message     *MessageEvent     `cbor:"7,keyasint,omitempty"` // Message layer
	StateChange *StateChangeEvent `cbor:"8,keyasint,omitempty"` // Session state
	Error       *ErrorEventData   `cbor:"9,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionNone indicates an event without a flow direction.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerChannel is the datagram layer (secured or unsecured).
	LayerChannel Layer = 0
	// LayerMessage is the request/response message layer.
	LayerMessage Layer = 1
	// LayerSession is the join session layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerChannel:
		return "CHANNEL"
	case LayerMessage:
		return "MESSAGE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (request/response).
	CategoryMessage Category = 0
	// CategoryStateChange indicates a session state transition.
	CategoryStateChange Category = 1
	// CategoryError indicates a failure at any layer.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryStateChange:
		return "STATE_CHANGE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent carries details of a decoded request or response.
type MessageEvent struct {
	// MessageID is the message identifier used for response matching.
	MessageID uint16 `cbor:"1,keyasint"`

	// MsgType is the message type name (CONFIRMABLE, ACKNOWLEDGMENT, ...).
	MsgType string `cbor:"2,keyasint"`

	// Code is the request or response code name (POST, CHANGED, ...).
	Code string `cbor:"3,keyasint"`

	// URI is the request path ("c/jf", "c/je"). Empty for responses.
	URI string `cbor:"4,keyasint,omitempty"`

	// PayloadSize is the TLV payload length in bytes.
	PayloadSize int `cbor:"5,keyasint"`
}

// StateChangeEvent carries a session state transition.
type StateChangeEvent struct {
	// OldState is the state before the transition.
	OldState string `cbor:"1,keyasint"`

	// NewState is the state after the transition.
	NewState string `cbor:"2,keyasint"`

	// Reason describes what triggered the transition, if notable.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData carries failure details.
type ErrorEventData struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context describes the operation that failed.
	Context string `cbor:"2,keyasint,omitempty"`
}
