package transfer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the reliability class of a message.
type MessageType uint8

const (
	// Confirmable requests an acknowledgment from the peer.
	Confirmable MessageType = 0
	// NonConfirmable does not request an acknowledgment.
	NonConfirmable MessageType = 1
	// Acknowledgment answers a confirmable message.
	Acknowledgment MessageType = 2
	// Reset rejects a message that could not be processed.
	Reset MessageType = 3
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case Confirmable:
		return "CONFIRMABLE"
	case NonConfirmable:
		return "NON_CONFIRMABLE"
	case Acknowledgment:
		return "ACKNOWLEDGMENT"
	case Reset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Code is a request or response code.
type Code uint8

const (
	// CodeEmpty marks a message without a code.
	CodeEmpty Code = 0x00
	// CodePost is the request code for resource updates.
	CodePost Code = 0x02
	// CodeChanged is the success response code for POST.
	CodeChanged Code = 0x44
	// CodeBadRequest indicates a malformed request.
	CodeBadRequest Code = 0x80
	// CodeNotFound indicates an unknown resource path.
	CodeNotFound Code = 0x84
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case CodeEmpty:
		return "EMPTY"
	case CodePost:
		return "POST"
	case CodeChanged:
		return "CHANGED"
	case CodeBadRequest:
		return "BAD_REQUEST"
	case CodeNotFound:
		return "NOT_FOUND"
	default:
		return fmt.Sprintf("CODE_%#02x", uint8(c))
	}
}

// Message size bounds.
const (
	// MaxURILength bounds the URI path length.
	MaxURILength = 32

	// MaxMessageSize bounds an encoded message, sized to fit a single
	// datagram on constrained links.
	MaxMessageSize = 1280

	// headerSize is type(1) + code(1) + message id(2) + uri length(1).
	headerSize = 5
)

// Message codec errors.
var (
	// ErrMessageTruncated indicates the encoded message is shorter than
	// its header claims.
	ErrMessageTruncated = errors.New("truncated message")

	// ErrMessageTooLarge indicates the encoded message exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrURITooLong indicates the URI path exceeds MaxURILength.
	ErrURITooLong = errors.New("URI path too long")
)

// Message is one request or response.
type Message struct {
	// Type is the reliability class.
	Type MessageType

	// Code is the request or response code.
	Code Code

	// MessageID matches responses to requests. Zero means "unassigned";
	// the sending layer fills it in.
	MessageID uint16

	// URI is the resource path for requests. Empty for responses.
	URI string

	// Payload is the TLV-encoded body.
	Payload []byte
}

// NewConfirmablePost creates a confirmable POST request for the given URI.
func NewConfirmablePost(uri string) *Message {
	return &Message{Type: Confirmable, Code: CodePost, URI: uri}
}

// NewAck builds the default acknowledgment for a confirmable request:
// an Acknowledgment with code Changed echoing the request's message id.
func NewAck(req *Message) *Message {
	return &Message{
		Type:      Acknowledgment,
		Code:      CodeChanged,
		MessageID: req.MessageID,
	}
}

// IsRequest reports whether the message is a confirmable or
// non-confirmable request.
func (m *Message) IsRequest() bool {
	return m.Type == Confirmable || m.Type == NonConfirmable
}

// Encode serializes the message.
func (m *Message) Encode() ([]byte, error) {
	if len(m.URI) > MaxURILength {
		return nil, fmt.Errorf("%w: %d bytes", ErrURITooLong, len(m.URI))
	}
	size := headerSize + len(m.URI) + len(m.Payload)
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	out := make([]byte, 0, size)
	out = append(out, byte(m.Type), byte(m.Code))
	out = binary.BigEndian.AppendUint16(out, m.MessageID)
	out = append(out, byte(len(m.URI)))
	out = append(out, m.URI...)
	return append(out, m.Payload...), nil
}

// Decode parses an encoded message. The payload is copied, not aliased.
func Decode(data []byte) (*Message, error) {
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	if len(data) < headerSize {
		return nil, ErrMessageTruncated
	}
	uriLen := int(data[4])
	if uriLen > MaxURILength {
		return nil, fmt.Errorf("%w: %d bytes", ErrURITooLong, uriLen)
	}
	if len(data) < headerSize+uriLen {
		return nil, ErrMessageTruncated
	}

	msg := &Message{
		Type:      MessageType(data[0]),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
		URI:       string(data[headerSize : headerSize+uriLen]),
	}
	if body := data[headerSize+uriLen:]; len(body) > 0 {
		msg.Payload = make([]byte, len(body))
		copy(msg.Payload, body)
	}
	return msg, nil
}
