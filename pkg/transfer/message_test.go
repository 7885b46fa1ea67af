package transfer

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	want := &Message{
		Type:      Confirmable,
		Code:      CodePost,
		MessageID: 0x1234,
		URI:       "c/jf",
		Payload:   []byte{0x10, 0x01, 0x01},
	}

	data, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Type != want.Type || got.Code != want.Code || got.MessageID != want.MessageID || got.URI != want.URI {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("payload: got %x, want %x", got.Payload, want.Payload)
	}
}

func TestDecodeCopiesPayload(t *testing.T) {
	msg := NewConfirmablePost("c/jf")
	msg.Payload = []byte{0xaa}
	data, _ := msg.Encode()

	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] = 0x55
	if got.Payload[0] != 0xaa {
		t.Fatal("decoded payload aliases the datagram buffer")
	}
}

func TestEncodeBounds(t *testing.T) {
	msg := NewConfirmablePost(strings.Repeat("u", MaxURILength+1))
	if _, err := msg.Encode(); !errors.Is(err, ErrURITooLong) {
		t.Errorf("long URI: got %v, want ErrURITooLong", err)
	}

	msg = NewConfirmablePost("c/jf")
	msg.Payload = make([]byte, MaxMessageSize)
	if _, err := msg.Encode(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized payload: got %v, want ErrMessageTooLarge", err)
	}
}

func TestDecodeBounds(t *testing.T) {
	if _, err := Decode([]byte{0, 2, 0}); !errors.Is(err, ErrMessageTruncated) {
		t.Errorf("short header: got %v, want ErrMessageTruncated", err)
	}

	// URI length claims more bytes than present.
	if _, err := Decode([]byte{0, 2, 0, 1, 10, 'c'}); !errors.Is(err, ErrMessageTruncated) {
		t.Errorf("short URI: got %v, want ErrMessageTruncated", err)
	}

	if _, err := Decode(make([]byte, MaxMessageSize+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized datagram: got %v, want ErrMessageTooLarge", err)
	}

	bad := []byte{0, 2, 0, 1, MaxURILength + 1}
	bad = append(bad, make([]byte, MaxURILength+1)...)
	if _, err := Decode(bad); !errors.Is(err, ErrURITooLong) {
		t.Errorf("oversized URI: got %v, want ErrURITooLong", err)
	}
}

func TestNewAckEchoesMessageID(t *testing.T) {
	req := NewConfirmablePost("c/je")
	req.MessageID = 77

	ack := NewAck(req)
	if ack.Type != Acknowledgment || ack.Code != CodeChanged || ack.MessageID != 77 {
		t.Fatalf("got %+v", ack)
	}
	if ack.IsRequest() {
		t.Fatal("acknowledgment classified as request")
	}
	if !req.IsRequest() {
		t.Fatal("confirmable POST not classified as request")
	}
}
