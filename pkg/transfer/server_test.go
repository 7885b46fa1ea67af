package transfer

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

func startPair(t *testing.T) (*UDPServer, *UDPServer) {
	t.Helper()
	a, err := NewUDPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPServer: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err := NewUDPServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPServer: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return a, b
}

func addrOf(s *UDPServer) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), s.LocalPort())
}

func TestRequestResponse(t *testing.T) {
	client, server := startPair(t)

	server.AddResource("c/je", func(msg *Message, from netip.AddrPort) {
		if err := server.SendTo(NewAck(msg), from); err != nil {
			t.Errorf("SendTo: %v", err)
		}
	})

	got := make(chan *Message, 1)
	req := NewConfirmablePost("c/je")
	err := client.SendRequest(req, addrOf(server), func(resp *Message, err error) {
		if err != nil {
			t.Errorf("response error: %v", err)
		}
		got <- resp
	})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if req.MessageID == 0 {
		t.Fatal("message id not assigned")
	}

	select {
	case resp := <-got:
		if resp.MessageID != req.MessageID {
			t.Fatalf("message id: got %d, want %d", resp.MessageID, req.MessageID)
		}
		if resp.Code != CodeChanged {
			t.Fatalf("code: got %s", resp.Code)
		}
	case <-time.After(testTimeout):
		t.Fatal("no response")
	}
}

func TestUnknownResourceDropped(t *testing.T) {
	client, server := startPair(t)

	seen := make(chan struct{}, 1)
	server.AddResource("c/je", func(*Message, netip.AddrPort) { seen <- struct{}{} })

	if err := client.SendTo(NewConfirmablePost("c/other"), addrOf(server)); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if err := client.SendTo(NewConfirmablePost("c/je"), addrOf(server)); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	// The known-resource request arrives; the unknown one was dropped
	// without a response (ordering over loopback is preserved enough
	// that one delivery proves the other was not dispatched).
	select {
	case <-seen:
	case <-time.After(testTimeout):
		t.Fatal("registered resource never invoked")
	}
	select {
	case <-seen:
		t.Fatal("unknown resource dispatched")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseFailsPending(t *testing.T) {
	client, server := startPair(t)

	// No handler registered: the request will never be answered.
	got := make(chan error, 1)
	err := client.SendRequest(NewConfirmablePost("c/je"), addrOf(server), func(_ *Message, err error) {
		got <- err
	})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-got:
		if !errors.Is(err, ErrServerClosed) {
			t.Fatalf("got %v, want ErrServerClosed", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("pending handler not failed")
	}

	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := client.SendTo(NewConfirmablePost("c/je"), addrOf(server)); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("SendTo after Close: got %v, want ErrServerClosed", err)
	}
}

func TestMessageIDsSkipZero(t *testing.T) {
	s := &UDPServer{nextID: 0xffff}
	if id := s.allocateIDLocked(); id != 1 {
		t.Fatalf("got %d, want 1 after wraparound", id)
	}
}
