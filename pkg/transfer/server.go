package transfer

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/log"
)

// Handler processes an inbound request delivered to a registered resource.
type Handler func(msg *Message, from netip.AddrPort)

// ResponseHandler receives the response to a request sent with
// SendRequest, or the error that terminated the exchange.
type ResponseHandler func(resp *Message, err error)

// ErrServerClosed indicates the endpoint has been closed.
var ErrServerClosed = errors.New("transfer endpoint closed")

// UDPServer is a plain (unsecured) datagram request/response endpoint.
// Inbound requests are dispatched to resources registered by URI path;
// inbound acknowledgments are matched to pending requests by message id.
// Requests for unknown resources are dropped without a response.
type UDPServer struct {
	conn *net.UDPConn

	mu        sync.Mutex
	resources map[string]Handler
	pending   map[uint16]ResponseHandler
	nextID    uint16
	closed    bool

	logger    log.Logger
	sessionID string

	wg sync.WaitGroup
}

// NewUDPServer creates an endpoint bound to addr (e.g. ":0" for an
// ephemeral port). The read loop starts immediately.
func NewUDPServer(addr string) (*UDPServer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &UDPServer{
		conn:      conn,
		resources: make(map[string]Handler),
		pending:   make(map[uint16]ResponseHandler),
		nextID:    uint16(rand.Uint32()),
		logger:    log.NoopLogger{},
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// SetLogger configures protocol event logging for this endpoint.
func (s *UDPServer) SetLogger(logger log.Logger, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = log.NoopLogger{}
	}
	s.logger = logger
	s.sessionID = sessionID
}

// AddResource registers a handler for inbound requests on the URI path.
// Registering the same path twice replaces the handler.
func (s *UDPServer) AddResource(uri string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[uri] = handler
}

// LocalPort returns the bound UDP port.
func (s *UDPServer) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// SendTo sends a message without expecting a response. A zero message id
// is assigned before sending.
func (s *UDPServer) SendTo(msg *Message, to netip.AddrPort) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if msg.MessageID == 0 {
		msg.MessageID = s.allocateIDLocked()
	}
	logger, sessionID := s.logger, s.sessionID
	s.mu.Unlock()

	data, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDPAddrPort(data, to); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}

	logger.Log(messageEvent(sessionID, log.DirectionOut, msg, to.String()))
	return nil
}

// SendRequest sends a confirmable request and registers onResponse for
// the matching acknowledgment. There is no retransmission and no
// timeout; the caller owns both.
func (s *UDPServer) SendRequest(msg *Message, to netip.AddrPort, onResponse ResponseHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if msg.MessageID == 0 {
		msg.MessageID = s.allocateIDLocked()
	}
	s.pending[msg.MessageID] = onResponse
	s.mu.Unlock()

	if err := s.SendTo(msg, to); err != nil {
		s.mu.Lock()
		delete(s.pending, msg.MessageID)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close shuts the endpoint down. Pending response handlers are failed
// with ErrServerClosed. Close is idempotent.
func (s *UDPServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[uint16]ResponseHandler)
	s.mu.Unlock()

	err := s.conn.Close()
	s.wg.Wait()

	for _, onResponse := range pending {
		onResponse(nil, ErrServerClosed)
	}
	return err
}

// allocateIDLocked returns the next non-zero message id.
func (s *UDPServer) allocateIDLocked() uint16 {
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return s.nextID
}

func (s *UDPServer) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, MaxMessageSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}

		msg, err := Decode(buf[:n])
		if err != nil {
			s.mu.Lock()
			logger, sessionID := s.logger, s.sessionID
			s.mu.Unlock()
			logger.Log(log.Event{
				Timestamp:  time.Now(),
				SessionID:  sessionID,
				Direction:  log.DirectionIn,
				Layer:      log.LayerChannel,
				Category:   log.CategoryError,
				RemoteAddr: from.String(),
				Error:      &log.ErrorEventData{Message: err.Error(), Context: "decode datagram"},
			})
			continue
		}

		s.dispatch(msg, from)
	}
}

func (s *UDPServer) dispatch(msg *Message, from netip.AddrPort) {
	s.mu.Lock()
	logger, sessionID := s.logger, s.sessionID

	var handler Handler
	var onResponse ResponseHandler
	if msg.IsRequest() {
		handler = s.resources[msg.URI]
	} else {
		onResponse = s.pending[msg.MessageID]
		delete(s.pending, msg.MessageID)
	}
	s.mu.Unlock()

	logger.Log(messageEvent(sessionID, log.DirectionIn, msg, from.String()))

	switch {
	case handler != nil:
		handler(msg, from)
	case onResponse != nil:
		onResponse(msg, nil)
	}
	// Unknown resources and unmatched responses are dropped silently:
	// answering unsolicited traffic would make the endpoint a
	// reflection vector.
}

func messageEvent(sessionID string, dir log.Direction, msg *Message, remote string) log.Event {
	return log.Event{
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		Direction:  dir,
		Layer:      log.LayerMessage,
		Category:   log.CategoryMessage,
		RemoteAddr: remote,
		Message: &log.MessageEvent{
			MessageID:   msg.MessageID,
			MsgType:     msg.Type.String(),
			Code:        msg.Code.String(),
			URI:         msg.URI,
			PayloadSize: len(msg.Payload),
		},
	}
}
