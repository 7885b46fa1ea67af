package securechannel

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/log"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

// ServerHandler processes a request received over an established
// channel. Responses go back through reply, which protects them under
// the session keys.
type ServerHandler func(req *transfer.Message, from netip.AddrPort, reply func(*transfer.Message) error)

// ServerConfig configures a secured channel server.
type ServerConfig struct {
	// Addr is the UDP listen address (e.g. ":0").
	Addr string

	// PSK is the pre-shared key clients must prove knowledge of.
	PSK []byte

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// serverSession is the per-peer channel state.
type serverSession struct {
	sendKey cipher.AEAD
	recvKey cipher.AEAD
	sendCtr uint64
	recvCtr uint64
}

// Server is the commissioner side of the secured channel. It answers
// handshakes from any peer holding the PSK and dispatches protected
// requests to registered resources.
type Server struct {
	conn   *net.UDPConn
	config ServerConfig

	mu        sync.Mutex
	sessions  map[netip.AddrPort]*serverSession
	resources map[string]ServerHandler
	closed    bool

	wg sync.WaitGroup
}

// NewServer creates a server listening on config.Addr and starts its
// receive loop.
func NewServer(config ServerConfig) (*Server, error) {
	if len(config.PSK) == 0 || len(config.PSK) > MaxPSKLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPSKLength, len(config.PSK))
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", config.Addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{
		conn:      conn,
		config:    config,
		sessions:  make(map[netip.AddrPort]*serverSession),
		resources: make(map[string]ServerHandler),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// AddResource registers a handler for requests on the URI path.
func (s *Server) AddResource(uri string, handler ServerHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[uri] = handler
}

// LocalPort returns the bound UDP port.
func (s *Server) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Close shuts the server down and drops all sessions.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.sessions = make(map[netip.AddrPort]*serverSession)
	s.mu.Unlock()

	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, MaxRecordSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}

		switch buf[0] {
		case recClientHello:
			s.handleClientHello(buf[:n], from)
		case recData:
			s.handleData(buf[:n], from)
		}
	}
}

// handleClientHello establishes a fresh session for the peer, replacing
// any previous one, and replies with the server hello carrying the
// sealed key confirmation.
func (s *Server) handleClientHello(record []byte, from netip.AddrPort) {
	if len(record) != 1+randomSize {
		return
	}
	clientRandom := record[1:]

	var serverRandom [randomSize]byte
	if _, err := rand.Read(serverRandom[:]); err != nil {
		s.logError(err, "server random", from)
		return
	}

	recvKey, sendKey, err := deriveKeys(s.config.PSK, clientRandom, serverRandom[:])
	if err != nil {
		s.logError(err, "key derivation", from)
		return
	}

	hello := make([]byte, 0, 1+randomSize+sendKey.Overhead())
	hello = append(hello, recServerHello)
	hello = append(hello, serverRandom[:]...)
	nonce := recordNonce(0)
	hello = sendKey.Seal(hello, nonce[:], nil, hello)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sessions[from] = &serverSession{sendKey: sendKey, recvKey: recvKey}
	s.mu.Unlock()

	if _, err := s.conn.WriteToUDPAddrPort(hello, from); err != nil {
		s.logError(err, "server hello", from)
	}
}

// handleData opens a protected record from an established peer and
// dispatches the request it carries. An empty plaintext is the peer's
// close signal and drops the session.
func (s *Server) handleData(record []byte, from netip.AddrPort) {
	s.mu.Lock()
	session := s.sessions[from]
	if session == nil {
		s.mu.Unlock()
		return
	}

	plaintext, counter, err := openRecord(session.recvKey, session.recvCtr, record)
	if err != nil {
		s.mu.Unlock()
		s.logError(err, "open record", from)
		return
	}
	session.recvCtr = counter

	if len(plaintext) == 0 {
		delete(s.sessions, from)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	msg, err := transfer.Decode(plaintext)
	if err != nil {
		s.logError(err, "decode message", from)
		return
	}

	s.config.Logger.Log(messageEvent("", log.DirectionIn, msg, from.String()))

	if !msg.IsRequest() {
		return
	}

	s.mu.Lock()
	handler := s.resources[msg.URI]
	s.mu.Unlock()

	reply := func(resp *transfer.Message) error {
		if resp.MessageID == 0 {
			resp.MessageID = msg.MessageID
		}
		return s.sendProtected(resp, from)
	}

	if handler == nil {
		_ = reply(&transfer.Message{
			Type: transfer.Acknowledgment,
			Code: transfer.CodeNotFound,
		})
		return
	}
	handler(msg, from, reply)
}

// sendProtected seals a message under the peer's session keys and sends it.
func (s *Server) sendProtected(msg *transfer.Message, to netip.AddrPort) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	session := s.sessions[to]
	if session == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	session.sendCtr++
	record := sealRecord(session.sendKey, session.sendCtr, data)
	s.mu.Unlock()

	if _, err := s.conn.WriteToUDPAddrPort(record, to); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	s.config.Logger.Log(messageEvent("", log.DirectionOut, msg, to.String()))
	return nil
}

func (s *Server) logError(err error, context string, from netip.AddrPort) {
	s.config.Logger.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerChannel,
		Category:   log.CategoryError,
		RemoteAddr: from.String(),
		Error:      &log.ErrorEventData{Message: err.Error(), Context: context},
	})
}
