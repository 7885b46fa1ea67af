package securechannel

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/meshcop-protocol/joiner-go/pkg/joiner"
	"github.com/meshcop-protocol/joiner-go/pkg/log"
	"github.com/meshcop-protocol/joiner-go/pkg/transfer"
)

// Compile-time check: Client is usable as the joiner's secured channel.
var _ joiner.SecureChannel = (*Client)(nil)

// DefaultHandshakeTimeout bounds how long Connect waits for the server
// hello before reporting failure.
const DefaultHandshakeTimeout = 10 * time.Second

// ClientConfig configures a secured channel client.
type ClientConfig struct {
	// HandshakeTimeout bounds the connect handshake
	// (default: DefaultHandshakeTimeout).
	HandshakeTimeout time.Duration

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// clientState tracks the channel lifecycle.
type clientState uint8

const (
	stateIdle clientState = iota
	stateHandshaking
	stateConnected
	stateClosed
)

// Client is the joiner side of the secured channel. The UDP socket is
// bound at creation so the local port is known before Connect; the
// channel itself is established per attempt and can be reused after
// Disconnect.
type Client struct {
	conn   *net.UDPConn
	config ClientConfig

	mu           sync.Mutex
	psk          []byte
	state        clientState
	peer         netip.AddrPort
	clientRandom [randomSize]byte
	sendKey      cipher.AEAD
	recvKey      cipher.AEAD
	sendCtr      uint64
	recvCtr      uint64
	pending      map[uint16]transfer.ResponseHandler
	nextID       uint16
	onConnect    func(error)
	hsTimer      *time.Timer
	sessionID    string

	wg sync.WaitGroup
}

// NewClient creates a client bound to an ephemeral UDP port and starts
// its receive loop.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to bind: %w", err)
	}

	c := &Client{
		conn:    conn,
		config:  config,
		pending: make(map[uint16]transfer.ResponseHandler),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// SetSessionID tags this client's log events with a join session id.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// SetPSK installs the pre-shared key for subsequent handshakes.
func (c *Client) SetPSK(psk []byte) error {
	if len(psk) == 0 || len(psk) > MaxPSKLength {
		return fmt.Errorf("%w: %d bytes", ErrPSKLength, len(psk))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.psk = append([]byte(nil), psk...)
	return nil
}

// LocalPort returns the client's bound UDP port.
func (c *Client) LocalPort() uint16 {
	return uint16(c.conn.LocalAddr().(*net.UDPAddr).Port)
}

// Connect starts the handshake with the peer. Completion - success,
// failure, or timeout - is reported once through onConnect, on a
// separate goroutine.
func (c *Client) Connect(peer netip.AddrPort, onConnect func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		return ErrChannelClosed
	case stateHandshaking, stateConnected:
		return ErrConnectInProgress
	}
	if c.psk == nil {
		return ErrNoPSK
	}
	if _, err := rand.Read(c.clientRandom[:]); err != nil {
		return fmt.Errorf("failed to generate client random: %w", err)
	}

	hello := make([]byte, 0, 1+randomSize)
	hello = append(hello, recClientHello)
	hello = append(hello, c.clientRandom[:]...)
	if _, err := c.conn.WriteToUDPAddrPort(hello, peer); err != nil {
		return fmt.Errorf("failed to send client hello: %w", err)
	}

	c.peer = peer
	c.state = stateHandshaking
	c.onConnect = onConnect
	c.hsTimer = time.AfterFunc(c.config.HandshakeTimeout, c.handshakeTimeout)
	return nil
}

// Disconnect tears the channel down and fails any pending requests.
// The socket stays bound so the channel can connect again. Safe to call
// in any state; disconnecting an unconnected channel is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state != stateHandshaking && c.state != stateConnected {
		c.mu.Unlock()
		return
	}
	if c.state == stateConnected {
		// Close signal: an empty protected record.
		c.sendCtr++
		record := sealRecord(c.sendKey, c.sendCtr, nil)
		_, _ = c.conn.WriteToUDPAddrPort(record, c.peer)
	}
	pending, onConnect := c.resetLocked()
	c.mu.Unlock()

	failPending(pending, onConnect)
}

// Close releases the socket. The client cannot be reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	pending, onConnect := c.resetLocked()
	c.state = stateClosed
	c.mu.Unlock()

	err := c.conn.Close()
	c.wg.Wait()
	failPending(pending, onConnect)
	return err
}

// SendRequest sends a confirmable request over the established channel
// and registers onResponse for the matching acknowledgment.
func (c *Client) SendRequest(msg *transfer.Message, onResponse transfer.ResponseHandler) error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if msg.MessageID == 0 {
		c.nextID++
		if c.nextID == 0 {
			c.nextID = 1
		}
		msg.MessageID = c.nextID
	}

	data, err := msg.Encode()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.sendCtr++
	record := sealRecord(c.sendKey, c.sendCtr, data)
	c.pending[msg.MessageID] = onResponse
	peer := c.peer
	logger, sessionID := c.config.Logger, c.sessionID
	c.mu.Unlock()

	if _, err := c.conn.WriteToUDPAddrPort(record, peer); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.MessageID)
		c.mu.Unlock()
		return fmt.Errorf("failed to send request: %w", err)
	}

	logger.Log(messageEvent(sessionID, log.DirectionOut, msg, peer.String()))
	return nil
}

// resetLocked clears the channel state back to idle, returning the
// callbacks that must be failed outside the lock.
func (c *Client) resetLocked() (map[uint16]transfer.ResponseHandler, func(error)) {
	if c.hsTimer != nil {
		c.hsTimer.Stop()
		c.hsTimer = nil
	}
	pending := c.pending
	c.pending = make(map[uint16]transfer.ResponseHandler)
	onConnect := c.onConnect
	c.onConnect = nil
	c.sendKey, c.recvKey = nil, nil
	c.sendCtr, c.recvCtr = 0, 0
	c.state = stateIdle
	return pending, onConnect
}

func failPending(pending map[uint16]transfer.ResponseHandler, onConnect func(error)) {
	if onConnect != nil {
		go onConnect(ErrChannelClosed)
	}
	for _, onResponse := range pending {
		go onResponse(nil, ErrChannelClosed)
	}
}

// handshakeTimeout fires when the server hello never arrived.
func (c *Client) handshakeTimeout() {
	c.mu.Lock()
	if c.state != stateHandshaking {
		c.mu.Unlock()
		return
	}
	_, onConnect := c.resetLocked()
	c.mu.Unlock()

	if onConnect != nil {
		onConnect(ErrHandshakeTimeout)
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	buf := make([]byte, MaxRecordSize)
	for {
		n, from, err := c.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		// The wildcard socket reports IPv4 peers as IPv4-mapped IPv6
		// addresses; unmap so the comparison against c.peer holds.
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		c.handleRecord(buf[:n], from)
	}
}

func (c *Client) handleRecord(record []byte, from netip.AddrPort) {
	c.mu.Lock()

	if c.state == stateIdle || c.state == stateClosed || from != c.peer {
		c.mu.Unlock()
		return
	}
	if len(record) == 0 {
		c.mu.Unlock()
		return
	}

	switch record[0] {
	case recServerHello:
		c.handleServerHelloLocked(record)
	case recData:
		c.handleDataLocked(record, from)
	default:
		c.mu.Unlock()
	}
}

// handleServerHelloLocked derives the session keys and verifies the
// server's sealed confirmation. Releases the lock.
func (c *Client) handleServerHelloLocked(record []byte) {
	if c.state != stateHandshaking || len(record) < 1+randomSize {
		c.mu.Unlock()
		return
	}

	serverRandom := record[1 : 1+randomSize]
	confirm := record[1+randomSize:]

	sendKey, recvKey, err := deriveKeys(c.psk, c.clientRandom[:], serverRandom)
	if err == nil {
		nonce := recordNonce(0)
		_, err = recvKey.Open(nil, nonce[:], confirm, record[:1+randomSize])
	}
	if err != nil {
		// A wrong PSK looks like a failed confirmation. Report it as a
		// connect failure rather than waiting for the timeout.
		_, onConnect := c.resetLocked()
		c.mu.Unlock()
		if onConnect != nil {
			onConnect(fmt.Errorf("handshake confirmation failed: %w", err))
		}
		return
	}

	c.sendKey, c.recvKey = sendKey, recvKey
	c.sendCtr, c.recvCtr = 0, 0
	c.state = stateConnected
	if c.hsTimer != nil {
		c.hsTimer.Stop()
		c.hsTimer = nil
	}
	onConnect := c.onConnect
	c.onConnect = nil
	c.mu.Unlock()

	if onConnect != nil {
		onConnect(nil)
	}
}

// handleDataLocked opens a protected record and dispatches the response
// it carries. Releases the lock.
func (c *Client) handleDataLocked(record []byte, from netip.AddrPort) {
	if c.state != stateConnected {
		c.mu.Unlock()
		return
	}

	plaintext, counter, err := openRecord(c.recvKey, c.recvCtr, record)
	if err != nil {
		c.mu.Unlock()
		return
	}
	c.recvCtr = counter

	if len(plaintext) == 0 {
		// Peer close signal.
		pending, onConnect := c.resetLocked()
		c.mu.Unlock()
		failPending(pending, onConnect)
		return
	}

	msg, err := transfer.Decode(plaintext)
	if err != nil {
		c.mu.Unlock()
		return
	}

	var onResponse transfer.ResponseHandler
	if !msg.IsRequest() {
		onResponse = c.pending[msg.MessageID]
		delete(c.pending, msg.MessageID)
	}
	logger, sessionID := c.config.Logger, c.sessionID
	c.mu.Unlock()

	logger.Log(messageEvent(sessionID, log.DirectionIn, msg, from.String()))
	if onResponse != nil {
		onResponse(msg, nil)
	}
}

func messageEvent(sessionID string, dir log.Direction, msg *transfer.Message, remote string) log.Event {
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
