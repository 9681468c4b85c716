package petep

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/sock"
)

const dialTimeout = 10 * time.Second

// Connection is one TCP connection to PETEP (PETEP listens, we dial).
// Exchanges are serialized: PETEP answers every data frame with exactly one
// frame, in order.
type Connection struct {
	addr    string
	info    ConnectionInfo
	timeout time.Duration
	logger  *log.Logger

	mu sync.Mutex // one exchange at a time

	connMu  sync.Mutex
	conn    net.Conn
	stopped bool

	stopOnce sync.Once
}

func NewConnection(addr string, info ConnectionInfo, timeout time.Duration, logger *log.Logger) *Connection {
	return &Connection{addr: addr, info: info, timeout: timeout, logger: logger}
}

func (c *Connection) Info() ConnectionInfo { return c.info }

// Start dials PETEP and announces the connection.
func (c *Connection) Start() error {
	c.logger.Infof("Connection %s (%s) started", c.info.ID, c.info.Name())

	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to PETEP on %s: %w", c.addr, err)
	}
	c.logger.Debugf("Connection %s (%s) connected to PETEP on %s", c.info.ID, c.info.Name(), c.addr)

	payload, err := json.Marshal(c.info)
	if err != nil {
		sock.TryClose(conn)
		return fmt.Errorf("failed to encode connection info: %w", err)
	}
	if err := WriteFrame(conn, FrameConnectionInfo, payload); err != nil {
		sock.TryClose(conn)
		return fmt.Errorf("failed to send connection info: %w", err)
	}

	c.connMu.Lock()
	stopped := c.stopped
	if !stopped {
		c.conn = conn
	}
	c.connMu.Unlock()
	if stopped {
		sock.TryClose(conn)
		return fmt.Errorf("connection %s stopped while connecting", c.info.ID)
	}
	return nil
}

// Stop closes the socket. A blocked exchange returns with an error. Safe to
// call more than once.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.connMu.Lock()
		c.stopped = true
		conn := c.conn
		c.connMu.Unlock()
		sock.TryClose(conn)
		c.logger.Infof("Connection %s (%s) stopped", c.info.ID, c.info.Name())
	})
}

func (c *Connection) socket() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.stopped {
		return nil
	}
	return c.conn
}

// ClientToServer lets PETEP intercept data sent by the client.
func (c *Connection) ClientToServer(data []byte) ([]byte, error) {
	return c.exchange(FrameDataC2S, data)
}

// ServerToClient lets PETEP intercept data received by the client.
func (c *Connection) ServerToClient(data []byte) ([]byte, error) {
	return c.exchange(FrameDataS2C, data)
}

func (c *Connection) exchange(t FrameType, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := c.socket()
	if conn == nil {
		return nil, fmt.Errorf("connection %s is not running", c.info.ID)
	}

	defer sock.Deadline(conn, c.timeout)()

	if err := WriteFrame(conn, t, data); err != nil {
		return nil, fmt.Errorf("failed to send %s frame: %w", t, err)
	}
	reply, err := ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s reply: %w", t, err)
	}
	return reply.Payload, nil
}
