package proxifier

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/sock"
)

// Connection pairs the socket we dialed through the proxy (client side) with
// the socket our server accepted from the proxy (server side).
type Connection struct {
	id       string
	client   net.Conn
	server   net.Conn
	strategy Strategy
	timeout  time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	stopOnce sync.Once
}

func NewConnection(id string, client, server net.Conn, strategy Strategy, timeout time.Duration, logger *log.Logger) *Connection {
	return &Connection{
		id:       id,
		client:   client,
		server:   server,
		strategy: strategy,
		timeout:  timeout,
		logger:   logger,
	}
}

func (c *Connection) ID() string { return c.id }

// Stop closes both sockets. Safe to call more than once.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		sock.TryClose(c.server)
		sock.TryClose(c.client)
		c.logger.Infof("Connection %s stopped", c.id)
	})
}

// ClientToServer writes data on the client socket and returns what arrives
// on the server socket after the proxy had its chance to modify it.
func (c *Connection) ClientToServer(data []byte) ([]byte, error) {
	return c.exchange(data, c.client, c.server)
}

// ServerToClient is the reverse direction of ClientToServer.
func (c *Connection) ServerToClient(data []byte) ([]byte, error) {
	return c.exchange(data, c.server, c.client)
}

func (c *Connection) exchange(data []byte, sending, receiving net.Conn) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer sock.Deadline(sending, c.timeout)()
	defer sock.Deadline(receiving, c.timeout)()

	out, err := c.strategy.Exchange(data, sending, receiving)
	if err != nil {
		return nil, fmt.Errorf("%s exchange failed: %w", c.strategy.Name(), err)
	}
	return out, nil
}
