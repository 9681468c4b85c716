package proxifier

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"

	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/sock"
)

const (
	ProxyDirect = "direct"
	ProxySOCKS5 = "socks5"

	dialTimeout = 10 * time.Second
)

var ErrServerStopped = errors.New("proxifier server is not running")

// Server owns the listening socket the proxy forwards to. Every Connect
// dials the proxy and accepts the proxy's forwarded connection as a pair.
type Server struct {
	host      string
	port      int
	proxyAddr string
	proxyType string
	proxyAuth *proxy.Auth
	logger    *log.Logger

	// acceptTimeout bounds the wait for the proxy to forward a dialed
	// connection; zero waits until Interrupt or Stop.
	acceptTimeout time.Duration

	mu       sync.Mutex // serializes Connect so accepted sockets pair with dials
	stopping atomic.Bool

	lnMu sync.Mutex
	ln   *net.TCPListener
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	s := &Server{
		host:      cfg.ServerHost,
		port:      cfg.ServerPort,
		proxyAddr: net.JoinHostPort(cfg.ProxyHost, strconv.Itoa(cfg.ProxyPort)),
		proxyType: cfg.ProxyType,
		logger:    logger,

		acceptTimeout: time.Duration(cfg.AcceptTimeout) * time.Millisecond,
	}
	if cfg.ProxyUsername != "" {
		s.proxyAuth = &proxy.Auth{User: cfg.ProxyUsername, Password: cfg.ProxyPassword}
	}
	return s
}

// Start binds the listener.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.lnMu.Lock()
	s.ln = ln.(*net.TCPListener)
	s.lnMu.Unlock()

	s.logger.Infof("Running server on %s", ln.Addr())
	return nil
}

// Interrupt aborts a pending Connect and makes later ones fail with
// ErrServerStopped. The listener stays bound until Stop.
func (s *Server) Interrupt() {
	s.stopping.Store(true)
	s.lnMu.Lock()
	ln := s.ln
	s.lnMu.Unlock()
	if ln != nil {
		_ = ln.SetDeadline(time.Now())
	}
}

// Stop closes the listener. Safe to call more than once.
func (s *Server) Stop() {
	s.lnMu.Lock()
	ln := s.ln
	s.ln = nil
	s.lnMu.Unlock()
	if ln != nil {
		sock.TryClose(ln)
	}
}

// Addr is the bound listener address, or "" when not running.
func (s *Server) Addr() string {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// Connect dials through the proxy while accepting on the listener and
// returns both ends. On failure neither socket is left open.
func (s *Server) Connect() (client, server net.Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lnMu.Lock()
	ln := s.ln
	s.lnMu.Unlock()
	if ln == nil {
		return nil, nil, ErrServerStopped
	}

	var deadline time.Time
	if s.acceptTimeout > 0 {
		deadline = time.Now().Add(s.acceptTimeout)
	}
	_ = ln.SetDeadline(deadline)
	defer ln.SetDeadline(time.Time{})
	// Checked after arming the deadline so a concurrent Interrupt is never lost.
	if s.stopping.Load() {
		return nil, nil, ErrServerStopped
	}

	accepted := make(chan acceptResult, 1)
	go func() {
		s.logger.Debugf("Accepting connections on %s", ln.Addr())
		c, err := ln.Accept()
		accepted <- acceptResult{conn: c, err: err}
	}()

	client, err = s.dial(ln.Addr().String())
	if err != nil {
		// Abort the pending accept.
		_ = ln.SetDeadline(time.Now())
		r := <-accepted
		sock.TryClose(r.conn)
		return nil, nil, err
	}

	r := <-accepted
	if r.err != nil {
		sock.TryClose(client)
		return nil, nil, fmt.Errorf("failed to accept proxied connection: %w", r.err)
	}
	return client, r.conn, nil
}

func (s *Server) dial(serverAddr string) (net.Conn, error) {
	direct := &net.Dialer{Timeout: dialTimeout}

	switch s.proxyType {
	case ProxyDirect, "":
		s.logger.Debugf("Connecting through proxy on %s", s.proxyAddr)
		conn, err := direct.Dial("tcp", s.proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to proxy on %s: %w", s.proxyAddr, err)
		}
		return conn, nil
	case ProxySOCKS5:
		s.logger.Debugf("Connecting to %s through SOCKS5 proxy on %s", serverAddr, s.proxyAddr)
		dialer, err := proxy.SOCKS5("tcp", s.proxyAddr, s.proxyAuth, direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		conn, err := dialer.Dial("tcp", serverAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect through SOCKS5 proxy on %s: %w", s.proxyAddr, err)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unknown proxy type %q", s.proxyType)
}
