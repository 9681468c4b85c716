package socks5

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/metrics"
)

// SOCKS5 protocol constants (RFC 1928, RFC 1929)
const (
	socks5Version = 0x05

	// Auth methods
	authNone       = 0x00
	authUserPass   = 0x02
	authNoAccept   = 0xFF
	authSubVersion = 0x01

	// Commands
	cmdConnect = 0x01

	// Address types
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	// Reply codes
	repSuccess          = 0x00
	repServerFailure    = 0x01
	repHostUnreachable  = 0x04
	repCmdNotSupported  = 0x07
	repAddrNotSupported = 0x08

	// Limits
	maxConnections = 1024
	handshakeTime  = 30 * time.Second
	dialTimeout    = 10 * time.Second
	relayBuffer    = 32 * 1024

	bridgeName = "relay"
)

// Replacement rewrites every occurrence of From with To in relayed chunks.
type Replacement struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Config struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Username     string        `json:"username"`
	Password     string        `json:"password"`
	Replacements []Replacement `json:"replacements"`
}

var DefaultConfig = Config{
	Host: "127.0.0.1",
	Port: 8888,
}

// Server is a SOCKS5 relay that logs (and optionally rewrites) the traffic
// passing through it. It is a convenient proxy for the proxifier bridge
// when no interception tool is at hand.
type Server struct {
	cfg      Config
	logger   *log.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	activeConns atomic.Int64
	connSem     chan struct{} // semaphore for connection limiting

	wg sync.WaitGroup
}

// NewServer creates a new SOCKS5 relay.
func NewServer(cfg Config, logger *log.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("Relay"),
		connSem: make(chan struct{}, maxConnections),
	}
}

// Start begins listening for SOCKS5 connections.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("SOCKS5 TCP listen: %w", err)
	}
	s.listener = ln

	s.logger.Infof("SOCKS5 relay listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr is the bound listener address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and waits for the accept loop to exit. Relayed
// connections end when either side closes.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) ActiveConnections() int64 { return s.activeConns.Load() }

// --- TCP accept loop ---

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Errorf("SOCKS5 accept: %v", err)
			continue
		}

		// Enforce connection limit via semaphore
		select {
		case s.connSem <- struct{}{}:
		default:
			s.logger.Tracef("SOCKS5 connection limit reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.activeConns.Add(1)
		go func() {
			defer func() {
				conn.Close()
				<-s.connSem
				s.activeConns.Add(-1)
			}()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(handshakeTime))

	if err := s.authenticate(conn); err != nil {
		s.logger.Tracef("SOCKS5 auth failed from %s: %v", conn.RemoteAddr(), err)
		return
	}

	if err := s.handleRequest(conn); err != nil {
		s.logger.Tracef("SOCKS5 request failed from %s: %v", conn.RemoteAddr(), err)
	}
}

// --- Authentication (RFC 1928 + RFC 1929) ---

func (s *Server) authenticate(conn net.Conn) error {
	// Read version + method count
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if hdr[0] != socks5Version {
		return fmt.Errorf("unsupported version %d", hdr[0])
	}

	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return fmt.Errorf("read methods: %w", err)
	}

	want := byte(authNone)
	if s.cfg.Username != "" && s.cfg.Password != "" {
		want = authUserPass
	}
	chosen := byte(authNoAccept)
	if bytes.IndexByte(methods, want) >= 0 {
		chosen = want
	}

	if _, err := conn.Write([]byte{socks5Version, chosen}); err != nil {
		return fmt.Errorf("write method selection: %w", err)
	}
	if chosen == authNoAccept {
		return fmt.Errorf("no acceptable auth method")
	}
	if chosen == authUserPass {
		return s.subnegotiateUserPass(conn)
	}
	return nil
}

func (s *Server) subnegotiateUserPass(conn net.Conn) error {
	// RFC 1929: VER(1) ULEN(1) UNAME(1-255) PLEN(1) PASSWD(1-255)
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return fmt.Errorf("read auth header: %w", err)
	}
	if hdr[0] != authSubVersion {
		return fmt.Errorf("unsupported auth sub-version %d", hdr[0])
	}

	uname := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, uname); err != nil {
		return fmt.Errorf("read username: %w", err)
	}

	plenBuf := make([]byte, 1)
	if _, err := io.ReadFull(conn, plenBuf); err != nil {
		return fmt.Errorf("read password length: %w", err)
	}

	passwd := make([]byte, plenBuf[0])
	if _, err := io.ReadFull(conn, passwd); err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	userOK := subtle.ConstantTimeCompare(uname, []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare(passwd, []byte(s.cfg.Password)) == 1
	ok := userOK && passOK

	status := byte(0x00)
	if !ok {
		status = 0x01
	}
	if _, err := conn.Write([]byte{authSubVersion, status}); err != nil {
		return fmt.Errorf("write auth result: %w", err)
	}
	if !ok {
		return fmt.Errorf("invalid credentials")
	}
	return nil
}

// --- Request handling (RFC 1928 section 4) ---

func (s *Server) handleRequest(conn net.Conn) error {
	// VER(1) CMD(1) RSV(1) ATYP(1)
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	if hdr[0] != socks5Version {
		sendReply(conn, repServerFailure, nil)
		return fmt.Errorf("unsupported version %d", hdr[0])
	}

	dest, err := readAddress(conn, hdr[3])
	if err != nil {
		sendReply(conn, repAddrNotSupported, nil)
		return fmt.Errorf("read address: %w", err)
	}

	if hdr[1] != cmdConnect {
		sendReply(conn, repCmdNotSupported, nil)
		return fmt.Errorf("unsupported command %d", hdr[1])
	}
	return s.handleConnect(conn, dest)
}

// --- TCP CONNECT ---

func (s *Server) handleConnect(conn net.Conn, dest string) error {
	remote, err := net.DialTimeout("tcp", dest, dialTimeout)
	if err != nil {
		s.logger.Tracef("SOCKS5 connect to %s failed: %v", dest, err)
		sendReply(conn, repHostUnreachable, nil)
		return err
	}
	defer remote.Close()

	if err := sendReply(conn, repSuccess, remote.LocalAddr()); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	clientAddr := conn.RemoteAddr().String()
	s.logger.Infof("[SOCKS5-TCP] Client: %s -> Destination: %s", clientAddr, dest)

	m := metrics.GetMetricsCollector()
	m.RecordBridgeOpen(bridgeName, clientAddr, clientAddr+"<->"+dest)
	defer m.RecordBridgeClose(bridgeName)

	// Clear handshake deadline for data relay
	conn.SetDeadline(time.Time{})

	return s.relay(conn, remote, clientAddr, dest)
}

// relay copies data bidirectionally until one side closes.
func (s *Server) relay(client, remote net.Conn, clientAddr, dest string) error {
	errc := make(chan error, 2)
	cp := func(dst, src net.Conn, label string) {
		err := s.pump(dst, src, label)
		// Signal the other direction to stop by closing the write half
		if tc, ok := dst.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		errc <- err
	}
	go cp(remote, client, clientAddr+" -> "+dest)
	go cp(client, remote, dest+" -> "+clientAddr)

	// Wait for both directions
	err1 := <-errc
	err2 := <-errc

	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Server) pump(dst io.Writer, src io.Reader, label string) error {
	buf := make([]byte, relayBuffer)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			data := s.rewrite(buf[:n])
			if s.logger.Enabled(log.LevelDebug) {
				s.logger.Debugf("%s (%d bytes):\n%s", label, len(data), log.FormatBytes(data))
			}
			if _, werr := dst.Write(data); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *Server) rewrite(data []byte) []byte {
	for _, r := range s.cfg.Replacements {
		if r.From == "" {
			continue
		}
		data = bytes.ReplaceAll(data, []byte(r.From), []byte(r.To))
	}
	return data
}

// --- Address parsing ---

// readAddress reads a SOCKS5 address from r (ATYP already consumed, addrType provided).
func readAddress(r io.Reader, addrType byte) (string, error) {
	switch addrType {
	case atypIPv4:
		buf := make([]byte, 4+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		ip := net.IP(buf[:4])
		port := binary.BigEndian.Uint16(buf[4:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(int(port))), nil

	case atypIPv6:
		buf := make([]byte, 16+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		ip := net.IP(buf[:16])
		port := binary.BigEndian.Uint16(buf[16:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(int(port))), nil

	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return "", err
		}
		buf := make([]byte, int(lenBuf[0])+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		domain := string(buf[:len(buf)-2])
		port := binary.BigEndian.Uint16(buf[len(buf)-2:])
		return net.JoinHostPort(domain, strconv.Itoa(int(port))), nil

	default:
		return "", fmt.Errorf("unsupported address type %d", addrType)
	}
}

// sendReply sends a SOCKS5 reply. If bindAddr is nil, uses 0.0.0.0:0.
func sendReply(conn net.Conn, rep byte, bindAddr net.Addr) error {
	reply := []byte{socks5Version, rep, 0x00}

	if bindAddr == nil {
		reply = append(reply, atypIPv4, 0, 0, 0, 0, 0, 0)
	} else {
		host, portStr, err := net.SplitHostPort(bindAddr.String())
		if err != nil {
			return err
		}
		port, _ := strconv.Atoi(portStr)

		ip := net.ParseIP(host)
		if ip4 := ip.To4(); ip4 != nil {
			reply = append(reply, atypIPv4)
			reply = append(reply, ip4...)
		} else {
			reply = append(reply, atypIPv6)
			reply = append(reply, ip.To16()...)
		}

		portBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(portBuf, uint16(port))
		reply = append(reply, portBuf...)
	}

	_, err := conn.Write(reply)
	return err
}
