package socks5

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/net/proxy"

	"github.com/Warxim/deluder/log"
)

func startEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return ln.Addr().String()
}

func startRelay(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := NewServer(cfg, log.Discard())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func roundTrip(t *testing.T, conn net.Conn, data []byte, want int) []byte {
	t.Helper()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, want)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf
}

func TestConnectRelay(t *testing.T) {
	echo := startEcho(t)
	s := startRelay(t, Config{})

	dialer, err := proxy.SOCKS5("tcp", s.Addr(), nil, proxy.Direct)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := dialer.Dial("tcp", echo)
	if err != nil {
		t.Fatalf("dial through relay: %v", err)
	}
	defer conn.Close()

	data := []byte("hello through socks")
	if got := roundTrip(t, conn, data, len(data)); !bytes.Equal(got, data) {
		t.Errorf("echo = %q", got)
	}
}

func TestReplacements(t *testing.T) {
	echo := startEcho(t)
	s := startRelay(t, Config{Replacements: []Replacement{{From: "[replace]", To: "[value]"}}})

	dialer, _ := proxy.SOCKS5("tcp", s.Addr(), nil, proxy.Direct)
	conn, err := dialer.Dial("tcp", echo)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Rewritten once on the way out and once on the way back.
	got := roundTrip(t, conn, []byte("te[replace]st"), len("te[value]st"))
	if string(got) != "te[value]st" {
		t.Errorf("got %q", got)
	}
}

func TestUserPassAuth(t *testing.T) {
	echo := startEcho(t)
	s := startRelay(t, Config{Username: "warxim", Password: "secret"})

	bad, _ := proxy.SOCKS5("tcp", s.Addr(), &proxy.Auth{User: "warxim", Password: "nope"}, proxy.Direct)
	if c, err := bad.Dial("tcp", echo); err == nil {
		c.Close()
		t.Fatal("expected auth failure")
	}

	none, _ := proxy.SOCKS5("tcp", s.Addr(), nil, proxy.Direct)
	if c, err := none.Dial("tcp", echo); err == nil {
		c.Close()
		t.Fatal("expected failure without credentials")
	}

	good, _ := proxy.SOCKS5("tcp", s.Addr(), &proxy.Auth{User: "warxim", Password: "secret"}, proxy.Direct)
	conn, err := good.Dial("tcp", echo)
	if err != nil {
		t.Fatalf("dial with credentials: %v", err)
	}
	conn.Close()
}

func TestUnreachableDestination(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	dead := ln.Addr().String()
	ln.Close()

	s := startRelay(t, Config{})
	dialer, _ := proxy.SOCKS5("tcp", s.Addr(), nil, proxy.Direct)
	if c, err := dialer.Dial("tcp", dead); err == nil {
		c.Close()
		t.Fatal("expected host unreachable")
	}
}

func TestReadAddress(t *testing.T) {
	tests := []struct {
		atyp byte
		data []byte
		want string
	}{
		{atypIPv4, []byte{127, 0, 0, 1, 0x1f, 0x90}, "127.0.0.1:8080"},
		{atypDomain, append([]byte{9}, append([]byte("localhost"), 0, 80)...), "localhost:80"},
		{atypIPv6, append(net.IPv6loopback, 1, 187), "[::1]:443"},
	}
	for _, tt := range tests {
		got, err := readAddress(bytes.NewReader(tt.data), tt.atyp)
		if err != nil || got != tt.want {
			t.Errorf("readAddress(%d) = %q, %v; want %q", tt.atyp, got, err, tt.want)
		}
	}
	if _, err := readAddress(bytes.NewReader(nil), 9); err == nil {
		t.Error("expected error for unknown address type")
	}
}
