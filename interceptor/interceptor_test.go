package interceptor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
)

type testOrigin struct{}

func (testOrigin) ID() string { return "1234" }
func (testOrigin) Post(message.Response) error { return nil }

func TestConnectionID(t *testing.T) {
	tests := []struct {
		name     string
		md       message.Metadata
		multiple bool
		want     string
	}{
		{"multiplexed", message.NewMetadata(message.KeyConnectionID, "winsock-5"), true, "winsock-5"},
		{"numeric id", message.NewMetadata(message.KeyConnectionID, 17), true, "17"},
		{"single connection", message.NewMetadata(message.KeyConnectionID, "winsock-5"), false, DefaultConnectionID},
		{"missing id", message.NewMetadata(), true, DefaultConnectionID},
		{"empty id", message.NewMetadata(message.KeyConnectionID, ""), true, DefaultConnectionID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := message.NewSend("1", tt.md, nil)
			if got := ConnectionID(msg, tt.multiple); got != tt.want {
				t.Errorf("ConnectionID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	var cfg struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Multiple bool   `json:"multiple"`
	}
	defaults := map[string]any{"host": "127.0.0.1", "port": 8008, "multiple": true}
	if err := LoadConfig(defaults, map[string]any{"port": 9000.0}, &cfg); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9000 || !cfg.Multiple {
		t.Errorf("cfg = %+v", cfg)
	}

	if err := LoadConfig(defaults, map[string]any{"port": "nope"}, &cfg); err == nil {
		t.Error("expected type error")
	}
}

func TestBypass(t *testing.T) {
	b, err := NewBypass([]string{"10.0.0.0/8", "192.168.1.7", "::1", " "})
	if err != nil {
		t.Fatalf("NewBypass: %v", err)
	}
	tests := []struct {
		ip   any
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.7", true},
		{"192.168.1.8", false},
		{"::1", true},
		{"not-an-ip", false},
		{nil, false},
	}
	for _, tt := range tests {
		md := message.NewMetadata()
		if tt.ip != nil {
			md.Set(message.KeyDestinationIP, tt.ip)
		}
		if got := b.Match(message.NewSend("1", md, nil)); got != tt.want {
			t.Errorf("Match(%v) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if _, err := NewBypass([]string{"10.0.0.0/33"}); err == nil {
		t.Error("expected error for invalid CIDR")
	}

	var none *Bypass
	md := message.NewMetadata(message.KeyDestinationIP, "10.0.0.1")
	if none.Match(message.NewSend("1", md, nil)) {
		t.Error("nil bypass matched")
	}
}

func TestLogInterceptor(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(log.New(&buf, log.LevelInfo, true))
	md := message.NewMetadata(message.KeyConnectionID, "libc-3")

	msg := message.NewSend("1", md, []byte("hi\x00"))
	if err := l.Intercept(testOrigin{}, msg); err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	if err := l.Intercept(testOrigin{}, message.NewClose("2", md)); err != nil {
		t.Fatalf("Intercept: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "(Log) Sent data {ci: libc-3} (3 bytes)") {
		t.Errorf("missing send line: %q", out)
	}
	if !strings.Contains(out, "00000000  68 69 00") || !strings.Contains(out, "hi.") {
		t.Errorf("missing hex table: %q", out)
	}
	if !strings.Contains(out, "Connection closed {ci: libc-3}") {
		t.Errorf("missing close line: %q", out)
	}
	if string(msg.Payload()) != "hi\x00" {
		t.Error("log interceptor changed the payload")
	}
}

func TestDebugInterceptor(t *testing.T) {
	var buf bytes.Buffer
	d := NewDebug(log.New(&buf, log.LevelDebug, true))
	msg := message.NewRecv("9", message.NewMetadata(), []byte("x"))
	if err := d.Intercept(testOrigin{}, msg); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[DEBUG] (Debug) [1234] recv(id=9") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
