package core

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
)

// countingListener counts every connection made to it.
func countingListener(t *testing.T) (port int, accepts *atomic.Int64) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	accepts = &atomic.Int64{}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			c.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, accepts
}

func configWith(interceptors ...config.InterceptorConfig) *config.Config {
	cfg := config.NewConfig()
	cfg.Interceptors = interceptors
	return &cfg
}

func TestUnknownInterceptorFailsBeforeConnecting(t *testing.T) {
	port, accepts := countingListener(t)
	cfg := configWith(
		config.InterceptorConfig{Type: "petep", Config: map[string]any{"petepPort": port}},
		config.InterceptorConfig{Type: "telepathy"},
	)

	_, err := New(cfg, log.Discard())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if cfgErr.Error() != "interceptor telepathy not found" {
		t.Errorf("message = %q", cfgErr.Error())
	}
	if accepts.Load() != 0 {
		t.Error("a connection was attempted before config validation")
	}
}

func TestInvalidInterceptorConfig(t *testing.T) {
	cfg := configWith(config.InterceptorConfig{Type: "proxifier", Config: map[string]any{"strategy": "telepathy"}})

	_, err := New(cfg, log.Discard())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if !errors.Is(err, interceptor.ErrUnknownStrategy) {
		t.Errorf("error does not wrap ErrUnknownStrategy: %v", err)
	}
}

func TestUnknownScript(t *testing.T) {
	cfg := configWith()
	cfg.Scripts = []config.ScriptConfig{{Type: "winsock"}, {Type: "directx"}}

	_, err := New(cfg, log.Discard())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestDebugPrepended(t *testing.T) {
	cfg := configWith(config.InterceptorConfig{Type: "log"})
	cfg.Debug = true

	c, err := New(cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	names := c.InterceptorNames()
	if len(names) != 2 || names[0] != "Debug" || names[1] != "Log" {
		t.Errorf("chain = %v", names)
	}
}

func TestLifecycle(t *testing.T) {
	cfg := configWith(
		config.InterceptorConfig{Type: "log"},
		config.InterceptorConfig{Type: "proxifier", Config: map[string]any{"serverPort": 0}},
	)
	c, err := New(cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(c.Router().Interceptors()); got != 2 {
		t.Errorf("router chain = %d", got)
	}
	if got := len(c.Scripts()); got != 3 {
		t.Errorf("scripts = %d", got)
	}
	c.Destroy()
	c.Destroy()
}

func TestStartFailureDestroysStarted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	cfg := configWith(
		config.InterceptorConfig{Type: "proxifier", Config: map[string]any{"serverPort": 0}},
		config.InterceptorConfig{Type: "proxifier", Config: map[string]any{"serverPort": busy}},
	)
	c, err := New(cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("expected init failure on a busy port")
	}
	if c.started != 0 {
		t.Errorf("started = %d after failed Start", c.started)
	}
}

func TestRouteThroughCore(t *testing.T) {
	c, err := New(configWith(config.InterceptorConfig{Type: "log"}), log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	e, _ := message.DecodeEvent([]byte(`{"type":"send","payload":{"id":"1","type":"s"},"data":[1,2,3]}`))
	origin := &postCounter{}
	if err := c.Router().Route(origin, e); err != nil {
		t.Fatal(err)
	}
	if origin.n != 1 {
		t.Errorf("responses = %d", origin.n)
	}
}

type postCounter struct{ n int }

func (p *postCounter) ID() string { return "1" }
func (p *postCounter) Post(message.Response) error { p.n++; return nil }

func TestExampleConfig(t *testing.T) {
	cfg := ExampleConfig()
	if len(cfg.Interceptors) != 3 {
		t.Fatalf("interceptors = %v", cfg.Interceptors)
	}
	for i, want := range []string{"log", "petep", "proxifier"} {
		if cfg.Interceptors[i].Type != want {
			t.Errorf("interceptor %d = %s, want %s", i, cfg.Interceptors[i].Type, want)
		}
	}
	if cfg.Interceptors[1].Config["petepPort"] == nil {
		t.Errorf("petep defaults missing: %v", cfg.Interceptors[1].Config)
	}
	if len(cfg.Scripts) != len(config.ScriptTypes()) {
		t.Errorf("scripts = %d", len(cfg.Scripts))
	}

	// The example must itself be a valid config.
	if _, err := New(&cfg, log.Discard()); err != nil {
		t.Errorf("example config rejected: %v", err)
	}
}
