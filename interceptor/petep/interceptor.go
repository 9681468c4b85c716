// Package petep bridges messages to PETEP over a length-framed TCP protocol:
// [1B type][4B big-endian length][payload].
package petep

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
	"github.com/Warxim/deluder/metrics"
)

const bridgeName = "petep"

type Config struct {
	PetepHost            string   `json:"petepHost"`
	PetepPort            int      `json:"petepPort"`
	AutoCloseConnections bool     `json:"autoCloseConnections"`
	MultipleConnections  bool     `json:"multipleConnections"`
	ExchangeTimeout      int      `json:"exchangeTimeout"`
	BypassNetworks       []string `json:"bypassNetworks"`
}

var DefaultConfig = Config{
	PetepHost:            "127.0.0.1",
	PetepPort:            8008,
	AutoCloseConnections: true,
	MultipleConnections:  true,
	ExchangeTimeout:      0,
	BypassNetworks:       []string{},
}

// Defaults returns DefaultConfig as a generic map.
func Defaults() map[string]any {
	m, _ := config.Encode(DefaultConfig)
	return m
}

// Interceptor hands every data message to PETEP and replaces the payload
// with PETEP's answer.
type Interceptor struct {
	cfg    Config
	logger *log.Logger
	bypass *interceptor.Bypass
	conns  *interceptor.Connections[*Connection]
}

// New merges user settings over the defaults. It does not connect.
func New(user map[string]any, logger *log.Logger) (*Interceptor, error) {
	var cfg Config
	if err := interceptor.LoadConfig(Defaults(), user, &cfg); err != nil {
		return nil, err
	}
	bypass, err := interceptor.NewBypass(cfg.BypassNetworks)
	if err != nil {
		return nil, err
	}
	return &Interceptor{
		cfg:    cfg,
		logger: logger.Named("Petep"),
		bypass: bypass,
		conns:  interceptor.NewConnections[*Connection](),
	}, nil
}

func (p *Interceptor) Name() string { return "Petep" }

func (p *Interceptor) Config() Config { return p.cfg }

func (p *Interceptor) Init() error {
	p.logger.Infof("Forwarding messages to PETEP on %s", p.addr())
	return nil
}

func (p *Interceptor) Intercept(_ message.Origin, msg *message.Message) error {
	switch msg.Kind() {
	case message.Send, message.Recv:
		if p.bypass.Match(msg) {
			return nil
		}
		return p.exchange(msg)
	case message.Close:
		p.handleClose(msg)
	}
	return nil
}

// Destroy stops every connection. Safe to call more than once.
func (p *Interceptor) Destroy() {
	p.conns.DestroyAll()
}

// Connections reports how many PETEP connections are open.
func (p *Interceptor) Connections() int { return p.conns.Len() }

func (p *Interceptor) exchange(msg *message.Message) error {
	id := interceptor.ConnectionID(msg, p.cfg.MultipleConnections)
	conn, created, err := p.conns.GetOrCreate(id, func() (*Connection, error) {
		c := NewConnection(p.addr(), NewConnectionInfo(id, msg.Metadata), p.timeout(), p.logger)
		if err := c.Start(); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		return fmt.Errorf("connection %s: %w", id, err)
	}
	if created {
		metrics.GetMetricsCollector().RecordBridgeOpen(bridgeName, id, conn.Info().Name())
	}

	var data []byte
	if msg.Kind() == message.Send {
		data, err = conn.ClientToServer(msg.Payload())
	} else {
		data, err = conn.ServerToClient(msg.Payload())
	}
	if err != nil {
		if p.conns.Evict(id, conn) {
			metrics.GetMetricsCollector().RecordBridgeClose(bridgeName)
		}
		return fmt.Errorf("connection %s: %w", id, err)
	}
	msg.SetPayload(data)
	return nil
}

func (p *Interceptor) handleClose(msg *message.Message) {
	if !p.cfg.AutoCloseConnections {
		return
	}
	id := interceptor.ConnectionID(msg, p.cfg.MultipleConnections)
	if id == interceptor.DefaultConnectionID {
		return
	}
	if conn, ok := p.conns.Get(id); ok {
		p.logger.Infof("Connection %s (%s) is being closed due to received close event", id, conn.Info().Name())
	}
	if p.conns.CloseIfPresent(id) {
		metrics.GetMetricsCollector().RecordBridgeClose(bridgeName)
	}
}

func (p *Interceptor) addr() string {
	return net.JoinHostPort(p.cfg.PetepHost, strconv.Itoa(p.cfg.PetepPort))
}

func (p *Interceptor) timeout() time.Duration {
	return time.Duration(p.cfg.ExchangeTimeout) * time.Millisecond
}
