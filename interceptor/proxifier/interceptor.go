// Package proxifier sends messages through an ordinary TCP proxy (Burp,
// mitmproxy, a SOCKS5 relay) by looping them between a socket dialed through
// the proxy and a local server socket the proxy forwards to.
package proxifier

import (
	"fmt"
	"time"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
	"github.com/Warxim/deluder/metrics"
)

const bridgeName = "proxifier"

type Config struct {
	ProxyHost            string                    `json:"proxyHost"`
	ProxyPort            int                       `json:"proxyPort"`
	ProxyType            string                    `json:"proxyType"`
	ProxyUsername        string                    `json:"proxyUsername"`
	ProxyPassword        string                    `json:"proxyPassword"`
	ServerHost           string                    `json:"serverHost"`
	ServerPort           int                       `json:"serverPort"`
	Strategy             string                    `json:"strategy"`
	Strategies           map[string]map[string]any `json:"strategies"`
	AutoCloseConnections bool                      `json:"autoCloseConnections"`
	MultipleConnections  bool                      `json:"multipleConnections"`
	ExchangeTimeout      int                       `json:"exchangeTimeout"`
	AcceptTimeout        int                       `json:"acceptTimeout"`
	BypassNetworks       []string                  `json:"bypassNetworks"`
}

var DefaultConfig = Config{
	ProxyHost:  "127.0.0.1",
	ProxyPort:  8888,
	ProxyType:  ProxyDirect,
	ServerHost: "127.0.0.1",
	ServerPort: 25500,
	Strategy:   StrategyLength,
	Strategies: map[string]map[string]any{
		StrategyBuffer: {"bufferSize": 65536},
		StrategySuffix: {"bufferSize": 65536, "value": "[D_END]"},
		StrategyLength: {},
	},
	AutoCloseConnections: true,
	MultipleConnections:  true,
	ExchangeTimeout:      0,
	AcceptTimeout:        0,
	BypassNetworks:       []string{},
}

// Defaults returns DefaultConfig as a generic map.
func Defaults() map[string]any {
	m, _ := config.Encode(DefaultConfig)
	return m
}

type Interceptor struct {
	cfg      Config
	logger   *log.Logger
	strategy Strategy
	bypass   *interceptor.Bypass
	server   *Server
	conns    *interceptor.Connections[*Connection]
}

// New merges user settings over the defaults and validates the strategy and
// proxy type. The listener is bound in Init.
func New(user map[string]any, logger *log.Logger) (*Interceptor, error) {
	var cfg Config
	if err := interceptor.LoadConfig(Defaults(), user, &cfg); err != nil {
		return nil, err
	}
	switch cfg.ProxyType {
	case ProxyDirect, ProxySOCKS5:
	default:
		return nil, fmt.Errorf("unknown proxy type %q", cfg.ProxyType)
	}
	strategy, err := NewStrategy(cfg.Strategy, cfg.Strategies[cfg.Strategy])
	if err != nil {
		return nil, err
	}
	bypass, err := interceptor.NewBypass(cfg.BypassNetworks)
	if err != nil {
		return nil, err
	}

	logger = logger.Named("Proxifier")
	return &Interceptor{
		cfg:      cfg,
		logger:   logger,
		strategy: strategy,
		bypass:   bypass,
		server:   NewServer(cfg, logger),
		conns:    interceptor.NewConnections[*Connection](),
	}, nil
}

func (p *Interceptor) Name() string { return "Proxifier" }

func (p *Interceptor) Config() Config { return p.cfg }

// ServerAddr is the address the proxy has to forward to.
func (p *Interceptor) ServerAddr() string { return p.server.Addr() }

func (p *Interceptor) Init() error {
	if err := p.server.Start(); err != nil {
		return err
	}
	p.logger.Infof("Using %s strategy through %s proxy on %s:%d",
		p.strategy.Name(), p.cfg.ProxyType, p.cfg.ProxyHost, p.cfg.ProxyPort)
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

// Destroy stops every connection, then the listener. A connection still
// waiting for the proxy to forward it is aborted first.
func (p *Interceptor) Destroy() {
	p.server.Interrupt()
	p.conns.DestroyAll()
	p.server.Stop()
}

func (p *Interceptor) Connections() int { return p.conns.Len() }

func (p *Interceptor) exchange(msg *message.Message) error {
	id := interceptor.ConnectionID(msg, p.cfg.MultipleConnections)
	conn, created, err := p.conns.GetOrCreate(id, func() (*Connection, error) {
		client, server, err := p.server.Connect()
		if err != nil {
			return nil, err
		}
		c := NewConnection(id, client, server, p.strategy, p.timeout(), p.logger)
		p.logger.Infof("Connection %s started", id)
		return c, nil
	})
	if err != nil {
		return fmt.Errorf("connection %s: %w", id, err)
	}
	if created {
		metrics.GetMetricsCollector().RecordBridgeOpen(bridgeName, id, id)
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
	if _, ok := p.conns.Get(id); ok {
		p.logger.Infof("Connection %s is being closed due to received close event", id)
	}
	if p.conns.CloseIfPresent(id) {
		metrics.GetMetricsCollector().RecordBridgeClose(bridgeName)
	}
}

func (p *Interceptor) timeout() time.Duration {
	return time.Duration(p.cfg.ExchangeTimeout) * time.Millisecond
}
