// Package core assembles the interceptor chain described by a config and
// owns its lifecycle.
package core

import (
	"fmt"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/router"
)

// ConfigError reports a config that cannot be turned into a running chain.
// It is raised before any interceptor is initialized.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Core holds the built interceptors, the router in front of them and the
// scripts capture points are told to load.
type Core struct {
	cfg          *config.Config
	logger       *log.Logger
	interceptors []interceptor.Interceptor
	scripts      []config.ScriptConfig
	router       *router.Router
	started      int
}

// New validates cfg and builds every interceptor without initializing any.
// The debug interceptor comes first when cfg.Debug is set.
func New(cfg *config.Config, root *log.Logger) (*Core, error) {
	logger := root.Named("Core")

	regs := make([]registration, 0, len(cfg.Interceptors))
	for _, ic := range cfg.Interceptors {
		reg, err := lookup(ic.Type)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}

	scripts, err := cfg.ResolveScripts()
	if err != nil {
		return nil, &ConfigError{Msg: "invalid scripts", Err: err}
	}

	var chain []interceptor.Interceptor
	if cfg.Debug {
		chain = append(chain, interceptor.NewDebug(root))
		logger.Infof("Loaded interceptor: debug")
	}
	for i, ic := range cfg.Interceptors {
		built, err := regs[i].factory(ic.Config, root)
		if err != nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("invalid %s interceptor config", ic.Type), Err: err}
		}
		chain = append(chain, built)
		logger.Infof("Loaded interceptor: %s", ic.Type)
	}

	return &Core{
		cfg:          cfg,
		logger:       logger,
		interceptors: chain,
		scripts:      scripts,
		router:       router.New(chain, root),
	}, nil
}

// Start initializes the interceptors in order. If one fails, those already
// initialized are destroyed and the error is returned.
func (c *Core) Start() error {
	for _, ic := range c.interceptors {
		if err := ic.Init(); err != nil {
			c.destroy(ic)
			c.Destroy()
			return fmt.Errorf("failed to init %s: %w", ic.Name(), err)
		}
		c.started++
	}
	c.logger.Infof("Router initialized with %d interceptors", len(c.interceptors))
	return nil
}

// Destroy tears down every initialized interceptor. A panicking Destroy is
// logged and the rest still run. Safe to call more than once.
func (c *Core) Destroy() {
	n := c.started
	c.started = 0
	for _, ic := range c.interceptors[:n] {
		c.destroy(ic)
	}
	if n > 0 {
		c.logger.Infof("Interceptors destroyed")
	}
}

func (c *Core) destroy(ic interceptor.Interceptor) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Errorf("Destroy of %s failed: %v", ic.Name(), p)
		}
	}()
	ic.Destroy()
}

func (c *Core) Router() *router.Router { return c.router }

func (c *Core) Config() *config.Config { return c.cfg }

// Scripts are the resolved script configs sent to every capture point.
func (c *Core) Scripts() []config.ScriptConfig { return c.scripts }

// InterceptorNames lists the chain in routing order.
func (c *Core) InterceptorNames() []string {
	names := make([]string, len(c.interceptors))
	for i, ic := range c.interceptors {
		names[i] = ic.Name()
	}
	return names
}

// ExampleConfig lists every script and interceptor type with defaults.
func ExampleConfig() config.Config {
	return config.Example(InterceptorDefaults(), interceptorOrder)
}
