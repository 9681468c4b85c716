package interceptor

import (
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
)

// Debug logs every message as it passes. It never changes the payload.
type Debug struct {
	logger *log.Logger
}

func NewDebug(logger *log.Logger) *Debug {
	return &Debug{logger: logger.Named("Debug")}
}

func (d *Debug) Name() string { return "Debug" }

func (d *Debug) Init() error { return nil }

func (d *Debug) Intercept(origin message.Origin, msg *message.Message) error {
	if msg.IsData() {
		d.logger.Debugf("[%s] %s payload=%q", origin.ID(), msg, msg.Payload())
		return nil
	}
	d.logger.Debugf("[%s] %s", origin.ID(), msg)
	return nil
}

func (d *Debug) Destroy() {}
