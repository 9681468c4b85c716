package interceptor

import (
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
)

// Log writes data messages as a hex table and close messages as metadata.
type Log struct {
	logger *log.Logger
}

func NewLog(logger *log.Logger) *Log {
	return &Log{logger: logger.Named("Log")}
}

func (l *Log) Name() string { return "Log" }

func (l *Log) Init() error { return nil }

func (l *Log) Intercept(_ message.Origin, msg *message.Message) error {
	switch msg.Kind() {
	case message.Send:
		l.logger.Infof("Sent data %s (%d bytes):\n%s", msg.Metadata, len(msg.Payload()), log.FormatBytes(msg.Payload()))
	case message.Recv:
		l.logger.Infof("Received data %s (%d bytes):\n%s", msg.Metadata, len(msg.Payload()), log.FormatBytes(msg.Payload()))
	case message.Close:
		l.logger.Infof("Connection closed %s", msg.Metadata)
	}
	return nil
}

func (l *Log) Destroy() {}
