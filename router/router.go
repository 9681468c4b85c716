// Package router runs captured messages through the interceptor chain and
// answers the capture point.
package router

import (
	"fmt"
	"runtime/debug"

	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
	"github.com/Warxim/deluder/metrics"
)

type Router struct {
	interceptors []interceptor.Interceptor
	logger       *log.Logger
}

// New builds a router over interceptors, which run in the given order.
func New(interceptors []interceptor.Interceptor, logger *log.Logger) *Router {
	return &Router{interceptors: interceptors, logger: logger.Named("Router")}
}

// Route normalizes the event, runs it through every interceptor and posts
// the resulting payload back to origin. Close messages get no response and
// non-send events are only logged.
func (r *Router) Route(origin message.Origin, e *message.Event) error {
	m := metrics.GetMetricsCollector()

	msg, err := message.Convert(e)
	if err != nil {
		m.RecordDropped()
		return r.logger.Errorf("Dropping malformed event from %s: %w", origin.ID(), err)
	}
	if msg == nil {
		m.RecordDropped()
		r.logger.Infof("Received message from %s: %s", origin.ID(), e)
		return nil
	}

	for _, ic := range r.interceptors {
		before := msg.Payload()
		if err := r.intercept(ic, origin, msg); err != nil {
			m.RecordInterceptError(ic.Name())
			r.logger.Errorf("Intercept in %s failed: %v", ic.Name(), err)
			msg.SetPayload(before)
		}
	}
	m.RecordMessage(msg.Kind().String(), len(msg.Payload()))

	if !msg.IsData() {
		return nil
	}
	if err := origin.Post(message.NewResponse(msg)); err != nil {
		return fmt.Errorf("failed to post response %s to %s: %w", msg.ID(), origin.ID(), err)
	}
	return nil
}

// Interceptors returns the chain in routing order.
func (r *Router) Interceptors() []interceptor.Interceptor { return r.interceptors }

func (r *Router) intercept(ic interceptor.Interceptor, origin message.Origin, msg *message.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debugf("%s panicked: %v\n%s", ic.Name(), p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return ic.Intercept(origin, msg)
}
