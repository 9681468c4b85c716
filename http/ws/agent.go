package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
	"github.com/Warxim/deluder/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// Router is what the agent endpoint hands every inbound event to.
type Router interface {
	Route(origin message.Origin, e *message.Event) error
}

// AgentHandler accepts capture points on /api/agent. Each inbound event is
// routed on its own goroutine; the number of events in flight across all
// agents is bounded.
type AgentHandler struct {
	router Router
	hello  AgentConfig
	logger *log.Logger
	sem    chan struct{}

	mu       sync.Mutex
	sessions map[*agentSession]struct{}
}

func NewAgentHandler(router Router, hello AgentConfig, maxInFlight int, logger *log.Logger) *AgentHandler {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	hello.Type = "config"
	return &AgentHandler{
		router:   router,
		hello:    hello,
		logger:   logger.Named("Agent"),
		sem:      make(chan struct{}, maxInFlight),
		sessions: make(map[*agentSession]struct{}),
	}
}

func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	encoding := r.URL.Query().Get("encoding")
	switch encoding {
	case "", EncodingJSON:
		encoding = EncodingJSON
	case EncodingCBOR:
	default:
		http.Error(w, fmt.Sprintf("unsupported encoding %q", encoding), http.StatusBadRequest)
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade agent WebSocket: %v", err)
		return
	}

	id := r.URL.Query().Get("pid")
	if id == "" {
		id = uuid.NewString()
	}
	s := &agentSession{id: id, conn: conn, cbor: encoding == EncodingCBOR, done: make(chan struct{})}

	h.add(s)
	defer h.remove(s)

	h.logger.Infof("Agent %s connected from %s (%s)", id, r.RemoteAddr, encoding)
	m := metrics.GetMetricsCollector()
	m.RecordAgentConnected()
	m.RecordEvent("info", fmt.Sprintf("Agent %s connected", id))
	defer func() {
		m.RecordAgentDisconnected()
		m.RecordEvent("info", fmt.Sprintf("Agent %s disconnected", id))
		h.logger.Infof("Agent %s disconnected", id)
	}()

	if err := s.write(h.hello); err != nil {
		h.logger.Errorf("Failed to send config to agent %s: %v", id, err)
		conn.Close()
		return
	}

	go s.pingLoop()
	h.readLoop(s)
}

func (h *AgentHandler) readLoop(s *agentSession) {
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		close(s.done)
		s.conn.Close()
	}()

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Tracef("Agent %s read error: %v", s.id, err)
			}
			return
		}

		var e *message.Event
		switch kind {
		case websocket.TextMessage:
			e, err = message.DecodeEvent(data)
		case websocket.BinaryMessage:
			e, err = message.DecodeEventCBOR(data)
		default:
			continue
		}
		if err != nil {
			h.logger.Errorf("Agent %s sent an invalid event: %v", s.id, err)
			metrics.GetMetricsCollector().RecordDropped()
			continue
		}

		h.sem <- struct{}{}
		inflight.Add(1)
		go func(e *message.Event) {
			defer func() {
				<-h.sem
				inflight.Done()
			}()
			if err := h.router.Route(s, e); err != nil {
				h.logger.Tracef("Agent %s: %v", s.id, err)
			}
		}(e)
	}
}

// Sessions reports how many agents are connected.
func (h *AgentHandler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll disconnects every agent. Hijacked connections are not closed by
// http.Server.Shutdown.
func (h *AgentHandler) CloseAll() {
	h.mu.Lock()
	sessions := make([]*agentSession, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (h *AgentHandler) add(s *agentSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
}

func (h *AgentHandler) remove(s *agentSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// agentSession is one connected capture point. It is the message.Origin for
// everything it sends.
type agentSession struct {
	id   string
	conn *websocket.Conn
	cbor bool
	done chan struct{}

	writeMu sync.Mutex
}

func (s *agentSession) ID() string { return s.id }

func (s *agentSession) Post(r message.Response) error {
	return s.write(r)
}

func (s *agentSession) write(v any) error {
	kind := websocket.TextMessage
	var (
		data []byte
		err  error
	)
	if s.cbor {
		kind = websocket.BinaryMessage
		data, err = message.MarshalCBOR(v)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}

func (s *agentSession) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *agentSession) close() {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.conn.Close()
}
