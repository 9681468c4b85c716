package ws

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Warxim/deluder/config"
)

// Upgrader accepts any origin: capture points are injected scripts, not
// browsers, and the server listens on loopback by default.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type LogHub struct {
	mu      sync.RWMutex
	clients map[*logClient]struct{}
	in      chan []byte
	reg     chan *logClient
	unreg   chan *logClient
	stop    chan struct{}
}

// AgentConfig is the first frame every capture point receives. It tells the
// agent which hooks to install.
type AgentConfig struct {
	Type                 string                `json:"type"`
	Debug                bool                  `json:"debug"`
	IgnoreChildProcesses bool                  `json:"ignoreChildProcesses"`
	Scripts              []config.ScriptConfig `json:"scripts"`
}

const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)
