package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/core"
	"github.com/Warxim/deluder/http/handler"
	"github.com/Warxim/deluder/http/ws"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/message"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Debug = true
	cfg.System.Server.Port = 0

	c, err := core.New(&cfg, log.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Destroy)

	s, err := StartServer(&cfg, c, handler.VersionInfo{Version: "1.2.3"}, log.Discard())
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func dialAgent(t *testing.T, s *Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/api/agent?"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestAgentJSON(t *testing.T) {
	s := startTestServer(t)
	conn := dialAgent(t, s, "pid=4321")

	kind, data, err := conn.ReadMessage()
	if err != nil || kind != websocket.TextMessage {
		t.Fatalf("hello: kind=%d err=%v", kind, err)
	}
	var hello ws.AgentConfig
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "config" || !hello.Debug || len(hello.Scripts) != 3 || hello.Scripts[0].Type != "winsock" {
		t.Errorf("hello = %+v", hello)
	}
	if hello.Scripts[0].Config["send"] != true {
		t.Errorf("script defaults missing: %v", hello.Scripts[0].Config)
	}

	events := []string{
		`{"type":"log","payload":{"level":"info","message":"hooked"}}`,
		`{"type":"send","payload":{"id":"c-1","type":"c","ci":"winsock-9"}}`,
		`{"type":"send","payload":{"id":"m-1","type":"s","ci":"winsock-9","cdp":443},"data":[116,101,115,116]}`,
	}
	for _, e := range events {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(e)); err != nil {
			t.Fatal(err)
		}
	}

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("response: %v", err)
	}
	want := `{"type":"m-1","id":"m-1","data":[116,101,115,116],"metadata":{"ci":"winsock-9","cdp":443}}`
	if string(data) != want {
		t.Errorf("response:\n got %s\nwant %s", data, want)
	}

	deadline := time.Now().Add(time.Second)
	for s.Agents() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Agents() != 1 {
		t.Errorf("agents = %d", s.Agents())
	}
}

func TestAgentCBOR(t *testing.T) {
	s := startTestServer(t)
	conn := dialAgent(t, s, "pid=77&encoding=cbor")

	kind, data, err := conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage {
		t.Fatalf("hello: kind=%d err=%v", kind, err)
	}
	var hello ws.AgentConfig
	if err := message.UnmarshalCBOR(data, &hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if hello.Type != "config" {
		t.Errorf("hello = %+v", hello)
	}

	payload := message.NewMetadata("id", "b-1", "type", "r", message.KeyConnectionID, "openssl-1")
	frame, err := message.MarshalCBOR(message.Event{Type: "send", Payload: &payload, Data: []byte{0, 255, 7}})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatal(err)
	}

	kind, data, err = conn.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage {
		t.Fatalf("response: kind=%d err=%v", kind, err)
	}
	var resp message.Response
	if err := message.UnmarshalCBOR(data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "b-1" || resp.Type != "b-1" || string(resp.Data) != "\x00\xff\x07" {
		t.Errorf("response = %+v", resp)
	}
	if id, _ := resp.Metadata.Text(message.KeyConnectionID); id != "openssl-1" {
		t.Errorf("metadata = %s", resp.Metadata)
	}
}

func TestAgentInvalidEventKeepsSession(t *testing.T) {
	s := startTestServer(t)
	conn := dialAgent(t, s, "")
	conn.ReadMessage()

	conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"send","payload":{"id":"2","type":"s"},"data":[1]}`))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("session closed after invalid event: %v", err)
	}
	var resp message.Response
	if err := json.Unmarshal(data, &resp); err != nil || resp.ID != "2" {
		t.Errorf("response = %s (%v)", data, err)
	}
}

func TestAgentBadEncoding(t *testing.T) {
	s := startTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/api/agent?encoding=xml", nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != stdhttp.StatusBadRequest {
		t.Errorf("response = %v", resp)
	}
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := stdhttp.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestRestAPI(t *testing.T) {
	s := startTestServer(t)
	base := "http://" + s.Addr()

	var version handler.VersionInfo
	getJSON(t, base+"/api/version", &version)
	if version.Version != "1.2.3" {
		t.Errorf("version = %+v", version)
	}

	var ics handler.InterceptorsResponse
	getJSON(t, base+"/api/interceptors", &ics)
	if len(ics.Chain) != 2 || ics.Chain[0] != "Debug" || ics.Chain[1] != "Log" {
		t.Errorf("chain = %v", ics.Chain)
	}
	if len(ics.Available) != 3 {
		t.Errorf("available = %v", ics.Available)
	}

	var snapshot map[string]any
	getJSON(t, base+"/api/metrics", &snapshot)
	if _, ok := snapshot["messages_routed"]; !ok {
		t.Errorf("metrics = %v", snapshot)
	}

	var example config.Config
	getJSON(t, base+"/api/config/example", &example)
	if len(example.Interceptors) != 3 {
		t.Errorf("example interceptors = %v", example.Interceptors)
	}

	resp, err := stdhttp.Post(base+"/api/version", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusMethodNotAllowed {
		t.Errorf("POST /api/version = %s", resp.Status)
	}
}

func TestShutdownClosesAgents(t *testing.T) {
	s := startTestServer(t)
	conn := dialAgent(t, s, "pid=1")
	conn.ReadMessage()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("agent connection survived shutdown")
	}
}
