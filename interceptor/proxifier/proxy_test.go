package proxifier

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
)

// framing reads one message from a stream and writes it back framed the
// same way, so the test proxy can rewrite whole messages.
type framing struct {
	read  func(r *bufio.Reader) ([]byte, error)
	write func(w io.Writer, data []byte) error
}

var bufferFraming = framing{
	read: func(r *bufio.Reader) ([]byte, error) {
		buf := make([]byte, 1024)
		n, err := r.Read(buf)
		return buf[:n], err
	},
	write: func(w io.Writer, data []byte) error {
		_, err := w.Write(data)
		return err
	},
}

func suffixFraming(suffix string) framing {
	return framing{
		read: func(r *bufio.Reader) ([]byte, error) {
			var out []byte
			for !bytes.HasSuffix(out, []byte(suffix)) {
				b, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				out = append(out, b)
			}
			return out[:len(out)-len(suffix)], nil
		},
		write: func(w io.Writer, data []byte) error {
			_, err := w.Write(append(data, suffix...))
			return err
		},
	}
}

var lengthFraming = framing{
	read: func(r *bufio.Reader) ([]byte, error) {
		hdr := make([]byte, 4)
		if _, err := io.ReadFull(r, hdr); err != nil {
			return nil, err
		}
		data := make([]byte, binary.BigEndian.Uint32(hdr))
		_, err := io.ReadFull(r, data)
		return data, err
	},
	write: func(w io.Writer, data []byte) error {
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, uint32(len(data)))
		_, err := w.Write(append(hdr, data...))
		return err
	},
}

// testProxy accepts connections and relays each to target, rewriting every
// message in both directions.
type testProxy struct {
	t       *testing.T
	ln      net.Listener
	framing framing
	rewrite func([]byte) []byte

	mu      sync.Mutex
	target  string
	accepts int
	conns   []net.Conn
}

func newTestProxy(t *testing.T, f framing, rewrite func([]byte) []byte) *testProxy {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &testProxy{t: t, ln: ln, framing: f, rewrite: rewrite}
	t.Cleanup(p.close)
	return p
}

func (p *testProxy) port() int { return p.ln.Addr().(*net.TCPAddr).Port }

// start begins relaying to target.
func (p *testProxy) start(target string) {
	p.mu.Lock()
	p.target = target
	p.mu.Unlock()
	go p.acceptLoop()
}

func (p *testProxy) acceptLoop() {
	for {
		client, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		target := p.target
		p.accepts++
		p.mu.Unlock()

		server, err := net.Dial("tcp", target)
		if err != nil {
			client.Close()
			continue
		}
		p.mu.Lock()
		p.conns = append(p.conns, client, server)
		p.mu.Unlock()

		go p.pipe(server, client)
		go p.pipe(client, server)
	}
}

func (p *testProxy) pipe(dst, src net.Conn) {
	defer dst.Close()
	r := bufio.NewReader(src)
	for {
		data, err := p.framing.read(r)
		if err != nil {
			return
		}
		if err := p.framing.write(dst, p.rewrite(data)); err != nil {
			return
		}
	}
}

func (p *testProxy) dropConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.Close()
	}
	p.conns = nil
}

func (p *testProxy) acceptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepts
}

func (p *testProxy) close() {
	p.ln.Close()
	p.dropConnections()
}

func replaceMarker(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte("[replace]"), []byte("[value]"))
}

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

var (
	testInputs  = [][]byte{[]byte("te[replace]st"), allBytes(), []byte("[replace]warxim[replace]")}
	testOutputs = [][]byte{[]byte("te[value]st"), allBytes(), []byte("[value]warxim[value]")}
)
