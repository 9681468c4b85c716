package proxifier

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/Warxim/deluder/sock"
)

// chunkReader hands out one chunk per Read.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func chunks(parts ...string) *chunkReader {
	r := &chunkReader{}
	for _, p := range parts {
		r.chunks = append(r.chunks, []byte(p))
	}
	return r
}

func TestSuffixStrategy(t *testing.T) {
	s, err := NewStrategy(StrategySuffix, map[string]any{"bufferSize": 4, "value": "[D_END]"})
	if err != nil {
		t.Fatal(err)
	}
	var w bytes.Buffer
	got, err := s.Exchange([]byte("hello"), &w, chunks("hel", "lo[D_", "END]"))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if w.String() != "hello[D_END]" {
		t.Errorf("wire = %q", w.String())
	}
	if string(got) != "hello" {
		t.Errorf("result = %q", got)
	}
}

func TestSuffixStrategyConnectionLost(t *testing.T) {
	s, _ := NewStrategy(StrategySuffix, map[string]any{"bufferSize": 4, "value": "[D_END]"})
	_, err := s.Exchange([]byte("x"), io.Discard, chunks("x[D_"))
	if !errors.Is(err, sock.ErrConnectionLost) {
		t.Errorf("error = %v, want ErrConnectionLost", err)
	}
}

func TestLengthStrategy(t *testing.T) {
	s, _ := NewStrategy(StrategyLength, nil)
	var w bytes.Buffer
	got, err := s.Exchange([]byte("hello"), &w, chunks("\x00\x00", "\x00\x03a", "bc"))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if w.String() != "\x00\x00\x00\x05hello" {
		t.Errorf("wire = %q", w.String())
	}
	if string(got) != "abc" {
		t.Errorf("result = %q", got)
	}

	if _, err := s.Exchange(nil, io.Discard, chunks("\x00\x00\x00\x09ab")); !errors.Is(err, sock.ErrConnectionLost) {
		t.Errorf("short body error = %v", err)
	}
}

func TestBufferStrategy(t *testing.T) {
	s, _ := NewStrategy(StrategyBuffer, map[string]any{"bufferSize": 3})
	var w bytes.Buffer
	got, err := s.Exchange([]byte("hello"), &w, chunks("abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if w.String() != "hello" || string(got) != "abc" {
		t.Errorf("wire = %q result = %q", w.String(), got)
	}

	if _, err := s.Exchange([]byte("x"), io.Discard, chunks()); !errors.Is(err, sock.ErrConnectionLost) {
		t.Errorf("zero read error = %v", err)
	}
}

func TestNewStrategyValidation(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{StrategyBuffer, map[string]any{"bufferSize": 0}},
		{StrategySuffix, map[string]any{"bufferSize": 8}},
		{StrategySuffix, map[string]any{"value": "x"}},
		{"chunked", nil},
	}
	for _, tt := range tests {
		if _, err := NewStrategy(tt.name, tt.settings); err == nil {
			t.Errorf("NewStrategy(%s, %v) succeeded", tt.name, tt.settings)
		}
	}
}
