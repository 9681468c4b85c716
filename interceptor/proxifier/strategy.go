package proxifier

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/interceptor"
	"github.com/Warxim/deluder/sock"
)

const (
	StrategyBuffer = "buffer"
	StrategySuffix = "suffix"
	StrategyLength = "length"
)

// Strategy decides how a message is delimited while it travels through the
// proxy: it writes data on one socket and reads the (possibly modified)
// message back on the other.
type Strategy interface {
	Name() string
	Exchange(data []byte, w io.Writer, r io.Reader) ([]byte, error)
}

type StrategyConfig struct {
	BufferSize int    `json:"bufferSize"`
	Value      string `json:"value"`
}

// NewStrategy builds the named strategy from its settings.
func NewStrategy(name string, settings map[string]any) (Strategy, error) {
	var cfg StrategyConfig
	if err := config.Decode(settings, &cfg); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}

	switch name {
	case StrategyBuffer:
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("strategy %s: bufferSize must be positive", name)
		}
		return &BufferStrategy{BufferSize: cfg.BufferSize}, nil
	case StrategySuffix:
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("strategy %s: bufferSize must be positive", name)
		}
		if cfg.Value == "" {
			return nil, fmt.Errorf("strategy %s: value must not be empty", name)
		}
		return &SuffixStrategy{BufferSize: cfg.BufferSize, Suffix: []byte(cfg.Value)}, nil
	case StrategyLength:
		return &LengthStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: %q", interceptor.ErrUnknownStrategy, name)
}

// BufferStrategy relies on the whole message fitting in one read.
type BufferStrategy struct {
	BufferSize int
}

func (s *BufferStrategy) Name() string { return StrategyBuffer }

func (s *BufferStrategy) Exchange(data []byte, w io.Writer, r io.Reader) ([]byte, error) {
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	return sock.ReadSome(r, s.BufferSize)
}

// SuffixStrategy appends a marker to every message and reads until the
// marker comes back.
type SuffixStrategy struct {
	BufferSize int
	Suffix     []byte
}

func (s *SuffixStrategy) Name() string { return StrategySuffix }

func (s *SuffixStrategy) Exchange(data []byte, w io.Writer, r io.Reader) ([]byte, error) {
	out := make([]byte, 0, len(data)+len(s.Suffix))
	out = append(append(out, data...), s.Suffix...)
	if _, err := w.Write(out); err != nil {
		return nil, err
	}

	var total []byte
	for !bytes.HasSuffix(total, s.Suffix) {
		chunk, err := sock.ReadSome(r, s.BufferSize)
		if err != nil {
			return nil, err
		}
		total = append(total, chunk...)
	}
	return total[:len(total)-len(s.Suffix)], nil
}

// LengthStrategy prefixes every message with its 4-byte big-endian length.
type LengthStrategy struct{}

func (s *LengthStrategy) Name() string { return StrategyLength }

func (s *LengthStrategy) Exchange(data []byte, w io.Writer, r io.Reader) ([]byte, error) {
	out := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	if _, err := w.Write(append(out, data...)); err != nil {
		return nil, err
	}

	hdr, err := sock.ReadExact(r, 4)
	if err != nil {
		return nil, err
	}
	n, err := sock.Length(hdr)
	if err != nil {
		return nil, err
	}
	return sock.ReadExact(r, n)
}
