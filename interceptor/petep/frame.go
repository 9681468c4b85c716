package petep

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Warxim/deluder/sock"
)

// FrameType is the first byte of every frame exchanged with PETEP.
type FrameType byte

const (
	FrameConnectionInfo FrameType = 1
	FrameDataC2S        FrameType = 2
	FrameDataS2C        FrameType = 3
)

const headerSize = 5

func (t FrameType) String() string {
	switch t {
	case FrameConnectionInfo:
		return "connection-info"
	case FrameDataC2S:
		return "c2s"
	case FrameDataS2C:
		return "s2c"
	}
	return fmt.Sprintf("frame(%d)", byte(t))
}

type Frame struct {
	Type    FrameType
	Payload []byte
}

// AppendFrame appends [type][4B big-endian length][payload] to dst.
func AppendFrame(dst []byte, t FrameType, payload []byte) []byte {
	dst = append(dst, byte(t))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, headerSize+len(payload)), t, payload))
	return err
}

// ReadFrame reads one complete frame. The peer closing mid-frame yields
// sock.ErrConnectionLost.
func ReadFrame(r io.Reader) (Frame, error) {
	header, err := sock.ReadExact(r, headerSize)
	if err != nil {
		return Frame{}, err
	}
	length, err := sock.Length(header[1:])
	if err != nil {
		return Frame{}, err
	}
	payload, err := sock.ReadExact(r, length)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameType(header[0]), Payload: payload}, nil
}
