package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ByteList is a payload that travels as a JSON array of byte values and as a
// CBOR byte string.
type ByteList []byte

func (b ByteList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, c := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(c)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *ByteList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var vals []int
	if err := json.Unmarshal(data, &vals); err != nil {
		return fmt.Errorf("byte list: %w", err)
	}
	out := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte list: value %d at %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Response is posted back to the capture point for every data message.
// Type equals ID; the capture script waits on a message of that type.
type Response struct {
	Type     string   `json:"type" cbor:"type"`
	ID       string   `json:"id" cbor:"id"`
	Data     ByteList `json:"data" cbor:"data"`
	Metadata Metadata `json:"metadata" cbor:"metadata"`
}

// NewResponse builds the response for a data message.
func NewResponse(m *Message) Response {
	data := m.Payload()
	if data == nil {
		data = []byte{}
	}
	return Response{Type: m.ID(), ID: m.ID(), Data: data, Metadata: m.Metadata}
}

// Origin is the capture point a message came from.
type Origin interface {
	// ID identifies the capture point, typically the process id.
	ID() string
	Post(Response) error
}
