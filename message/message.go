package message

import (
	"fmt"
)

// Kind tells what a captured message represents.
type Kind int

const (
	Send Kind = iota + 1
	Recv
	Close
)

func (k Kind) String() string {
	switch k {
	case Send:
		return "send"
	case Recv:
		return "recv"
	case Close:
		return "close"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Code is the single-letter form used by the capture scripts.
func (k Kind) Code() string {
	switch k {
	case Send:
		return "s"
	case Recv:
		return "r"
	case Close:
		return "c"
	}
	return ""
}

// ParseKind maps a script code to a Kind.
func ParseKind(code string) (Kind, bool) {
	switch code {
	case "s":
		return Send, true
	case "r":
		return Recv, true
	case "c":
		return Close, true
	}
	return 0, false
}

// Message is one captured event flowing through the interceptor chain.
// Kind and ID are fixed at construction; interceptors replace the payload
// wholesale through SetPayload.
type Message struct {
	id       string
	kind     Kind
	Metadata Metadata
	payload  []byte
}

func NewSend(id string, md Metadata, payload []byte) *Message {
	return &Message{id: id, kind: Send, Metadata: md, payload: payload}
}

func NewRecv(id string, md Metadata, payload []byte) *Message {
	return &Message{id: id, kind: Recv, Metadata: md, payload: payload}
}

func NewClose(id string, md Metadata) *Message {
	return &Message{id: id, kind: Close, Metadata: md}
}

func (m *Message) ID() string { return m.id }

func (m *Message) Kind() Kind { return m.kind }

// IsData reports whether the message carries a payload.
func (m *Message) IsData() bool { return m.kind == Send || m.kind == Recv }

func (m *Message) Payload() []byte { return m.payload }

// SetPayload replaces the payload. It is a no-op on close messages.
func (m *Message) SetPayload(p []byte) {
	if !m.IsData() {
		return
	}
	if p == nil {
		p = []byte{}
	}
	m.payload = p
}

func (m *Message) String() string {
	if m.IsData() {
		return fmt.Sprintf("%s(id=%s, metadata=%s, data=%d bytes)", m.kind, m.id, m.Metadata, len(m.payload))
	}
	return fmt.Sprintf("%s(id=%s, metadata=%s)", m.kind, m.id, m.Metadata)
}
